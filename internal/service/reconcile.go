package service

import (
	"context"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/onexay/swiftpkgindex/internal/pkgurl"
	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

// ReconcileResult describes how the indexed package list differs from the
// submitted one.
type ReconcileResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Invalid []string `json:"invalid,omitempty"`
	Diff    string   `json:"diff,omitempty"`
	DryRun  bool     `json:"dryRun"`
}

// Reconcile makes the index track exactly urls: packages missing from the
// index are added and indexed packages absent from urls are deleted. With
// dryRun set only the difference is reported.
func (s *Service) Reconcile(ctx context.Context, urls []string, dryRun bool) (ReconcileResult, error) {
	result := ReconcileResult{Added: []string{}, Removed: []string{}, DryRun: dryRun}

	desired := make(map[string]string, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		url, owner, name, err := pkgurl.Split(raw)
		if err != nil {
			result.Invalid = append(result.Invalid, raw)
			continue
		}
		desired[pkgurl.Key(owner, name)] = url
	}

	existing, err := s.store.ListPackages(ctx, storage.ListPackagesOptions{})
	if err != nil {
		return ReconcileResult{}, err
	}
	current := make(map[string]types.Package, len(existing))
	for _, pkg := range existing {
		current[pkgurl.Key(pkg.Owner, pkg.Name)] = pkg
	}

	for key, url := range desired {
		if _, ok := current[key]; !ok {
			result.Added = append(result.Added, url)
		}
	}
	var removed []types.Package
	for key, pkg := range current {
		if _, ok := desired[key]; !ok {
			result.Removed = append(result.Removed, pkg.URL)
			removed = append(removed, pkg)
		}
	}
	slices.Sort(result.Added)
	slices.Sort(result.Removed)

	before := make([]string, 0, len(current))
	for _, pkg := range existing {
		before = append(before, pkg.URL)
	}
	after := make([]string, 0, len(desired))
	for key, url := range desired {
		if pkg, ok := current[key]; ok {
			url = pkg.URL
		}
		after = append(after, url)
	}
	result.Diff = computeDiff(sortedLines(before), sortedLines(after))

	if dryRun {
		return result, nil
	}

	for _, url := range result.Added {
		if _, err := s.store.AddPackage(ctx, url); err != nil {
			return ReconcileResult{}, err
		}
	}
	for _, pkg := range removed {
		if err := s.deletePackage(ctx, pkg); err != nil {
			return ReconcileResult{}, err
		}
	}
	s.log.Info().
		Int("added", len(result.Added)).
		Int("removed", len(result.Removed)).
		Int("invalid", len(result.Invalid)).
		Msg("package list reconciled")
	return result, nil
}

func sortedLines(urls []string) string {
	slices.SortFunc(urls, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	if len(urls) == 0 {
		return ""
	}
	return strings.Join(urls, "\n") + "\n"
}

func computeDiff(previous, current string) string {
	if previous == current {
		return ""
	}

	d := difflib.UnifiedDiff{
		A:        splitLines(previous),
		B:        splitLines(current),
		FromFile: "indexed",
		ToFile:   "submitted",
		Context:  3,
	}

	res, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(res)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(strings.TrimSuffix(s, "\n"))
}
