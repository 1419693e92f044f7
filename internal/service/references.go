package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onexay/swiftpkgindex/internal/semver"
	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

// ReferenceInput is one git reference observed on the package repository.
type ReferenceInput struct {
	Reference    types.Reference `json:"reference"`
	CommitHash   string          `json:"commitHash"`
	CommitDate   time.Time       `json:"commitDate"`
	PackageName  string          `json:"packageName,omitempty"`
	ToolsVersion string          `json:"toolsVersion,omitempty"`
}

// IngestRequest carries the complete current reference set of a package.
// DefaultBranch falls back to the repository metadata and then to the only
// branch in References.
type IngestRequest struct {
	DefaultBranch string           `json:"defaultBranch,omitempty"`
	References    []ReferenceInput `json:"references"`
}

// IngestResult reports the versions now holding each latest kind.
type IngestResult struct {
	Ingested      int            `json:"ingested"`
	Release       *types.Version `json:"release,omitempty"`
	PreRelease    *types.Version `json:"preRelease,omitempty"`
	DefaultBranch *types.Version `json:"defaultBranch,omitempty"`
}

type candidate struct {
	version types.Version
	semver  *semver.Version
}

// IngestReferences upserts a version per reference and reassigns the latest
// pointers. References missing from the request lose any kind they held.
func (s *Service) IngestReferences(ctx context.Context, owner, name string, req IngestRequest) (IngestResult, error) {
	pkg, err := s.packageByName(ctx, owner, name)
	if err != nil {
		return IngestResult{}, err
	}
	for i, in := range req.References {
		if err := in.Reference.Validate(); err != nil {
			return IngestResult{}, badRequestCause("reference "+strconv.Itoa(i)+" is invalid", err)
		}
		if strings.TrimSpace(in.CommitHash) == "" {
			return IngestResult{}, badRequest("reference " + in.Reference.String() + " has no commit hash")
		}
	}

	defaultBranch := strings.TrimSpace(req.DefaultBranch)
	if defaultBranch == "" {
		repo, err := s.store.GetRepository(ctx, pkg.ID)
		switch {
		case err == nil:
			defaultBranch = repo.DefaultBranch
		case !storage.IsNotFound(err):
			return IngestResult{}, err
		}
	}

	var release, preRelease, branch *candidate
	branches := make(map[string]struct{})
	var onlyBranch *candidate

	for _, in := range req.References {
		v, err := s.store.UpsertVersion(ctx, storage.VersionRequest{
			PackageID:    pkg.ID,
			Reference:    in.Reference,
			CommitHash:   in.CommitHash,
			CommitDate:   in.CommitDate,
			PackageName:  in.PackageName,
			ToolsVersion: in.ToolsVersion,
		})
		if err != nil {
			return IngestResult{}, err
		}
		c := &candidate{version: v, semver: in.Reference.SemVer()}

		switch in.Reference.Kind() {
		case types.KindRelease:
			if newer(c, release) {
				release = c
			}
		case types.KindPreRelease:
			if newer(c, preRelease) {
				preRelease = c
			}
		case types.KindDefaultBranch:
			branches[in.Reference.Branch] = struct{}{}
			if in.Reference.Branch == defaultBranch && newerCommit(c, branch) {
				branch = c
			}
			if newerCommit(c, onlyBranch) {
				onlyBranch = c
			}
		}
	}
	if branch == nil && defaultBranch == "" && len(branches) == 1 {
		branch = onlyBranch
	}
	if preRelease != nil && release != nil && semver.Compare(preRelease.semver, release.semver) <= 0 {
		preRelease = nil
	}

	result := IngestResult{Ingested: len(req.References)}
	assignments := []struct {
		kind types.VersionKind
		c    *candidate
		dst  **types.Version
	}{
		{types.KindRelease, release, &result.Release},
		{types.KindPreRelease, preRelease, &result.PreRelease},
		{types.KindDefaultBranch, branch, &result.DefaultBranch},
	}
	for _, a := range assignments {
		id := uuid.Nil
		if a.c != nil {
			id = a.c.version.ID
		}
		if err := s.store.SetLatest(ctx, pkg.ID, a.kind, id); err != nil {
			return IngestResult{}, err
		}
		if a.c == nil {
			continue
		}
		v, err := s.store.GetVersion(ctx, id)
		if err != nil {
			return IngestResult{}, err
		}
		*a.dst = &v
		s.log.Debug().
			Str("package", pkg.Owner+"/"+pkg.Name).
			Str("kind", string(a.kind)).
			Str("reference", v.Reference.String()).
			Msg("latest version assigned")
	}
	return result, nil
}

// newer prefers the higher semantic version, then the later commit.
func newer(c, current *candidate) bool {
	if current == nil {
		return true
	}
	if cmp := semver.Compare(c.semver, current.semver); cmp != 0 {
		return cmp > 0
	}
	return c.version.CommitDate.After(current.version.CommitDate)
}

func newerCommit(c, current *candidate) bool {
	return current == nil || c.version.CommitDate.After(current.version.CommitDate)
}
