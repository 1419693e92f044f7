package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/onexay/swiftpkgindex/internal/compat"
	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// PackageInfo is the package page payload.
type PackageInfo struct {
	Package       types.Package                               `json:"package"`
	Repository    *types.Repository                           `json:"repository,omitempty"`
	Versions      []types.Version                             `json:"versions"`
	Platforms     compat.Result[types.PlatformCompatibility] `json:"platformCompatibility"`
	SwiftVersions compat.Result[types.SwiftVersion]          `json:"swiftVersionCompatibility"`
}

// PackageSummary is a search or author listing entry.
type PackageSummary struct {
	ID      uuid.UUID `json:"id"`
	URL     string    `json:"url"`
	Owner   string    `json:"owner"`
	Name    string    `json:"name"`
	Summary string    `json:"summary,omitempty"`
	Stars   int       `json:"stars"`
}

// AddPackage registers a package by its repository URL.
func (s *Service) AddPackage(ctx context.Context, url string) (types.Package, error) {
	pkg, err := s.store.AddPackage(ctx, url)
	if err != nil {
		return types.Package{}, err
	}
	s.log.Info().Str("package", pkg.Owner+"/"+pkg.Name).Str("id", pkg.ID.String()).Msg("package added")
	return pkg, nil
}

// GetPackage assembles the package, its repository metadata, the significant
// versions and the reduced compatibility of their builds.
func (s *Service) GetPackage(ctx context.Context, owner, name string) (PackageInfo, error) {
	pkg, err := s.packageByName(ctx, owner, name)
	if err != nil {
		return PackageInfo{}, err
	}

	info := PackageInfo{Package: pkg}
	repo, err := s.store.GetRepository(ctx, pkg.ID)
	switch {
	case err == nil:
		info.Repository = &repo
	case !storage.IsNotFound(err):
		return PackageInfo{}, err
	}

	versions, builds, err := s.store.SignificantBuilds(ctx, pkg.ID)
	if err != nil {
		return PackageInfo{}, err
	}
	info.Versions = versions
	info.Platforms = compat.ReducePlatforms(builds)
	info.SwiftVersions = compat.ReduceSwiftVersions(builds)
	return info, nil
}

// ListPackages lists packages, optionally filtered.
func (s *Service) ListPackages(ctx context.Context, opts storage.ListPackagesOptions) ([]types.Package, error) {
	return s.store.ListPackages(ctx, opts)
}

// DeletePackage removes a package with its versions, builds and build logs.
func (s *Service) DeletePackage(ctx context.Context, owner, name string) error {
	pkg, err := s.packageByName(ctx, owner, name)
	if err != nil {
		return err
	}
	if err := s.deletePackage(ctx, pkg); err != nil {
		return err
	}
	s.log.Info().Str("package", pkg.Owner+"/"+pkg.Name).Msg("package deleted")
	return nil
}

func (s *Service) deletePackage(ctx context.Context, pkg types.Package) error {
	versions, err := s.store.ListVersions(ctx, pkg.ID)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.ID)
	}
	builds, err := s.store.ListBuilds(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.store.DeletePackage(ctx, pkg.ID); err != nil {
		return err
	}
	s.removeLogs(ctx, builds)
	return nil
}

// UpdateRepository replaces the hosting metadata mirrored for a package.
func (s *Service) UpdateRepository(ctx context.Context, owner, name string, repo types.Repository) (types.Repository, error) {
	pkg, err := s.packageByName(ctx, owner, name)
	if err != nil {
		return types.Repository{}, err
	}
	if repo.Stars < 0 || repo.Forks < 0 {
		return types.Repository{}, badRequest("stars and forks must not be negative")
	}
	repo.PackageID = pkg.ID
	return s.store.UpsertRepository(ctx, repo)
}

// Search matches query against owner/name, case-insensitively.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]PackageSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, badRequest("query is required")
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}
	pkgs, err := s.store.ListPackages(ctx, storage.ListPackagesOptions{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, pkgs)
}

// PackagesByOwner lists every package of an owner. Unknown owners are not found.
func (s *Service) PackagesByOwner(ctx context.Context, owner string) ([]PackageSummary, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, badRequest("owner is required")
	}
	pkgs, err := s.store.ListPackages(ctx, storage.ListPackagesOptions{Owner: owner})
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, notFound("owner " + owner + " has no packages")
	}
	return s.summarize(ctx, pkgs)
}

func (s *Service) summarize(ctx context.Context, pkgs []types.Package) ([]PackageSummary, error) {
	result := make([]PackageSummary, 0, len(pkgs))
	for _, pkg := range pkgs {
		entry := PackageSummary{ID: pkg.ID, URL: pkg.URL, Owner: pkg.Owner, Name: pkg.Name}
		repo, err := s.store.GetRepository(ctx, pkg.ID)
		switch {
		case err == nil:
			entry.Summary = repo.Summary
			entry.Stars = repo.Stars
		case !storage.IsNotFound(err):
			return nil, err
		}
		result = append(result, entry)
	}
	return result, nil
}
