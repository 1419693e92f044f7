package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onexay/swiftpkgindex/internal/pkgurl"
	"github.com/onexay/swiftpkgindex/internal/types"
)

// Store defines the persistence operations for packages, versions and builds.
type Store interface {
	AddPackage(ctx context.Context, url string) (types.Package, error)
	GetPackage(ctx context.Context, id uuid.UUID) (types.Package, error)
	GetPackageByName(ctx context.Context, owner, name string) (types.Package, error)
	ListPackages(ctx context.Context, opts ListPackagesOptions) ([]types.Package, error)
	DeletePackage(ctx context.Context, id uuid.UUID) error

	UpsertRepository(ctx context.Context, repo types.Repository) (types.Repository, error)
	GetRepository(ctx context.Context, packageID uuid.UUID) (types.Repository, error)

	UpsertVersion(ctx context.Context, req VersionRequest) (types.Version, error)
	GetVersion(ctx context.Context, id uuid.UUID) (types.Version, error)
	ListVersions(ctx context.Context, packageID uuid.UUID) ([]types.Version, error)
	// SetLatest makes versionID the only version of the package holding kind.
	// uuid.Nil clears the kind.
	SetLatest(ctx context.Context, packageID uuid.UUID, kind types.VersionKind, versionID uuid.UUID) error

	CreateBuild(ctx context.Context, req BuildRequest) (types.Build, error)
	CompleteBuild(ctx context.Context, id uuid.UUID, report BuildReport) (types.Build, error)
	GetBuild(ctx context.Context, id uuid.UUID) (types.Build, error)
	FindBuild(ctx context.Context, versionID uuid.UUID, platform types.Platform, swift types.SwiftVersion) (types.Build, error)
	ListBuilds(ctx context.Context, versionIDs []uuid.UUID) ([]types.Build, error)
	// SignificantBuilds returns the versions holding a latest kind and their builds.
	SignificantBuilds(ctx context.Context, packageID uuid.UUID) ([]types.Version, []types.Build, error)

	Close() error
}

// memoryStore provides an in-memory fallback for development and testing.
type memoryStore struct {
	mu           sync.RWMutex
	clock        func() time.Time
	packages     map[uuid.UUID]types.Package
	packageNames map[string]uuid.UUID // lower(owner/name) -> package
	repositories map[uuid.UUID]types.Repository
	versions     map[uuid.UUID]types.Version
	versionSlots map[string]uuid.UUID
	builds       map[uuid.UUID]types.Build
	buildSlots   map[string]uuid.UUID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(opts Options) Store {
	return &memoryStore{
		clock:        opts.clock(),
		packages:     make(map[uuid.UUID]types.Package),
		packageNames: make(map[string]uuid.UUID),
		repositories: make(map[uuid.UUID]types.Repository),
		versions:     make(map[uuid.UUID]types.Version),
		versionSlots: make(map[string]uuid.UUID),
		builds:       make(map[uuid.UUID]types.Build),
		buildSlots:   make(map[string]uuid.UUID),
	}
}

func (m *memoryStore) AddPackage(ctx context.Context, rawURL string) (types.Package, error) {
	url, owner, name, err := pkgurl.Split(rawURL)
	if err != nil {
		return types.Package{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := pkgurl.Key(owner, name)
	if _, exists := m.packageNames[key]; exists {
		return types.Package{}, alreadyExists("package", key)
	}

	now := m.clock().UTC()
	pkg := types.Package{
		ID:        uuid.New(),
		URL:       url,
		Owner:     owner,
		Name:      name,
		Status:    types.PackageStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.packages[pkg.ID] = pkg
	m.packageNames[key] = pkg.ID
	return pkg, nil
}

func (m *memoryStore) GetPackage(ctx context.Context, id uuid.UUID) (types.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.packages[id]
	if !ok {
		return types.Package{}, notFound("package", id.String())
	}
	return pkg, nil
}

func (m *memoryStore) GetPackageByName(ctx context.Context, owner, name string) (types.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := pkgurl.Key(owner, name)
	id, ok := m.packageNames[key]
	if !ok {
		return types.Package{}, notFound("package", key)
	}
	return m.packages[id], nil
}

func (m *memoryStore) ListPackages(ctx context.Context, opts ListPackagesOptions) ([]types.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Package, 0, len(m.packages))
	for _, pkg := range m.packages {
		if matchesPackage(pkg, opts) {
			result = append(result, pkg)
		}
	}
	sortPackages(result)
	return limitPackages(result, opts.Limit), nil
}

func (m *memoryStore) DeletePackage(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[id]
	if !ok {
		return notFound("package", id.String())
	}
	for vid, v := range m.versions {
		if v.PackageID != id {
			continue
		}
		for bid, b := range m.builds {
			if b.VersionID == vid {
				delete(m.buildSlots, buildSlot(vid, b.Platform, b.SwiftVersion))
				delete(m.builds, bid)
			}
		}
		delete(m.versionSlots, versionSlot(id, v.Reference, v.CommitHash))
		delete(m.versions, vid)
	}
	delete(m.repositories, id)
	delete(m.packageNames, pkgurl.Key(pkg.Owner, pkg.Name))
	delete(m.packages, id)
	return nil
}

func (m *memoryStore) UpsertRepository(ctx context.Context, repo types.Repository) (types.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[repo.PackageID]
	if !ok {
		return types.Repository{}, notFound("package", repo.PackageID.String())
	}
	repo.Owner = pkg.Owner
	repo.Name = pkg.Name
	repo.UpdatedAt = m.clock().UTC()
	m.repositories[repo.PackageID] = repo
	return repo, nil
}

func (m *memoryStore) GetRepository(ctx context.Context, packageID uuid.UUID) (types.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	repo, ok := m.repositories[packageID]
	if !ok {
		return types.Repository{}, notFound("repository", packageID.String())
	}
	return repo, nil
}

func (m *memoryStore) UpsertVersion(ctx context.Context, req VersionRequest) (types.Version, error) {
	if err := req.validate(); err != nil {
		return types.Version{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.packages[req.PackageID]; !ok {
		return types.Version{}, notFound("package", req.PackageID.String())
	}

	now := m.clock().UTC()
	slot := versionSlot(req.PackageID, req.Reference, req.CommitHash)
	if id, ok := m.versionSlots[slot]; ok {
		v := m.versions[id]
		v.CommitDate = req.CommitDate
		v.PackageName = req.PackageName
		v.ToolsVersion = req.ToolsVersion
		v.UpdatedAt = now
		m.versions[id] = v
		return v, nil
	}

	v := types.Version{
		ID:           uuid.New(),
		PackageID:    req.PackageID,
		Reference:    req.Reference,
		CommitHash:   req.CommitHash,
		CommitDate:   req.CommitDate,
		PackageName:  req.PackageName,
		ToolsVersion: req.ToolsVersion,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.versions[v.ID] = v
	m.versionSlots[slot] = v.ID
	return v, nil
}

func (m *memoryStore) GetVersion(ctx context.Context, id uuid.UUID) (types.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.versions[id]
	if !ok {
		return types.Version{}, notFound("version", id.String())
	}
	return v, nil
}

func (m *memoryStore) ListVersions(ctx context.Context, packageID uuid.UUID) ([]types.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Version, 0)
	for _, v := range m.versions {
		if v.PackageID == packageID {
			result = append(result, v)
		}
	}
	sortVersions(result)
	return result, nil
}

func (m *memoryStore) SetLatest(ctx context.Context, packageID uuid.UUID, kind types.VersionKind, versionID uuid.UUID) error {
	if _, err := types.ParseVersionKind(string(kind)); err != nil {
		return invalidArgument(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if versionID != uuid.Nil {
		target, ok := m.versions[versionID]
		if !ok || target.PackageID != packageID {
			return notFound("version", versionID.String())
		}
	}

	now := m.clock().UTC()
	for id, v := range m.versions {
		if v.PackageID != packageID {
			continue
		}
		switch {
		case id == versionID && v.Latest != kind:
			v.Latest = kind
		case id != versionID && v.Latest == kind:
			v.Latest = ""
		default:
			continue
		}
		v.UpdatedAt = now
		m.versions[id] = v
	}
	return nil
}

func (m *memoryStore) CreateBuild(ctx context.Context, req BuildRequest) (types.Build, error) {
	if err := req.validate(); err != nil {
		return types.Build{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.versions[req.VersionID]; !ok {
		return types.Build{}, notFound("version", req.VersionID.String())
	}
	slot := buildSlot(req.VersionID, req.Platform, req.SwiftVersion)
	if _, exists := m.buildSlots[slot]; exists {
		return types.Build{}, alreadyExists("build", slot)
	}

	now := m.clock().UTC()
	b := types.Build{
		ID:           uuid.New(),
		VersionID:    req.VersionID,
		Platform:     req.Platform,
		SwiftVersion: req.SwiftVersion,
		Status:       types.BuildStatusPending,
		BuildCommand: req.BuildCommand,
		JobURL:       req.JobURL,
		RunnerID:     req.RunnerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.builds[b.ID] = b
	m.buildSlots[slot] = b.ID
	return b, nil
}

func (m *memoryStore) CompleteBuild(ctx context.Context, id uuid.UUID, report BuildReport) (types.Build, error) {
	if err := report.validate(); err != nil {
		return types.Build{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.builds[id]
	if !ok {
		return types.Build{}, notFound("build", id.String())
	}
	if b.Status.IsTerminal() {
		return types.Build{}, failedPrecondition("build " + id.String() + " already finished with status " + string(b.Status))
	}
	b = applyReport(b, report, m.clock().UTC())
	m.builds[id] = b
	return b, nil
}

func (m *memoryStore) GetBuild(ctx context.Context, id uuid.UUID) (types.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.builds[id]
	if !ok {
		return types.Build{}, notFound("build", id.String())
	}
	return b, nil
}

func (m *memoryStore) FindBuild(ctx context.Context, versionID uuid.UUID, platform types.Platform, swift types.SwiftVersion) (types.Build, error) {
	platform = canonicalPlatform(platform)

	m.mu.RLock()
	defer m.mu.RUnlock()

	slot := buildSlot(versionID, platform, swift)
	id, ok := m.buildSlots[slot]
	if !ok {
		return types.Build{}, notFound("build", slot)
	}
	return m.builds[id], nil
}

func (m *memoryStore) ListBuilds(ctx context.Context, versionIDs []uuid.UUID) ([]types.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.buildsForLocked(versionIDs), nil
}

func (m *memoryStore) SignificantBuilds(ctx context.Context, packageID uuid.UUID) ([]types.Version, []types.Build, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := make([]types.Version, 0, 3)
	ids := make([]uuid.UUID, 0, 3)
	for _, v := range m.versions {
		if v.PackageID == packageID && v.IsSignificant() {
			versions = append(versions, v)
			ids = append(ids, v.ID)
		}
	}
	sortVersions(versions)
	return versions, m.buildsForLocked(ids), nil
}

func (m *memoryStore) buildsForLocked(versionIDs []uuid.UUID) []types.Build {
	result := make([]types.Build, 0)
	for _, b := range m.builds {
		if slices.Contains(versionIDs, b.VersionID) {
			result = append(result, b)
		}
	}
	sortBuilds(result)
	return result
}

func (m *memoryStore) Close() error { return nil }

func matchesPackage(pkg types.Package, opts ListPackagesOptions) bool {
	if opts.Owner != "" && !strings.EqualFold(pkg.Owner, opts.Owner) {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		if !strings.Contains(strings.ToLower(pkg.Owner+"/"+pkg.Name), q) {
			return false
		}
	}
	return true
}

func sortPackages(pkgs []types.Package) {
	slices.SortFunc(pkgs, func(a, b types.Package) int {
		return strings.Compare(pkgurl.Key(a.Owner, a.Name), pkgurl.Key(b.Owner, b.Name))
	})
}

func limitPackages(pkgs []types.Package, limit int) []types.Package {
	if limit > 0 && len(pkgs) > limit {
		return pkgs[:limit]
	}
	return pkgs
}

func sortVersions(versions []types.Version) {
	slices.SortFunc(versions, func(a, b types.Version) int {
		if c := b.CommitDate.Compare(a.CommitDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

func sortBuilds(builds []types.Build) {
	slices.SortFunc(builds, func(a, b types.Build) int {
		if c := strings.Compare(a.VersionID.String(), b.VersionID.String()); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Platform), string(b.Platform)); c != 0 {
			return c
		}
		return b.SwiftVersion.Compare(a.SwiftVersion)
	})
}
