package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/onexay/swiftpkgindex/internal/pkgurl"
	"github.com/onexay/swiftpkgindex/internal/types"
)

type packageRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	URL       string    `gorm:"column:url;not null"`
	Owner     string    `gorm:"column:owner;index;not null"`
	Name      string    `gorm:"column:name;not null"`
	NameKey   string    `gorm:"column:name_key;uniqueIndex;not null"`
	Status    string    `gorm:"column:status;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (packageRecord) TableName() string { return "packages" }

type repositoryRecord struct {
	PackageID      string     `gorm:"primaryKey;column:package_id;type:varchar(36)"`
	OwnerName      string     `gorm:"column:owner_name"`
	Summary        string     `gorm:"column:summary"`
	Stars          int        `gorm:"column:stars"`
	Forks          int        `gorm:"column:forks"`
	License        string     `gorm:"column:license"`
	DefaultBranch  string     `gorm:"column:default_branch"`
	LastActivityAt *time.Time `gorm:"column:last_activity_at"`
	IsArchived     bool       `gorm:"column:is_archived"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (repositoryRecord) TableName() string { return "repositories" }

type versionRecord struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	PackageID    string    `gorm:"column:package_id;uniqueIndex:idx_version_slot,priority:1;index;not null"`
	RefKey       string    `gorm:"column:ref_key;uniqueIndex:idx_version_slot,priority:2;not null"`
	CommitHash   string    `gorm:"column:commit_hash;uniqueIndex:idx_version_slot,priority:3"`
	Branch       string    `gorm:"column:branch"`
	Tag          string    `gorm:"column:tag"`
	CommitDate   time.Time `gorm:"column:commit_date"`
	Latest       string    `gorm:"column:latest;index"`
	PackageName  string    `gorm:"column:package_name"`
	ToolsVersion string    `gorm:"column:tools_version"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (versionRecord) TableName() string { return "versions" }

type buildRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	VersionID     string    `gorm:"column:version_id;uniqueIndex:idx_build_slot,priority:1;not null"`
	Platform      string    `gorm:"column:platform;uniqueIndex:idx_build_slot,priority:2;not null"`
	SwiftSlot     string    `gorm:"column:swift_slot;uniqueIndex:idx_build_slot,priority:3;not null"`
	SwiftVersion  string    `gorm:"column:swift_version;not null"`
	Status        string    `gorm:"column:status;not null"`
	BuildCommand  string    `gorm:"column:build_command"`
	JobURL        string    `gorm:"column:job_url"`
	LogURL        string    `gorm:"column:log_url"`
	RunnerID      string    `gorm:"column:runner_id"`
	BuildDuration float64   `gorm:"column:build_duration"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (buildRecord) TableName() string { return "builds" }

type sqlStore struct {
	db    *gorm.DB
	clock func() time.Time
	log   zerolog.Logger
}

// SQLConfig defines relational database settings.
type SQLConfig struct {
	DSN string
}

// NewPostgresStore opens a Postgres-backed Store and migrates its schema.
func NewPostgresStore(cfg SQLConfig, opts Options) (Store, error) {
	if cfg.DSN == "" {
		return nil, invalidArgument("sql dsn is required")
	}
	return NewSQLStore(postgres.Open(cfg.DSN), opts)
}

// NewSQLStore opens a Store on any gorm dialector.
func NewSQLStore(dialector gorm.Dialector, opts Options) (Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return opts.clock()().UTC() },
	})
	if err != nil {
		return nil, internalError("open sql store", err)
	}
	if err := db.AutoMigrate(&packageRecord{}, &repositoryRecord{}, &versionRecord{}, &buildRecord{}); err != nil {
		return nil, internalError("migrate sql store", err)
	}
	return &sqlStore{db: db, clock: opts.clock(), log: opts.Logger}, nil
}

func (s *sqlStore) AddPackage(ctx context.Context, rawURL string) (types.Package, error) {
	url, owner, name, err := pkgurl.Split(rawURL)
	if err != nil {
		return types.Package{}, err
	}

	key := pkgurl.Key(owner, name)
	now := s.clock().UTC()
	rec := packageRecord{
		ID:        uuid.NewString(),
		URL:       url,
		Owner:     owner,
		Name:      name,
		NameKey:   key,
		Status:    string(types.PackageStatusNew),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&packageRecord{}).Where("name_key = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return alreadyExists("package", key)
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return types.Package{}, s.wrap("add package", "package", key, err)
	}
	return rec.toPackage(), nil
}

func (s *sqlStore) GetPackage(ctx context.Context, id uuid.UUID) (types.Package, error) {
	var rec packageRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id.String()).Error; err != nil {
		return types.Package{}, s.wrap("get package", "package", id.String(), err)
	}
	return rec.toPackage(), nil
}

func (s *sqlStore) GetPackageByName(ctx context.Context, owner, name string) (types.Package, error) {
	key := pkgurl.Key(owner, name)
	var rec packageRecord
	if err := s.db.WithContext(ctx).First(&rec, "name_key = ?", key).Error; err != nil {
		return types.Package{}, s.wrap("get package by name", "package", key, err)
	}
	return rec.toPackage(), nil
}

func (s *sqlStore) ListPackages(ctx context.Context, opts ListPackagesOptions) ([]types.Package, error) {
	q := s.db.WithContext(ctx).Model(&packageRecord{}).Order("name_key")
	if opts.Owner != "" {
		q = q.Where("LOWER(owner) = ?", strings.ToLower(opts.Owner))
	}
	if opts.Query != "" {
		q = q.Where("name_key LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(opts.Query))+"%")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var recs []packageRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, internalError("list packages", err)
	}
	pkgs := make([]types.Package, 0, len(recs))
	for _, rec := range recs {
		pkgs = append(pkgs, rec.toPackage())
	}
	return pkgs, nil
}

func (s *sqlStore) DeletePackage(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec packageRecord
		if err := tx.First(&rec, "id = ?", id.String()).Error; err != nil {
			return err
		}
		versionIDs := tx.Model(&versionRecord{}).Select("id").Where("package_id = ?", rec.ID)
		if err := tx.Where("version_id IN (?)", versionIDs).Delete(&buildRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("package_id = ?", rec.ID).Delete(&versionRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("package_id = ?", rec.ID).Delete(&repositoryRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&rec).Error
	})
	if err != nil {
		return s.wrap("delete package", "package", id.String(), err)
	}
	return nil
}

func (s *sqlStore) UpsertRepository(ctx context.Context, repo types.Repository) (types.Repository, error) {
	pkg, err := s.GetPackage(ctx, repo.PackageID)
	if err != nil {
		return types.Repository{}, err
	}
	repo.Owner = pkg.Owner
	repo.Name = pkg.Name
	repo.UpdatedAt = s.clock().UTC()

	rec := repositoryRecord{
		PackageID:      repo.PackageID.String(),
		OwnerName:      repo.OwnerName,
		Summary:        repo.Summary,
		Stars:          repo.Stars,
		Forks:          repo.Forks,
		License:        repo.License,
		DefaultBranch:  repo.DefaultBranch,
		LastActivityAt: repo.LastActivityAt,
		IsArchived:     repo.IsArchived,
		UpdatedAt:      repo.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return types.Repository{}, internalError("upsert repository", err)
	}
	return repo, nil
}

func (s *sqlStore) GetRepository(ctx context.Context, packageID uuid.UUID) (types.Repository, error) {
	var rec repositoryRecord
	if err := s.db.WithContext(ctx).First(&rec, "package_id = ?", packageID.String()).Error; err != nil {
		return types.Repository{}, s.wrap("get repository", "repository", packageID.String(), err)
	}
	pkg, err := s.GetPackage(ctx, packageID)
	if err != nil {
		return types.Repository{}, err
	}
	return types.Repository{
		PackageID:      packageID,
		Owner:          pkg.Owner,
		Name:           pkg.Name,
		OwnerName:      rec.OwnerName,
		Summary:        rec.Summary,
		Stars:          rec.Stars,
		Forks:          rec.Forks,
		License:        rec.License,
		DefaultBranch:  rec.DefaultBranch,
		LastActivityAt: rec.LastActivityAt,
		IsArchived:     rec.IsArchived,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

func (s *sqlStore) UpsertVersion(ctx context.Context, req VersionRequest) (types.Version, error) {
	if err := req.validate(); err != nil {
		return types.Version{}, err
	}
	if _, err := s.GetPackage(ctx, req.PackageID); err != nil {
		return types.Version{}, err
	}

	var rec versionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC()
		err := tx.Where("package_id = ? AND ref_key = ? AND commit_hash = ?",
			req.PackageID.String(), req.Reference.Key(), req.CommitHash).First(&rec).Error
		switch {
		case err == nil:
			rec.CommitDate = req.CommitDate
			rec.PackageName = req.PackageName
			rec.ToolsVersion = req.ToolsVersion
			rec.UpdatedAt = now
			return tx.Save(&rec).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		rec = versionRecord{
			ID:           uuid.NewString(),
			PackageID:    req.PackageID.String(),
			RefKey:       req.Reference.Key(),
			CommitHash:   req.CommitHash,
			Branch:       req.Reference.Branch,
			Tag:          req.Reference.Tag,
			CommitDate:   req.CommitDate,
			PackageName:  req.PackageName,
			ToolsVersion: req.ToolsVersion,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return types.Version{}, s.wrap("upsert version", "version", req.Reference.Key(), err)
	}
	return rec.toVersion(), nil
}

func (s *sqlStore) GetVersion(ctx context.Context, id uuid.UUID) (types.Version, error) {
	var rec versionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id.String()).Error; err != nil {
		return types.Version{}, s.wrap("get version", "version", id.String(), err)
	}
	return rec.toVersion(), nil
}

func (s *sqlStore) ListVersions(ctx context.Context, packageID uuid.UUID) ([]types.Version, error) {
	var recs []versionRecord
	if err := s.db.WithContext(ctx).Where("package_id = ?", packageID.String()).Find(&recs).Error; err != nil {
		return nil, internalError("list versions", err)
	}
	return toVersions(recs), nil
}

func (s *sqlStore) SetLatest(ctx context.Context, packageID uuid.UUID, kind types.VersionKind, versionID uuid.UUID) error {
	if _, err := types.ParseVersionKind(string(kind)); err != nil {
		return invalidArgument(err.Error())
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC()
		if versionID != uuid.Nil {
			var count int64
			if err := tx.Model(&versionRecord{}).
				Where("id = ? AND package_id = ?", versionID.String(), packageID.String()).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return notFound("version", versionID.String())
			}
		}
		if err := tx.Model(&versionRecord{}).
			Where("package_id = ? AND latest = ? AND id <> ?", packageID.String(), string(kind), versionID.String()).
			Updates(map[string]any{"latest": "", "updated_at": now}).Error; err != nil {
			return err
		}
		if versionID == uuid.Nil {
			return nil
		}
		return tx.Model(&versionRecord{}).
			Where("id = ? AND latest <> ?", versionID.String(), string(kind)).
			Updates(map[string]any{"latest": string(kind), "updated_at": now}).Error
	})
	if err != nil {
		return s.wrap("set latest", "version", versionID.String(), err)
	}
	return nil
}

func (s *sqlStore) CreateBuild(ctx context.Context, req BuildRequest) (types.Build, error) {
	if err := req.validate(); err != nil {
		return types.Build{}, err
	}
	if _, err := s.GetVersion(ctx, req.VersionID); err != nil {
		return types.Build{}, err
	}

	slot := buildSlot(req.VersionID, req.Platform, req.SwiftVersion)
	now := s.clock().UTC()
	rec := buildRecord{
		ID:           uuid.NewString(),
		VersionID:    req.VersionID.String(),
		Platform:     string(req.Platform),
		SwiftSlot:    swiftSlot(req.SwiftVersion),
		SwiftVersion: req.SwiftVersion.String(),
		Status:       string(types.BuildStatusPending),
		BuildCommand: req.BuildCommand,
		JobURL:       req.JobURL,
		RunnerID:     req.RunnerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&buildRecord{}).
			Where("version_id = ? AND platform = ? AND swift_slot = ?", rec.VersionID, rec.Platform, rec.SwiftSlot).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return alreadyExists("build", slot)
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return types.Build{}, s.wrap("create build", "build", slot, err)
	}
	return rec.toBuild()
}

func (s *sqlStore) CompleteBuild(ctx context.Context, id uuid.UUID, report BuildReport) (types.Build, error) {
	if err := report.validate(); err != nil {
		return types.Build{}, err
	}

	var result types.Build
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec buildRecord
		if err := tx.First(&rec, "id = ?", id.String()).Error; err != nil {
			return err
		}
		b, err := rec.toBuild()
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return failedPrecondition("build " + id.String() + " already finished with status " + string(b.Status))
		}
		b = applyReport(b, report, s.clock().UTC())
		res := tx.Model(&buildRecord{}).
			Where("id = ? AND status = ?", rec.ID, string(types.BuildStatusPending)).
			Updates(map[string]any{
				"status":         string(b.Status),
				"build_duration": b.BuildDuration,
				"log_url":        b.LogURL,
				"job_url":        b.JobURL,
				"runner_id":      b.RunnerID,
				"build_command":  b.BuildCommand,
				"updated_at":     b.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return failedPrecondition("build " + id.String() + " was completed concurrently")
		}
		result = b
		return nil
	})
	if err != nil {
		return types.Build{}, s.wrap("complete build", "build", id.String(), err)
	}
	return result, nil
}

func (s *sqlStore) GetBuild(ctx context.Context, id uuid.UUID) (types.Build, error) {
	var rec buildRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id.String()).Error; err != nil {
		return types.Build{}, s.wrap("get build", "build", id.String(), err)
	}
	return rec.toBuild()
}

func (s *sqlStore) FindBuild(ctx context.Context, versionID uuid.UUID, platform types.Platform, swift types.SwiftVersion) (types.Build, error) {
	platform = canonicalPlatform(platform)
	slot := buildSlot(versionID, platform, swift)
	var rec buildRecord
	err := s.db.WithContext(ctx).
		Where("version_id = ? AND platform = ? AND swift_slot = ?", versionID.String(), string(platform), swiftSlot(swift)).
		First(&rec).Error
	if err != nil {
		return types.Build{}, s.wrap("find build", "build", slot, err)
	}
	return rec.toBuild()
}

func (s *sqlStore) ListBuilds(ctx context.Context, versionIDs []uuid.UUID) ([]types.Build, error) {
	if len(versionIDs) == 0 {
		return []types.Build{}, nil
	}
	ids := make([]string, 0, len(versionIDs))
	for _, id := range versionIDs {
		ids = append(ids, id.String())
	}
	var recs []buildRecord
	if err := s.db.WithContext(ctx).Where("version_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, internalError("list builds", err)
	}
	return toBuilds(recs)
}

func (s *sqlStore) SignificantBuilds(ctx context.Context, packageID uuid.UUID) ([]types.Version, []types.Build, error) {
	var versionRecs []versionRecord
	if err := s.db.WithContext(ctx).
		Where("package_id = ? AND latest <> ''", packageID.String()).
		Find(&versionRecs).Error; err != nil {
		return nil, nil, internalError("significant versions", err)
	}

	var buildRecs []buildRecord
	if err := s.db.WithContext(ctx).
		Joins("JOIN versions ON versions.id = builds.version_id").
		Where("versions.package_id = ? AND versions.latest <> ''", packageID.String()).
		Find(&buildRecs).Error; err != nil {
		return nil, nil, internalError("significant builds", err)
	}

	builds, err := toBuilds(buildRecs)
	if err != nil {
		return nil, nil, err
	}
	return toVersions(versionRecs), builds, nil
}

func (s *sqlStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *sqlStore) wrap(op, resource, key string, err error) error {
	switch {
	case isCoded(err):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(resource, key)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return alreadyExists(resource, key)
	default:
		s.log.Error().Err(err).Str("op", op).Msg("sql store failure")
		return internalError(op, err)
	}
}

func (r packageRecord) toPackage() types.Package {
	return types.Package{
		ID:        uuid.MustParse(r.ID),
		URL:       r.URL,
		Owner:     r.Owner,
		Name:      r.Name,
		Status:    types.PackageStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (r versionRecord) toVersion() types.Version {
	return types.Version{
		ID:           uuid.MustParse(r.ID),
		PackageID:    uuid.MustParse(r.PackageID),
		Reference:    types.Reference{Branch: r.Branch, Tag: r.Tag},
		CommitHash:   r.CommitHash,
		CommitDate:   r.CommitDate.UTC(),
		Latest:       types.VersionKind(r.Latest),
		PackageName:  r.PackageName,
		ToolsVersion: r.ToolsVersion,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (r buildRecord) toBuild() (types.Build, error) {
	swift, err := types.ParseSwiftVersion(r.SwiftVersion)
	if err != nil {
		return types.Build{}, internalError("decode build "+r.ID, err)
	}
	return types.Build{
		ID:            uuid.MustParse(r.ID),
		VersionID:     uuid.MustParse(r.VersionID),
		Platform:      types.Platform(r.Platform),
		SwiftVersion:  swift,
		Status:        types.BuildStatus(r.Status),
		BuildCommand:  r.BuildCommand,
		JobURL:        r.JobURL,
		LogURL:        r.LogURL,
		RunnerID:      r.RunnerID,
		BuildDuration: r.BuildDuration,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

func toVersions(recs []versionRecord) []types.Version {
	versions := make([]types.Version, 0, len(recs))
	for _, rec := range recs {
		versions = append(versions, rec.toVersion())
	}
	sortVersions(versions)
	return versions
}

func toBuilds(recs []buildRecord) ([]types.Build, error) {
	builds := make([]types.Build, 0, len(recs))
	for _, rec := range recs {
		b, err := rec.toBuild()
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	sortBuilds(builds)
	return builds, nil
}

func swiftSlot(v types.SwiftVersion) string {
	return types.SwiftVersion{Major: v.Major, Minor: v.Minor}.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(s)
}
