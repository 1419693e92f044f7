package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenk/backoff"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/onexay/swiftpkgindex/internal/pkgurl"
	"github.com/onexay/swiftpkgindex/internal/types"
)

const packageSetKey = "packages"

type keydbStore struct {
	client *redis.Client
	clock  func() time.Time
	log    zerolog.Logger
}

// Config defines KeyDB connection settings.
type Config struct {
	Addr           string
	Username       string
	Password       string
	Database       int
	ConnectTimeout time.Duration
}

// NewKeyDBStore initializes a Store backed by KeyDB. The initial ping is
// retried with exponential backoff until ConnectTimeout elapses.
func NewKeyDBStore(ctx context.Context, cfg Config, opts Options) (Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	if err := pingWithBackoff(ctx, client, timeout, opts.Logger); err != nil {
		_ = client.Close()
		return nil, internalError("connect to keydb at "+addr, err)
	}

	return &keydbStore{
		client: client,
		clock:  opts.clock(),
		log:    opts.Logger,
	}, nil
}

func pingWithBackoff(ctx context.Context, client *redis.Client, timeout time.Duration, log zerolog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout
	b.Reset()

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("keydb ping failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// watch runs fn under optimistic locking on keys, retrying when a watched
// key changes before the transaction commits.
func (s *keydbStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func (s *keydbStore) AddPackage(ctx context.Context, rawURL string) (types.Package, error) {
	url, owner, name, err := pkgurl.Split(rawURL)
	if err != nil {
		return types.Package{}, err
	}

	key := pkgurl.Key(owner, name)
	nameKey := packageNameKey(key)
	var pkg types.Package

	err = s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, nameKey).Result()
		if err != nil {
			return err
		}
		if exists == 1 {
			return alreadyExists("package", key)
		}

		now := s.clock().UTC()
		pkg = types.Package{
			ID:        uuid.New(),
			URL:       url,
			Owner:     owner,
			Name:      name,
			Status:    types.PackageStatusNew,
			CreatedAt: now,
			UpdatedAt: now,
		}
		payload, err := json.Marshal(pkg)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, packageKey(pkg.ID), payload, 0)
			pipe.Set(ctx, nameKey, pkg.ID.String(), 0)
			pipe.SAdd(ctx, packageSetKey, pkg.ID.String())
			return nil
		})
		return err
	}, nameKey)
	if err != nil {
		return types.Package{}, s.wrap("add package", err)
	}
	return pkg, nil
}

func (s *keydbStore) GetPackage(ctx context.Context, id uuid.UUID) (types.Package, error) {
	var pkg types.Package
	if err := getJSON(ctx, s.client, packageKey(id), &pkg); err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Package{}, notFound("package", id.String())
		}
		return types.Package{}, s.wrap("get package", err)
	}
	return pkg, nil
}

func (s *keydbStore) GetPackageByName(ctx context.Context, owner, name string) (types.Package, error) {
	key := pkgurl.Key(owner, name)
	raw, err := s.client.Get(ctx, packageNameKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return types.Package{}, notFound("package", key)
	}
	if err != nil {
		return types.Package{}, s.wrap("get package by name", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return types.Package{}, s.wrap("decode package id", err)
	}
	return s.GetPackage(ctx, id)
}

func (s *keydbStore) ListPackages(ctx context.Context, opts ListPackagesOptions) ([]types.Package, error) {
	ids, err := s.client.SMembers(ctx, packageSetKey).Result()
	if err != nil {
		return nil, s.wrap("list packages", err)
	}

	pkgs := make([]types.Package, 0, len(ids))
	for _, raw := range ids {
		var pkg types.Package
		if err := getJSON(ctx, s.client, "pkg:"+raw, &pkg); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, s.wrap("list packages", err)
		}
		if matchesPackage(pkg, opts) {
			pkgs = append(pkgs, pkg)
		}
	}
	sortPackages(pkgs)
	return limitPackages(pkgs, opts.Limit), nil
}

func (s *keydbStore) DeletePackage(ctx context.Context, id uuid.UUID) error {
	pkg, err := s.GetPackage(ctx, id)
	if err != nil {
		return err
	}
	versions, err := s.ListVersions(ctx, id)
	if err != nil {
		return err
	}

	keys := []string{
		packageKey(id),
		packageNameKey(pkgurl.Key(pkg.Owner, pkg.Name)),
		repositoryKey(id),
		packageVersionsKey(id),
	}
	for _, v := range versions {
		builds, err := s.ListBuilds(ctx, []uuid.UUID{v.ID})
		if err != nil {
			return err
		}
		for _, b := range builds {
			keys = append(keys, buildKey(b.ID), buildSlotKey(buildSlot(v.ID, b.Platform, b.SwiftVersion)))
		}
		keys = append(keys, versionKey(v.ID), versionBuildsKey(v.ID), versionSlotKey(versionSlot(id, v.Reference, v.CommitHash)))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, packageSetKey, id.String())
		return nil
	})
	if err != nil {
		return s.wrap("delete package", err)
	}
	s.log.Debug().Str("package", pkg.Owner+"/"+pkg.Name).Int("keys", len(keys)).Msg("package deleted")
	return nil
}

func (s *keydbStore) UpsertRepository(ctx context.Context, repo types.Repository) (types.Repository, error) {
	pkg, err := s.GetPackage(ctx, repo.PackageID)
	if err != nil {
		return types.Repository{}, err
	}
	repo.Owner = pkg.Owner
	repo.Name = pkg.Name
	repo.UpdatedAt = s.clock().UTC()

	if err := setJSON(ctx, s.client, repositoryKey(repo.PackageID), repo); err != nil {
		return types.Repository{}, s.wrap("upsert repository", err)
	}
	return repo, nil
}

func (s *keydbStore) GetRepository(ctx context.Context, packageID uuid.UUID) (types.Repository, error) {
	var repo types.Repository
	if err := getJSON(ctx, s.client, repositoryKey(packageID), &repo); err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Repository{}, notFound("repository", packageID.String())
		}
		return types.Repository{}, s.wrap("get repository", err)
	}
	return repo, nil
}

func (s *keydbStore) UpsertVersion(ctx context.Context, req VersionRequest) (types.Version, error) {
	if err := req.validate(); err != nil {
		return types.Version{}, err
	}
	if _, err := s.GetPackage(ctx, req.PackageID); err != nil {
		return types.Version{}, err
	}

	slotKey := versionSlotKey(versionSlot(req.PackageID, req.Reference, req.CommitHash))
	var result types.Version

	err := s.watch(ctx, func(tx *redis.Tx) error {
		now := s.clock().UTC()
		raw, err := tx.Get(ctx, slotKey).Result()
		switch {
		case err == nil:
			// SetLatest rewrites the same payload
			if err := tx.Watch(ctx, "version:"+raw).Err(); err != nil {
				return err
			}
			var v types.Version
			if err := getJSON(ctx, tx, "version:"+raw, &v); err != nil {
				return err
			}
			v.CommitDate = req.CommitDate
			v.PackageName = req.PackageName
			v.ToolsVersion = req.ToolsVersion
			v.UpdatedAt = now
			result = v
			payload, err := json.Marshal(v)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, versionKey(v.ID), payload, 0)
				return nil
			})
			return err
		case errors.Is(err, redis.Nil):
		default:
			return err
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
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		result = v
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, versionKey(v.ID), payload, 0)
			pipe.Set(ctx, slotKey, v.ID.String(), 0)
			pipe.SAdd(ctx, packageVersionsKey(req.PackageID), v.ID.String())
			return nil
		})
		return err
	}, slotKey)
	if err != nil {
		return types.Version{}, s.wrap("upsert version", err)
	}
	return result, nil
}

func (s *keydbStore) GetVersion(ctx context.Context, id uuid.UUID) (types.Version, error) {
	var v types.Version
	if err := getJSON(ctx, s.client, versionKey(id), &v); err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Version{}, notFound("version", id.String())
		}
		return types.Version{}, s.wrap("get version", err)
	}
	return v, nil
}

func (s *keydbStore) ListVersions(ctx context.Context, packageID uuid.UUID) ([]types.Version, error) {
	versions, err := listVersions(ctx, s.client, packageID)
	if err != nil {
		return nil, s.wrap("list versions", err)
	}
	sortVersions(versions)
	return versions, nil
}

func (s *keydbStore) SetLatest(ctx context.Context, packageID uuid.UUID, kind types.VersionKind, versionID uuid.UUID) error {
	if _, err := types.ParseVersionKind(string(kind)); err != nil {
		return invalidArgument(err.Error())
	}

	setKey := packageVersionsKey(packageID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		if err := watchVersions(ctx, tx, setKey); err != nil {
			return err
		}
		versions, err := listVersions(ctx, tx, packageID)
		if err != nil {
			return err
		}

		found := versionID == uuid.Nil
		now := s.clock().UTC()
		changed := make([]types.Version, 0, 2)
		for _, v := range versions {
			switch {
			case v.ID == versionID:
				found = true
				if v.Latest == kind {
					continue
				}
				v.Latest = kind
			case v.Latest == kind:
				v.Latest = ""
			default:
				continue
			}
			v.UpdatedAt = now
			changed = append(changed, v)
		}
		if !found {
			return notFound("version", versionID.String())
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, v := range changed {
				payload, err := json.Marshal(v)
				if err != nil {
					return err
				}
				pipe.Set(ctx, versionKey(v.ID), payload, 0)
			}
			// touch the set so concurrent SetLatest calls conflict
			pipe.SAdd(ctx, setKey, "")
			pipe.SRem(ctx, setKey, "")
			return nil
		})
		return err
	}, setKey)
	if err != nil {
		return s.wrap("set latest", err)
	}
	return nil
}

func (s *keydbStore) CreateBuild(ctx context.Context, req BuildRequest) (types.Build, error) {
	if err := req.validate(); err != nil {
		return types.Build{}, err
	}
	if _, err := s.GetVersion(ctx, req.VersionID); err != nil {
		return types.Build{}, err
	}

	slot := buildSlot(req.VersionID, req.Platform, req.SwiftVersion)
	slotKey := buildSlotKey(slot)
	var b types.Build

	err := s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, slotKey).Result()
		if err != nil {
			return err
		}
		if exists == 1 {
			return alreadyExists("build", slot)
		}

		now := s.clock().UTC()
		b = types.Build{
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
		payload, err := json.Marshal(b)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, buildKey(b.ID), payload, 0)
			pipe.Set(ctx, slotKey, b.ID.String(), 0)
			pipe.SAdd(ctx, versionBuildsKey(b.VersionID), b.ID.String())
			return nil
		})
		return err
	}, slotKey)
	if err != nil {
		return types.Build{}, s.wrap("create build", err)
	}
	return b, nil
}

func (s *keydbStore) CompleteBuild(ctx context.Context, id uuid.UUID, report BuildReport) (types.Build, error) {
	if err := report.validate(); err != nil {
		return types.Build{}, err
	}

	key := buildKey(id)
	var b types.Build
	err := s.watch(ctx, func(tx *redis.Tx) error {
		if err := getJSON(ctx, tx, key, &b); err != nil {
			if errors.Is(err, redis.Nil) {
				return notFound("build", id.String())
			}
			return err
		}
		if b.Status.IsTerminal() {
			return failedPrecondition("build " + id.String() + " already finished with status " + string(b.Status))
		}
		b = applyReport(b, report, s.clock().UTC())
		payload, err := json.Marshal(b)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return types.Build{}, s.wrap("complete build", err)
	}
	return b, nil
}

func (s *keydbStore) GetBuild(ctx context.Context, id uuid.UUID) (types.Build, error) {
	var b types.Build
	if err := getJSON(ctx, s.client, buildKey(id), &b); err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Build{}, notFound("build", id.String())
		}
		return types.Build{}, s.wrap("get build", err)
	}
	return b, nil
}

func (s *keydbStore) FindBuild(ctx context.Context, versionID uuid.UUID, platform types.Platform, swift types.SwiftVersion) (types.Build, error) {
	platform = canonicalPlatform(platform)
	slot := buildSlot(versionID, platform, swift)
	raw, err := s.client.Get(ctx, buildSlotKey(slot)).Result()
	if errors.Is(err, redis.Nil) {
		return types.Build{}, notFound("build", slot)
	}
	if err != nil {
		return types.Build{}, s.wrap("find build", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return types.Build{}, s.wrap("decode build id", err)
	}
	return s.GetBuild(ctx, id)
}

func (s *keydbStore) ListBuilds(ctx context.Context, versionIDs []uuid.UUID) ([]types.Build, error) {
	builds := make([]types.Build, 0)
	for _, vid := range versionIDs {
		ids, err := s.client.SMembers(ctx, versionBuildsKey(vid)).Result()
		if err != nil {
			return nil, s.wrap("list builds", err)
		}
		for _, raw := range ids {
			var b types.Build
			if err := getJSON(ctx, s.client, "build:"+raw, &b); err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return nil, s.wrap("list builds", err)
			}
			builds = append(builds, b)
		}
	}
	sortBuilds(builds)
	return builds, nil
}

func (s *keydbStore) SignificantBuilds(ctx context.Context, packageID uuid.UUID) ([]types.Version, []types.Build, error) {
	all, err := s.ListVersions(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	versions := make([]types.Version, 0, 3)
	ids := make([]uuid.UUID, 0, 3)
	for _, v := range all {
		if v.IsSignificant() {
			versions = append(versions, v)
			ids = append(ids, v.ID)
		}
	}
	builds, err := s.ListBuilds(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return versions, builds, nil
}

func (s *keydbStore) Close() error {
	return s.client.Close()
}

// wrap leaves coded errors untouched and tags the rest as internal.
func (s *keydbStore) wrap(op string, err error) error {
	if isCoded(err) {
		return err
	}
	return internalError(op, err)
}

func listVersions(ctx context.Context, c redis.Cmdable, packageID uuid.UUID) ([]types.Version, error) {
	ids, err := c.SMembers(ctx, packageVersionsKey(packageID)).Result()
	if err != nil {
		return nil, err
	}
	versions := make([]types.Version, 0, len(ids))
	for _, raw := range ids {
		if raw == "" {
			continue
		}
		var v types.Version
		if err := getJSON(ctx, c, "version:"+raw, &v); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// watchVersions adds every version payload of a package to the transaction's
// watch set.
func watchVersions(ctx context.Context, tx *redis.Tx, setKey string) error {
	ids, err := tx.SMembers(ctx, setKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		if raw != "" {
			keys = append(keys, "version:"+raw)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return tx.Watch(ctx, keys...).Err()
}

func getJSON(ctx context.Context, c redis.Cmdable, key string, dst any) error {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func setJSON(ctx context.Context, c redis.Cmdable, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, payload, 0).Err()
}

func packageKey(id uuid.UUID) string {
	return fmt.Sprintf("pkg:%s", id)
}

func packageNameKey(key string) string {
	return fmt.Sprintf("pkgname:%s", key)
}

func repositoryKey(packageID uuid.UUID) string {
	return fmt.Sprintf("repo:%s", packageID)
}

func packageVersionsKey(packageID uuid.UUID) string {
	return fmt.Sprintf("pkgversions:%s", packageID)
}

func versionKey(id uuid.UUID) string {
	return fmt.Sprintf("version:%s", id)
}

func versionSlotKey(slot string) string {
	return fmt.Sprintf("versionslot:%s", slot)
}

func versionBuildsKey(versionID uuid.UUID) string {
	return fmt.Sprintf("versionbuilds:%s", versionID)
}

func buildKey(id uuid.UUID) string {
	return fmt.Sprintf("build:%s", id)
}

func buildSlotKey(slot string) string {
	return fmt.Sprintf("buildslot:%s", slot)
}
