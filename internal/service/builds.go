package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/onexay/swiftpkgindex/internal/badge"
	"github.com/onexay/swiftpkgindex/internal/compat"
	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

// TriggerRequest asks for a pending build of a version.
type TriggerRequest struct {
	Platform     types.Platform     `json:"platform"`
	SwiftVersion types.SwiftVersion `json:"swiftVersion"`
	BuildCommand string             `json:"buildCommand,omitempty"`
	JobURL       string             `json:"jobUrl,omitempty"`
	RunnerID     string             `json:"runnerId,omitempty"`
}

// ReportRequest is the CI callback for a finished build.
type ReportRequest struct {
	Platform      types.Platform     `json:"platform"`
	SwiftVersion  types.SwiftVersion `json:"swiftVersion"`
	Status        types.BuildStatus  `json:"status"`
	BuildCommand  string             `json:"buildCommand,omitempty"`
	JobURL        string             `json:"jobUrl,omitempty"`
	RunnerID      string             `json:"runnerId,omitempty"`
	BuildDuration float64            `json:"buildDuration,omitempty"`
	Log           string             `json:"log,omitempty"`
}

// TriggerBuild registers a pending build. Only versions currently holding a
// latest kind are built.
func (s *Service) TriggerBuild(ctx context.Context, versionID uuid.UUID, req TriggerRequest) (types.Build, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return types.Build{}, err
	}
	if !v.IsSignificant() {
		return types.Build{}, preconditionFailed("version " + v.Reference.String() + " is not a latest release, pre-release or default branch")
	}

	b, err := s.store.CreateBuild(ctx, storage.BuildRequest{
		VersionID:    versionID,
		Platform:     req.Platform,
		SwiftVersion: req.SwiftVersion,
		BuildCommand: req.BuildCommand,
		JobURL:       req.JobURL,
		RunnerID:     req.RunnerID,
	})
	if err != nil {
		return types.Build{}, err
	}
	s.log.Info().
		Str("build", b.ID.String()).
		Str("reference", v.Reference.String()).
		Str("platform", string(b.Platform)).
		Str("swift", b.SwiftVersion.String()).
		Msg("build triggered")
	return b, nil
}

// ReportBuild completes the pending build of the reported triple, creating it
// first when the CI job was not triggered through TriggerBuild. A log is
// archived and linked from the build.
func (s *Service) ReportBuild(ctx context.Context, versionID uuid.UUID, req ReportRequest) (types.Build, error) {
	if !req.Status.IsTerminal() {
		return types.Build{}, badRequest("status must be one of ok, failed or timeout")
	}
	platform, err := types.ParsePlatform(string(req.Platform))
	if err != nil {
		return types.Build{}, badRequestCause("unknown platform "+string(req.Platform), err)
	}
	req.Platform = platform

	b, err := s.store.FindBuild(ctx, versionID, req.Platform, req.SwiftVersion)
	if storage.IsNotFound(err) {
		b, err = s.store.CreateBuild(ctx, storage.BuildRequest{
			VersionID:    versionID,
			Platform:     req.Platform,
			SwiftVersion: req.SwiftVersion,
			BuildCommand: req.BuildCommand,
			JobURL:       req.JobURL,
			RunnerID:     req.RunnerID,
		})
	}
	if err != nil {
		return types.Build{}, err
	}
	if b.Status.IsTerminal() {
		return types.Build{}, preconditionFailed("build " + b.ID.String() + " already finished with status " + string(b.Status))
	}

	report := storage.BuildReport{
		Status:        req.Status,
		JobURL:        req.JobURL,
		RunnerID:      req.RunnerID,
		BuildCommand:  req.BuildCommand,
		BuildDuration: req.BuildDuration,
	}
	if req.Log != "" {
		report.LogURL = logURL(b.ID)
	}

	// only the report that completes the build may write its log
	done, err := s.store.CompleteBuild(ctx, b.ID, report)
	if err != nil {
		return types.Build{}, err
	}
	if req.Log != "" {
		if err := s.archive.Store(ctx, logNamespace, done.ID.String(), []byte(req.Log)); err != nil {
			s.log.Error().Err(err).Str("build", done.ID.String()).Msg("archive build log")
			return types.Build{}, err
		}
	}
	s.log.Info().
		Str("build", done.ID.String()).
		Str("status", string(done.Status)).
		Float64("duration", done.BuildDuration).
		Msg("build reported")
	return done, nil
}

// GetBuild returns one build.
func (s *Service) GetBuild(ctx context.Context, id uuid.UUID) (types.Build, error) {
	return s.store.GetBuild(ctx, id)
}

// BuildLog returns the archived log of a build.
func (s *Service) BuildLog(ctx context.Context, id uuid.UUID) ([]byte, error) {
	b, err := s.store.GetBuild(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.LogURL == "" {
		return nil, notFound("build " + id.String() + " has no log")
	}
	return s.archive.Fetch(ctx, logNamespace, id.String())
}

// BuildMatrix returns the compatibility grid of each significant version.
func (s *Service) BuildMatrix(ctx context.Context, owner, name string) (compat.Matrix, error) {
	pkg, err := s.packageByName(ctx, owner, name)
	if err != nil {
		return compat.Matrix{}, err
	}
	versions, builds, err := s.store.SignificantBuilds(ctx, pkg.ID)
	if err != nil {
		return compat.Matrix{}, err
	}
	return compat.BuildMatrix(versions, builds), nil
}

// Badge renders the shields.io payload for one compatibility axis.
func (s *Service) Badge(ctx context.Context, owner, name, badgeType string) (badge.Badge, error) {
	t, err := badge.ParseType(badgeType)
	if err != nil {
		return badge.Badge{}, badRequestCause("type must be swift-versions or platforms", err)
	}
	pkg, err := s.packageByName(ctx, owner, name)
	if err != nil {
		return badge.Badge{}, err
	}
	_, builds, err := s.store.SignificantBuilds(ctx, pkg.ID)
	if err != nil {
		return badge.Badge{}, err
	}
	if t == badge.TypePlatforms {
		return badge.ForPlatforms(compat.ReducePlatforms(builds)), nil
	}
	return badge.ForSwiftVersions(compat.ReduceSwiftVersions(builds)), nil
}
