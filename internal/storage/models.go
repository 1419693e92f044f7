package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/onexay/swiftpkgindex/internal/types"
)

// ListPackagesOptions filters package listings.
type ListPackagesOptions struct {
	Owner string
	Query string
	Limit int
}

// VersionRequest creates or refreshes a version. Versions are keyed by
// package, reference and commit, so a branch moving to a new commit yields a
// new version.
type VersionRequest struct {
	PackageID    uuid.UUID
	Reference    types.Reference
	CommitHash   string
	CommitDate   time.Time
	PackageName  string
	ToolsVersion string
}

// BuildRequest registers a pending build for a version/platform/toolchain triple.
type BuildRequest struct {
	VersionID    uuid.UUID
	Platform     types.Platform
	SwiftVersion types.SwiftVersion
	BuildCommand string
	JobURL       string
	RunnerID     string
}

// BuildReport carries the outcome of a finished build.
type BuildReport struct {
	Status        types.BuildStatus
	LogURL        string
	JobURL        string
	RunnerID      string
	BuildCommand  string
	BuildDuration float64
}

// validate checks the request and rewrites Platform to its canonical form.
func (r *BuildRequest) validate() error {
	if r.VersionID == uuid.Nil {
		return invalidArgument("version id is required")
	}
	platform, err := types.ParsePlatform(string(r.Platform))
	if err != nil {
		return invalidArgument(err.Error())
	}
	r.Platform = platform
	if r.SwiftVersion.IsZero() {
		return invalidArgument("swift version is required")
	}
	return nil
}

func (r BuildReport) validate() error {
	if !r.Status.IsTerminal() {
		return invalidArgument("build report status must be ok, failed or timeout")
	}
	return nil
}

func (r VersionRequest) validate() error {
	if r.PackageID == uuid.Nil {
		return invalidArgument("package id is required")
	}
	if err := r.Reference.Validate(); err != nil {
		return invalidArgument(err.Error())
	}
	return nil
}

// buildSlot identifies the triple a build occupies. Patch versions of a
// toolchain share a slot.
func buildSlot(versionID uuid.UUID, platform types.Platform, swift types.SwiftVersion) string {
	return versionID.String() + "/" + string(platform) + "/" + swiftSlot(swift)
}

// canonicalPlatform maps lookups onto stored identifiers; unknown values pass
// through and simply miss.
func canonicalPlatform(p types.Platform) types.Platform {
	if parsed, err := types.ParsePlatform(string(p)); err == nil {
		return parsed
	}
	return p
}

func versionSlot(packageID uuid.UUID, ref types.Reference, commit string) string {
	return packageID.String() + "/" + ref.Key() + "@" + commit
}

func applyReport(b types.Build, report BuildReport, now time.Time) types.Build {
	b.Status = report.Status
	b.BuildDuration = report.BuildDuration
	if report.LogURL != "" {
		b.LogURL = report.LogURL
	}
	if report.JobURL != "" {
		b.JobURL = report.JobURL
	}
	if report.RunnerID != "" {
		b.RunnerID = report.RunnerID
	}
	if report.BuildCommand != "" {
		b.BuildCommand = report.BuildCommand
	}
	b.UpdatedAt = now
	return b
}
