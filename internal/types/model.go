package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PackageStatus tracks ingestion health.
type PackageStatus string

const (
	PackageStatusNew PackageStatus = "new"
)

// Package is a tracked repository identified by its URL.
type Package struct {
	ID        uuid.UUID     `json:"id"`
	URL       string        `json:"url"`
	Owner     string        `json:"owner"`
	Name      string        `json:"name"`
	Status    PackageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Repository mirrors hosting metadata for a package.
type Repository struct {
	PackageID      uuid.UUID  `json:"packageId"`
	Owner          string     `json:"owner"`
	Name           string     `json:"name"`
	OwnerName      string     `json:"ownerName,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	Stars          int        `json:"stars"`
	Forks          int        `json:"forks"`
	License        string     `json:"license,omitempty"`
	DefaultBranch  string     `json:"defaultBranch,omitempty"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
	IsArchived     bool       `json:"isArchived"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Version is a tagged release, pre-release or default-branch snapshot.
// Latest is set on at most one version per package and kind; versions with an
// empty Latest are historical and do not feed compatibility.
type Version struct {
	ID           uuid.UUID   `json:"id"`
	PackageID    uuid.UUID   `json:"packageId"`
	Reference    Reference   `json:"reference"`
	CommitHash   string      `json:"commitHash,omitempty"`
	CommitDate   time.Time   `json:"commitDate"`
	Latest       VersionKind `json:"latest,omitempty"`
	PackageName  string      `json:"packageName,omitempty"`
	ToolsVersion string      `json:"toolsVersion,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// IsSignificant reports whether the version currently holds a latest kind.
func (v Version) IsSignificant() bool {
	return v.Latest != ""
}

// BuildStatus is the outcome of a compatibility build.
type BuildStatus string

const (
	BuildStatusOK      BuildStatus = "ok"
	BuildStatusFailed  BuildStatus = "failed"
	BuildStatusPending BuildStatus = "pending"
	BuildStatusTimeout BuildStatus = "timeout"
)

// ParseBuildStatus validates a status identifier.
func ParseBuildStatus(s string) (BuildStatus, error) {
	switch st := BuildStatus(s); st {
	case BuildStatusOK, BuildStatusFailed, BuildStatusPending, BuildStatusTimeout:
		return st, nil
	}
	return "", &InvalidValueError{Field: "status", Value: s}
}

// UnmarshalJSON rejects statuses outside the closed set.
func (s *BuildStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseBuildStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether the build has finished.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusOK || s == BuildStatusFailed || s == BuildStatusTimeout
}

// IsSuccess reports whether the build succeeded.
func (s BuildStatus) IsSuccess() bool {
	return s == BuildStatusOK
}

// Build is one compatibility test of a version on a platform and toolchain.
type Build struct {
	ID            uuid.UUID    `json:"id"`
	VersionID     uuid.UUID    `json:"versionId"`
	Platform      Platform     `json:"platform"`
	SwiftVersion  SwiftVersion `json:"swiftVersion"`
	Status        BuildStatus  `json:"status"`
	BuildCommand  string       `json:"buildCommand,omitempty"`
	JobURL        string       `json:"jobUrl,omitempty"`
	LogURL        string       `json:"logUrl,omitempty"`
	RunnerID      string       `json:"runnerId,omitempty"`
	BuildDuration float64      `json:"buildDuration,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// InvalidValueError reports an enum value outside its closed set.
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return "invalid " + e.Field + " " + e.Value
}
