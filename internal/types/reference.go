package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onexay/swiftpkgindex/internal/semver"
)

// VersionKind classifies a version; a package has at most one version per kind
// marked as latest.
type VersionKind string

const (
	KindRelease       VersionKind = "release"
	KindPreRelease    VersionKind = "preRelease"
	KindDefaultBranch VersionKind = "defaultBranch"
)

// AllVersionKinds returns the kinds in display order.
func AllVersionKinds() []VersionKind {
	return []VersionKind{KindRelease, KindPreRelease, KindDefaultBranch}
}

// ParseVersionKind validates a kind identifier.
func ParseVersionKind(s string) (VersionKind, error) {
	for _, k := range AllVersionKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown version kind %q", s)
}

// Reference is a git branch or tag.
type Reference struct {
	Branch string `json:"branch,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// NewBranch returns a branch reference.
func NewBranch(name string) Reference { return Reference{Branch: name} }

// NewTag returns a tag reference.
func NewTag(name string) Reference { return Reference{Tag: name} }

// ParseReference reads the "branch:<name>" / "tag:<name>" form. A bare name
// is treated as a tag when it is a semantic version and as a branch otherwise.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Reference{}, fmt.Errorf("empty reference")
	case strings.HasPrefix(s, "branch:"):
		return NewBranch(strings.TrimPrefix(s, "branch:")), nil
	case strings.HasPrefix(s, "tag:"):
		return NewTag(strings.TrimPrefix(s, "tag:")), nil
	case semver.IsValid(s):
		return NewTag(s), nil
	default:
		return NewBranch(s), nil
	}
}

// IsBranch reports whether r names a branch.
func (r Reference) IsBranch() bool { return r.Branch != "" }

// IsTag reports whether r names a tag.
func (r Reference) IsTag() bool { return r.Tag != "" }

// Validate checks that exactly one of branch or tag is set.
func (r Reference) Validate() error {
	if (r.Branch == "") == (r.Tag == "") {
		return fmt.Errorf("reference must name exactly one of branch or tag")
	}
	return nil
}

// SemVer parses the tag; branches and non-semver tags return nil.
func (r Reference) SemVer() *semver.Version {
	if !r.IsTag() {
		return nil
	}
	v, err := semver.Parse(r.Tag)
	if err != nil {
		return nil
	}
	return v
}

// Kind classifies the reference. Tags that are not semantic versions are
// unclassified and yield "".
func (r Reference) Kind() VersionKind {
	if r.IsBranch() {
		return KindDefaultBranch
	}
	v := r.SemVer()
	switch {
	case v == nil:
		return ""
	case semver.IsPreRelease(v):
		return KindPreRelease
	default:
		return KindRelease
	}
}

// Key is a stable identifier used by stores.
func (r Reference) Key() string {
	if r.IsBranch() {
		return "branch:" + r.Branch
	}
	return "tag:" + r.Tag
}

// String returns the branch or tag name.
func (r Reference) String() string {
	if r.IsBranch() {
		return r.Branch
	}
	return r.Tag
}

// referenceJSON avoids recursing into UnmarshalJSON.
type referenceJSON struct {
	Branch string `json:"branch,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// UnmarshalJSON accepts the object form or a "branch:"/"tag:" string.
func (r *Reference) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseReference(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	var obj referenceJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = Reference{Branch: obj.Branch, Tag: obj.Tag}
	return r.Validate()
}
