// Package semver classifies git tags as semantic versions.
//
// Tags are accepted with or without a leading "v" and with two or three
// numeric components ("1.2" is read as "1.2.0"). Single-component tags such
// as "2024" are rejected so that date-like tags never compete with real
// releases.
package semver

import (
	"fmt"
	"strings"

	msemver "github.com/Masterminds/semver/v3"
)

// Version is a parsed semantic version.
type Version = msemver.Version

// Parse reads a tag name as a semantic version.
func Parse(tag string) (*Version, error) {
	trimmed := strings.TrimSpace(tag)
	core := strings.TrimPrefix(trimmed, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if n := strings.Count(core, "."); n < 1 || n > 2 {
		return nil, fmt.Errorf("tag %q is not a semantic version", tag)
	}
	v, err := msemver.NewVersion(trimmed)
	if err != nil {
		return nil, fmt.Errorf("tag %q is not a semantic version: %w", tag, err)
	}
	return v, nil
}

// IsValid reports whether tag parses as a semantic version.
func IsValid(tag string) bool {
	_, err := Parse(tag)
	return err == nil
}

// IsPreRelease reports whether v carries a pre-release identifier.
func IsPreRelease(v *Version) bool {
	return v != nil && v.Prerelease() != ""
}

// Compare orders two versions; nil sorts before any parsed version.
func Compare(a, b *Version) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(b)
}
