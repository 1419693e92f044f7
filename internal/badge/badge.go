// Package badge builds shields.io endpoint payloads from compatibility results.
package badge

import (
	"fmt"
	"strings"

	"github.com/onexay/swiftpkgindex/internal/compat"
	"github.com/onexay/swiftpkgindex/internal/types"
)

// Type selects the compatibility axis a badge reports.
type Type string

const (
	TypeSwiftVersions Type = "swift-versions"
	TypePlatforms     Type = "platforms"
)

// ParseType validates a badge type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeSwiftVersions, TypePlatforms:
		return t, nil
	}
	return "", fmt.Errorf("unknown badge type %q", s)
}

const (
	colorAvailable = "F05138"
	colorPending   = "inactive"
	colorError     = "lightgrey"
	cacheSeconds   = 6 * 60 * 60
)

// Badge is the shields.io endpoint schema.
type Badge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	IsError       bool   `json:"isError"`
	Color         string `json:"color"`
	CacheSeconds  int    `json:"cacheSeconds"`
	NamedLogo     string `json:"namedLogo,omitempty"`
}

// Label returns the badge label for t.
func (t Type) Label() string {
	if t == TypePlatforms {
		return "Platform Compatibility"
	}
	return "Swift Compatibility"
}

// ForPlatforms renders a platform compatibility result.
func ForPlatforms(r compat.Result[types.PlatformCompatibility]) Badge {
	if r.IsPending() {
		return pending(TypePlatforms)
	}
	names := make([]string, 0, len(r.Values()))
	for _, p := range r.Values() {
		names = append(names, p.DisplayName())
	}
	return available(TypePlatforms, names)
}

// ForSwiftVersions renders a Swift version compatibility result.
func ForSwiftVersions(r compat.Result[types.SwiftVersion]) Badge {
	if r.IsPending() {
		return pending(TypeSwiftVersions)
	}
	names := make([]string, 0, len(r.Values()))
	for _, v := range r.Values() {
		names = append(names, v.String())
	}
	return available(TypeSwiftVersions, names)
}

// Message joins display values with " | ".
func Message(values []string) string {
	return strings.Join(values, " | ")
}

func pending(t Type) Badge {
	return Badge{
		SchemaVersion: 1,
		Label:         t.Label(),
		Message:       "pending",
		Color:         colorPending,
		CacheSeconds:  cacheSeconds,
		NamedLogo:     "swift",
	}
}

func available(t Type, values []string) Badge {
	b := Badge{
		SchemaVersion: 1,
		Label:         t.Label(),
		Message:       Message(values),
		Color:         colorAvailable,
		CacheSeconds:  cacheSeconds,
		NamedLogo:     "swift",
	}
	if len(values) == 0 {
		b.Message = "unavailable"
		b.IsError = true
		b.Color = colorError
	}
	return b
}
