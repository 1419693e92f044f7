package types

import (
	"encoding/json"
	"strings"
)

// Platform identifies the environment a build ran on.
type Platform string

const (
	PlatformIOS             Platform = "ios"
	PlatformMacOSSPM        Platform = "macos-spm"
	PlatformMacOSXcodebuild Platform = "macos-xcodebuild"
	PlatformLinux           Platform = "linux"
	PlatformTVOS            Platform = "tvos"
	PlatformWatchOS         Platform = "watchos"
	PlatformVisionOS        Platform = "visionos"
	PlatformAndroid         Platform = "android"
	PlatformWasm            Platform = "wasm"
)

var allPlatforms = []Platform{
	PlatformIOS,
	PlatformMacOSSPM,
	PlatformMacOSXcodebuild,
	PlatformLinux,
	PlatformTVOS,
	PlatformWatchOS,
	PlatformVisionOS,
	PlatformAndroid,
	PlatformWasm,
}

// AllPlatforms lists every build platform.
func AllPlatforms() []Platform {
	return append([]Platform(nil), allPlatforms...)
}

// ParsePlatform validates a platform identifier.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allPlatforms {
		if p == known {
			return p, nil
		}
	}
	return "", &InvalidValueError{Field: "platform", Value: s}
}

// UnmarshalJSON accepts any casing of a known platform and stores the
// canonical identifier.
func (p *Platform) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePlatform(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Compatibility folds a build platform into the bucket it is reported under.
// Both macOS build flavours count toward macOS.
func (p Platform) Compatibility() PlatformCompatibility {
	switch p {
	case PlatformIOS:
		return CompatibilityIOS
	case PlatformMacOSSPM, PlatformMacOSXcodebuild:
		return CompatibilityMacOS
	case PlatformLinux:
		return CompatibilityLinux
	case PlatformTVOS:
		return CompatibilityTVOS
	case PlatformWatchOS:
		return CompatibilityWatchOS
	case PlatformVisionOS:
		return CompatibilityVisionOS
	case PlatformAndroid:
		return CompatibilityAndroid
	case PlatformWasm:
		return CompatibilityWasm
	default:
		return ""
	}
}

// IsCompatible reports whether p reports under the bucket c.
func (p Platform) IsCompatible(c PlatformCompatibility) bool {
	return p.Compatibility() == c
}

// PlatformCompatibility is the reporting bucket shown to users.
type PlatformCompatibility string

const (
	CompatibilityIOS      PlatformCompatibility = "iOS"
	CompatibilityMacOS    PlatformCompatibility = "macOS"
	CompatibilityLinux    PlatformCompatibility = "Linux"
	CompatibilityTVOS     PlatformCompatibility = "tvOS"
	CompatibilityWatchOS  PlatformCompatibility = "watchOS"
	CompatibilityVisionOS PlatformCompatibility = "visionOS"
	CompatibilityAndroid  PlatformCompatibility = "Android"
	CompatibilityWasm     PlatformCompatibility = "Wasm"
)

// compatibilityOrder is the display priority for badges and grids.
var compatibilityOrder = []PlatformCompatibility{
	CompatibilityIOS,
	CompatibilityMacOS,
	CompatibilityLinux,
	CompatibilityTVOS,
	CompatibilityWatchOS,
	CompatibilityVisionOS,
	CompatibilityAndroid,
	CompatibilityWasm,
}

// AllPlatformCompatibilities returns the buckets in display order.
func AllPlatformCompatibilities() []PlatformCompatibility {
	return append([]PlatformCompatibility(nil), compatibilityOrder...)
}

// DisplayName is the label used in badges.
func (c PlatformCompatibility) DisplayName() string {
	return string(c)
}
