package types

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SwiftVersion is the toolchain a build ran with.
type SwiftVersion struct {
	Major int
	Minor int
	Patch int
}

var activeSwiftVersions = []SwiftVersion{
	{Major: 5, Minor: 9},
	{Major: 5, Minor: 10},
	{Major: 6, Minor: 0},
	{Major: 6, Minor: 1},
	{Major: 6, Minor: 2},
}

// AllActiveSwiftVersions lists the toolchains builds are run against, oldest first.
func AllActiveSwiftVersions() []SwiftVersion {
	return append([]SwiftVersion(nil), activeSwiftVersions...)
}

// ParseSwiftVersion reads "5.10", "5.10.1" or "v6.0".
func ParseSwiftVersion(s string) (SwiftVersion, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.Split(trimmed, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return SwiftVersion{}, fmt.Errorf("invalid swift version %q", s)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return SwiftVersion{}, fmt.Errorf("invalid swift version %q", s)
		}
		nums[i] = n
	}
	return SwiftVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String renders major.minor, adding the patch component only when set.
func (v SwiftVersion) String() string {
	if v.Patch == 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsZero reports whether v is unset.
func (v SwiftVersion) IsZero() bool {
	return v == SwiftVersion{}
}

// IsCompatible reports whether v and other share major and minor versions.
func (v SwiftVersion) IsCompatible(other SwiftVersion) bool {
	return v.Major == other.Major && v.Minor == other.Minor
}

// Compare orders versions numerically.
func (v SwiftVersion) Compare(other SwiftVersion) int {
	if c := cmp.Compare(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmp.Compare(v.Patch, other.Patch)
}

// MarshalJSON encodes the version as its string form.
func (v SwiftVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts the string form.
func (v *SwiftVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSwiftVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
