package compat

import (
	"slices"

	"github.com/google/uuid"

	"github.com/onexay/swiftpkgindex/internal/types"
)

// ReducePlatforms folds builds into the platforms with at least one
// successful build, in display order.
func ReducePlatforms(builds []types.Build) Result[types.PlatformCompatibility] {
	return reduce(builds, types.AllPlatformCompatibilities(), func(b types.Build, c types.PlatformCompatibility) bool {
		return b.Platform.IsCompatible(c)
	})
}

// ReduceSwiftVersions folds builds into the active Swift versions with at
// least one successful build, newest first.
func ReduceSwiftVersions(builds []types.Build) Result[types.SwiftVersion] {
	return reduce(builds, SwiftVersionsDescending(), func(b types.Build, v types.SwiftVersion) bool {
		return b.SwiftVersion.IsCompatible(v)
	})
}

func reduce[T any](builds []types.Build, axis []T, matches func(types.Build, T) bool) Result[T] {
	finished := make([]types.Build, 0, len(builds))
	for _, b := range builds {
		if b.Status.IsTerminal() {
			finished = append(finished, b)
		}
	}
	if len(finished) == 0 {
		return Pending[T]()
	}

	values := make([]T, 0, len(axis))
	for _, value := range axis {
		for _, b := range finished {
			if b.Status.IsSuccess() && matches(b, value) {
				values = append(values, value)
				break
			}
		}
	}
	return Available(values)
}

// SwiftVersionsDescending returns the active Swift versions newest first.
func SwiftVersionsDescending() []types.SwiftVersion {
	versions := types.AllActiveSwiftVersions()
	slices.SortFunc(versions, func(a, b types.SwiftVersion) int { return b.Compare(a) })
	return versions
}

// SignificantBuilds keeps the builds that belong to versions holding a
// latest kind.
func SignificantBuilds(versions []types.Version, builds []types.Build) []types.Build {
	significant := make(map[uuid.UUID]struct{}, len(versions))
	for _, v := range versions {
		if v.IsSignificant() {
			significant[v.ID] = struct{}{}
		}
	}
	result := make([]types.Build, 0, len(builds))
	for _, b := range builds {
		if _, ok := significant[b.VersionID]; ok {
			result = append(result, b)
		}
	}
	return result
}
