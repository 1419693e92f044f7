package compat

import (
	"github.com/onexay/swiftpkgindex/internal/types"
)

// Status is the reduced outcome of one grid cell.
type Status string

const (
	StatusCompatible   Status = "compatible"
	StatusIncompatible Status = "incompatible"
	StatusUnknown      Status = "unknown"
)

// Cell is one Swift version × platform entry of a grid.
type Cell struct {
	Platform     types.PlatformCompatibility `json:"platform"`
	SwiftVersion types.SwiftVersion          `json:"swiftVersion"`
	Status       Status                      `json:"status"`
}

// Row groups the cells of one Swift version.
type Row struct {
	SwiftVersion types.SwiftVersion `json:"swiftVersion"`
	Cells        []Cell             `json:"cells"`
}

// Grid is the compatibility grid of one significant version.
type Grid struct {
	Kind      types.VersionKind `json:"kind"`
	Reference types.Reference   `json:"reference"`
	Rows      []Row             `json:"rows"`
}

// Matrix holds one grid per significant version, in kind order.
type Matrix struct {
	Platforms     []types.PlatformCompatibility `json:"platforms"`
	SwiftVersions []types.SwiftVersion          `json:"swiftVersions"`
	Grids         []Grid                        `json:"grids"`
}

// BuildMatrix computes the grid for each significant version. Builds of
// versions without a latest kind are ignored.
func BuildMatrix(versions []types.Version, builds []types.Build) Matrix {
	m := Matrix{
		Platforms:     types.AllPlatformCompatibilities(),
		SwiftVersions: SwiftVersionsDescending(),
		Grids:         []Grid{},
	}

	byKind := make(map[types.VersionKind]types.Version, len(versions))
	for _, v := range versions {
		if v.IsSignificant() {
			byKind[v.Latest] = v
		}
	}

	for _, kind := range types.AllVersionKinds() {
		version, ok := byKind[kind]
		if !ok {
			continue
		}
		versionBuilds := make([]types.Build, 0)
		for _, b := range builds {
			if b.VersionID == version.ID {
				versionBuilds = append(versionBuilds, b)
			}
		}
		grid := Grid{Kind: kind, Reference: version.Reference, Rows: make([]Row, 0, len(m.SwiftVersions))}
		for _, sv := range m.SwiftVersions {
			row := Row{SwiftVersion: sv, Cells: make([]Cell, 0, len(m.Platforms))}
			for _, p := range m.Platforms {
				row.Cells = append(row.Cells, Cell{
					Platform:     p,
					SwiftVersion: sv,
					Status:       CellStatus(versionBuilds, p, sv),
				})
			}
			grid.Rows = append(grid.Rows, row)
		}
		m.Grids = append(m.Grids, grid)
	}
	return m
}

// CellStatus reduces the builds matching a platform bucket and Swift version.
// Any success wins; otherwise a finished failure makes the cell
// incompatible; pending or missing builds leave it unknown.
func CellStatus(builds []types.Build, platform types.PlatformCompatibility, swift types.SwiftVersion) Status {
	status := StatusUnknown
	for _, b := range builds {
		if !b.Platform.IsCompatible(platform) || !b.SwiftVersion.IsCompatible(swift) {
			continue
		}
		if b.Status.IsSuccess() {
			return StatusCompatible
		}
		if b.Status.IsTerminal() {
			status = StatusIncompatible
		}
	}
	return status
}
