package service

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/onexay/swiftpkgindex/internal/compat"
	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

var baseTime = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *storage.MemoryArchive) {
	t.Helper()
	clock := func() time.Time { return baseTime }
	archive := storage.NewMemoryArchive()
	store := storage.NewMemoryStore(storage.Options{Clock: clock})
	svc := NewWithBackends(store, archive, Options{Clock: clock})
	t.Cleanup(func() { _ = svc.Close() })
	return svc, archive
}

func requireCode(t *testing.T, err error, code errbuilder.ErrCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, errbuilder.CodeOf(err), "unexpected code for %v", err)
}

func ref(name string, hoursAgo int) ReferenceInput {
	r, err := types.ParseReference(name)
	if err != nil {
		panic(err)
	}
	return ReferenceInput{
		Reference:  r,
		CommitHash: "c-" + name,
		CommitDate: baseTime.Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

func sv(t *testing.T, s string) types.SwiftVersion {
	t.Helper()
	v, err := types.ParseSwiftVersion(s)
	require.NoError(t, err)
	return v
}

// seedPackage adds a package with a release, a pre-release and a main branch.
func seedPackage(t *testing.T, svc *Service) (types.Package, IngestResult) {
	t.Helper()
	ctx := t.Context()
	pkg, err := svc.AddPackage(ctx, "https://github.com/apple/swift-nio.git")
	require.NoError(t, err)
	result, err := svc.IngestReferences(ctx, "apple", "swift-nio", IngestRequest{
		DefaultBranch: "main",
		References: []ReferenceInput{
			ref("2.60.0", 200),
			ref("2.61.0", 100),
			ref("2.62.0-beta.1", 10),
			ref("branch:main", 1),
		},
	})
	require.NoError(t, err)
	return pkg, result
}

func TestIngestReferencesAssignsLatest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, result := seedPackage(t, svc)

	require.Equal(t, 4, result.Ingested)
	require.NotNil(t, result.Release)
	require.Equal(t, "2.61.0", result.Release.Reference.Tag)
	require.NotNil(t, result.PreRelease)
	require.Equal(t, "2.62.0-beta.1", result.PreRelease.Reference.Tag)
	require.NotNil(t, result.DefaultBranch)
	require.Equal(t, "main", result.DefaultBranch.Reference.Branch)

	oldRelease := result.Release.ID
	oldPre := result.PreRelease.ID

	// 2.62.0 ships: the beta is no longer newer than the latest release.
	result, err := svc.IngestReferences(ctx, "apple", "swift-nio", IngestRequest{
		DefaultBranch: "main",
		References: []ReferenceInput{
			ref("2.61.0", 100),
			ref("2.62.0-beta.1", 10),
			ref("2.62.0", 5),
			ref("branch:main", 0),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "2.62.0", result.Release.Reference.Tag)
	require.Nil(t, result.PreRelease)

	for _, id := range []uuid.UUID{oldRelease, oldPre} {
		v, err := svc.store.GetVersion(ctx, id)
		require.NoError(t, err)
		require.False(t, v.IsSignificant(), "%s kept %s", v.Reference, v.Latest)
	}

	info, err := svc.GetPackage(ctx, "Apple", "Swift-NIO")
	require.NoError(t, err)
	require.Len(t, info.Versions, 2)
}

func TestIngestReferencesDefaultBranchFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		repoBranch string
		refs       []ReferenceInput
		want       string
	}{
		{
			name:       "repository metadata",
			repoBranch: "develop",
			refs:       []ReferenceInput{ref("branch:main", 2), ref("branch:develop", 1)},
			want:       "develop",
		},
		{
			name: "only branch",
			refs: []ReferenceInput{ref("1.0.0", 3), ref("branch:trunk", 1)},
			want: "trunk",
		},
		{
			name: "ambiguous branches",
			refs: []ReferenceInput{ref("branch:main", 2), ref("branch:develop", 1)},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := t.Context()
			_, err := svc.AddPackage(ctx, "https://github.com/vapor/vapor")
			require.NoError(t, err)
			if tt.repoBranch != "" {
				_, err := svc.UpdateRepository(ctx, "vapor", "vapor", types.Repository{DefaultBranch: tt.repoBranch})
				require.NoError(t, err)
			}

			result, err := svc.IngestReferences(ctx, "vapor", "vapor", IngestRequest{References: tt.refs})
			require.NoError(t, err)
			got := ""
			if result.DefaultBranch != nil {
				got = result.DefaultBranch.Reference.Branch
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestIngestReferencesRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.AddPackage(ctx, "https://github.com/vapor/vapor")
	require.NoError(t, err)

	_, err = svc.IngestReferences(ctx, "vapor", "vapor", IngestRequest{References: []ReferenceInput{{Reference: types.Reference{}, CommitHash: "x"}}})
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	_, err = svc.IngestReferences(ctx, "vapor", "vapor", IngestRequest{References: []ReferenceInput{{Reference: types.NewTag("1.0.0")}}})
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	_, err = svc.IngestReferences(ctx, "vapor", "missing", IngestRequest{})
	requireCode(t, err, errbuilder.CodeNotFound)

	// non-semver tags are stored but never become latest
	result, err := svc.IngestReferences(ctx, "vapor", "vapor", IngestRequest{References: []ReferenceInput{ref("tag:nightly", 1)}})
	require.NoError(t, err)
	require.Nil(t, result.Release)
	require.Nil(t, result.PreRelease)
}

func TestBuildLifecycle(t *testing.T) {
	svc, archive := newTestService(t)
	ctx := t.Context()
	_, seeded := seedPackage(t, svc)
	release := seeded.Release.ID

	pending, err := svc.TriggerBuild(ctx, release, TriggerRequest{Platform: types.PlatformLinux, SwiftVersion: sv(t, "6.0"), JobURL: "https://ci.example/jobs/1"})
	require.NoError(t, err)
	require.Equal(t, types.BuildStatusPending, pending.Status)

	_, err = svc.TriggerBuild(ctx, release, TriggerRequest{Platform: types.PlatformLinux, SwiftVersion: sv(t, "6.0")})
	requireCode(t, err, errbuilder.CodeAlreadyExists)

	_, err = svc.TriggerBuild(ctx, uuid.New(), TriggerRequest{Platform: types.PlatformLinux, SwiftVersion: sv(t, "6.0")})
	requireCode(t, err, errbuilder.CodeNotFound)

	_, err = svc.ReportBuild(ctx, release, ReportRequest{Platform: types.PlatformLinux, SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusPending})
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	done, err := svc.ReportBuild(ctx, release, ReportRequest{
		Platform:      types.PlatformLinux,
		SwiftVersion:  sv(t, "6.0.3"),
		Status:        types.BuildStatusOK,
		BuildDuration: 93.2,
		Log:           "Build complete!",
	})
	require.NoError(t, err)
	require.Equal(t, pending.ID, done.ID)
	require.Equal(t, types.BuildStatusOK, done.Status)
	require.Equal(t, "/api/builds/"+done.ID.String()+"/log", done.LogURL)
	require.Equal(t, "https://ci.example/jobs/1", done.JobURL)

	log, err := svc.BuildLog(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, "Build complete!", string(log))

	_, err = svc.ReportBuild(ctx, release, ReportRequest{Platform: types.PlatformLinux, SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusFailed})
	requireCode(t, err, errbuilder.CodeFailedPrecondition)

	_, err = svc.TriggerBuild(ctx, release, TriggerRequest{Platform: types.Platform(" LINUX"), SwiftVersion: sv(t, "6.0")})
	requireCode(t, err, errbuilder.CodeAlreadyExists)

	_, err = svc.ReportBuild(ctx, release, ReportRequest{Platform: types.Platform("amiga"), SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusOK})
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	// a report without a prior trigger creates the build
	direct, err := svc.ReportBuild(ctx, release, ReportRequest{Platform: types.Platform("iOS"), SwiftVersion: sv(t, "5.10"), Status: types.BuildStatusFailed})
	require.NoError(t, err)
	require.Equal(t, types.BuildStatusFailed, direct.Status)
	require.Equal(t, types.PlatformIOS, direct.Platform)
	require.Empty(t, direct.LogURL)

	_, err = svc.BuildLog(ctx, direct.ID)
	requireCode(t, err, errbuilder.CodeNotFound)

	got, err := svc.GetBuild(ctx, direct.ID)
	require.NoError(t, err)
	require.Equal(t, direct.ID, got.ID)

	require.NoError(t, svc.DeletePackage(ctx, "apple", "swift-nio"))
	_, err = archive.Fetch(ctx, logNamespace, done.ID.String())
	require.True(t, storage.IsNotFound(err), "log should be removed with the package")
}

func TestReportBuildCanonicalizesPlatform(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, seeded := seedPackage(t, svc)
	release := seeded.Release.ID

	pending, err := svc.TriggerBuild(ctx, release, TriggerRequest{Platform: types.Platform(" macOS-SPM "), SwiftVersion: sv(t, "6.1")})
	require.NoError(t, err)
	require.Equal(t, types.PlatformMacOSSPM, pending.Platform)

	done, err := svc.ReportBuild(ctx, release, ReportRequest{Platform: types.PlatformMacOSSPM, SwiftVersion: sv(t, "6.1"), Status: types.BuildStatusOK})
	require.NoError(t, err)
	require.Equal(t, pending.ID, done.ID)

	ios, err := svc.ReportBuild(ctx, release, ReportRequest{Platform: types.Platform("iOS"), SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusOK})
	require.NoError(t, err)
	require.Equal(t, types.PlatformIOS, ios.Platform)

	_, err = svc.TriggerBuild(ctx, release, TriggerRequest{Platform: types.Platform("IOS"), SwiftVersion: sv(t, "6.0")})
	requireCode(t, err, errbuilder.CodeAlreadyExists)

	b, err := svc.Badge(ctx, "apple", "swift-nio", "platforms")
	require.NoError(t, err)
	require.Equal(t, "iOS | macOS", b.Message)
	require.False(t, b.IsError)
}

func TestConcurrentReportsKeepWinningLog(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, seeded := seedPackage(t, svc)
	release := seeded.Release.ID

	swift := sv(t, "6.2")
	pending, err := svc.TriggerBuild(ctx, release, TriggerRequest{Platform: types.PlatformLinux, SwiftVersion: swift})
	require.NoError(t, err)

	const reporters = 8
	type outcome struct {
		log string
		err error
	}
	results := make(chan outcome, reporters)
	var wg sync.WaitGroup
	for i := range reporters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := "runner " + strconv.Itoa(i)
			_, err := svc.ReportBuild(ctx, release, ReportRequest{Platform: types.PlatformLinux, SwiftVersion: swift, Status: types.BuildStatusOK, Log: text})
			results <- outcome{log: text, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var winners []string
	for r := range results {
		if r.err == nil {
			winners = append(winners, r.log)
			continue
		}
		requireCode(t, r.err, errbuilder.CodeFailedPrecondition)
	}
	require.Len(t, winners, 1)

	stored, err := svc.BuildLog(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, winners[0], string(stored))
}

func TestTriggerBuildRequiresSignificantVersion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.AddPackage(ctx, "https://github.com/vapor/vapor")
	require.NoError(t, err)
	result, err := svc.IngestReferences(ctx, "vapor", "vapor", IngestRequest{References: []ReferenceInput{ref("4.0.0", 10)}})
	require.NoError(t, err)
	old := result.Release.ID

	_, err = svc.IngestReferences(ctx, "vapor", "vapor", IngestRequest{References: []ReferenceInput{ref("4.0.0", 10), ref("4.1.0", 1)}})
	require.NoError(t, err)

	_, err = svc.TriggerBuild(ctx, old, TriggerRequest{Platform: types.PlatformIOS, SwiftVersion: sv(t, "6.0")})
	requireCode(t, err, errbuilder.CodeFailedPrecondition)
}

func TestCompatibilityFollowsSignificantVersions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, seeded := seedPackage(t, svc)

	info, err := svc.GetPackage(ctx, "apple", "swift-nio")
	require.NoError(t, err)
	require.True(t, info.Platforms.IsPending())
	require.True(t, info.SwiftVersions.IsPending())
	require.Nil(t, info.Repository)

	reports := []struct {
		version  uuid.UUID
		platform types.Platform
		swift    string
		status   types.BuildStatus
	}{
		{seeded.Release.ID, types.PlatformMacOSXcodebuild, "6.0", types.BuildStatusOK},
		{seeded.Release.ID, types.PlatformLinux, "5.10", types.BuildStatusOK},
		{seeded.Release.ID, types.PlatformWatchOS, "6.0", types.BuildStatusFailed},
		{seeded.PreRelease.ID, types.PlatformIOS, "6.1", types.BuildStatusOK},
		{seeded.DefaultBranch.ID, types.PlatformTVOS, "6.1", types.BuildStatusTimeout},
	}
	for _, r := range reports {
		_, err := svc.ReportBuild(ctx, r.version, ReportRequest{Platform: r.platform, SwiftVersion: sv(t, r.swift), Status: r.status})
		require.NoError(t, err)
	}
	_, err = svc.TriggerBuild(ctx, seeded.Release.ID, TriggerRequest{Platform: types.PlatformAndroid, SwiftVersion: sv(t, "6.2")})
	require.NoError(t, err)

	info, err = svc.GetPackage(ctx, "apple", "swift-nio")
	require.NoError(t, err)
	wantPlatforms := []types.PlatformCompatibility{types.CompatibilityIOS, types.CompatibilityMacOS, types.CompatibilityLinux}
	if diff := cmp.Diff(wantPlatforms, info.Platforms.Values()); diff != "" {
		t.Fatalf("platforms mismatch (-want +got):\n%s", diff)
	}
	wantSwift := []types.SwiftVersion{sv(t, "6.1"), sv(t, "6.0"), sv(t, "5.10")}
	if diff := cmp.Diff(wantSwift, info.SwiftVersions.Values()); diff != "" {
		t.Fatalf("swift versions mismatch (-want +got):\n%s", diff)
	}

	platformBadge, err := svc.Badge(ctx, "apple", "swift-nio", "platforms")
	require.NoError(t, err)
	require.Equal(t, "iOS | macOS | Linux", platformBadge.Message)
	require.Equal(t, "Platform Compatibility", platformBadge.Label)

	swiftBadge, err := svc.Badge(ctx, "apple", "swift-nio", "swift-versions")
	require.NoError(t, err)
	require.Equal(t, "6.1 | 6.0 | 5.10", swiftBadge.Message)
	require.False(t, swiftBadge.IsError)

	// dropping the pre-release removes its iOS/6.1 success from the results
	_, err = svc.IngestReferences(ctx, "apple", "swift-nio", IngestRequest{
		DefaultBranch: "main",
		References:    []ReferenceInput{ref("2.61.0", 100), ref("branch:main", 1)},
	})
	require.NoError(t, err)
	swiftBadge, err = svc.Badge(ctx, "apple", "swift-nio", "swift-versions")
	require.NoError(t, err)
	require.Equal(t, "6.0 | 5.10", swiftBadge.Message)
}

func TestBadgeStates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, seeded := seedPackage(t, svc)

	b, err := svc.Badge(ctx, "apple", "swift-nio", "platforms")
	require.NoError(t, err)
	require.Equal(t, "pending", b.Message)
	require.False(t, b.IsError)

	_, err = svc.ReportBuild(ctx, seeded.Release.ID, ReportRequest{Platform: types.PlatformIOS, SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusFailed})
	require.NoError(t, err)
	b, err = svc.Badge(ctx, "apple", "swift-nio", "platforms")
	require.NoError(t, err)
	require.Equal(t, "unavailable", b.Message)
	require.True(t, b.IsError)

	_, err = svc.Badge(ctx, "apple", "swift-nio", "license")
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	_, err = svc.Badge(ctx, "apple", "unknown", "platforms")
	requireCode(t, err, errbuilder.CodeNotFound)
}

func TestBuildMatrix(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, seeded := seedPackage(t, svc)

	_, err := svc.ReportBuild(ctx, seeded.Release.ID, ReportRequest{Platform: types.PlatformMacOSSPM, SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusOK})
	require.NoError(t, err)
	_, err = svc.ReportBuild(ctx, seeded.Release.ID, ReportRequest{Platform: types.PlatformMacOSXcodebuild, SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusFailed})
	require.NoError(t, err)
	_, err = svc.ReportBuild(ctx, seeded.Release.ID, ReportRequest{Platform: types.PlatformLinux, SwiftVersion: sv(t, "6.0"), Status: types.BuildStatusFailed})
	require.NoError(t, err)

	m, err := svc.BuildMatrix(ctx, "apple", "swift-nio")
	require.NoError(t, err)
	require.Len(t, m.Grids, 3)
	require.Equal(t, types.KindRelease, m.Grids[0].Kind)
	require.Equal(t, types.KindPreRelease, m.Grids[1].Kind)
	require.Equal(t, types.KindDefaultBranch, m.Grids[2].Kind)

	statuses := map[types.PlatformCompatibility]compat.Status{}
	for _, row := range m.Grids[0].Rows {
		if row.SwiftVersion.IsCompatible(sv(t, "6.0")) {
			for _, c := range row.Cells {
				statuses[c.Platform] = c.Status
			}
		}
	}
	require.Equal(t, compat.StatusCompatible, statuses[types.CompatibilityMacOS])
	require.Equal(t, compat.StatusIncompatible, statuses[types.CompatibilityLinux])
	require.Equal(t, compat.StatusUnknown, statuses[types.CompatibilityIOS])
}

func TestSearchAndOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	for _, url := range []string{
		"https://github.com/apple/swift-nio",
		"https://github.com/apple/swift-log",
		"https://github.com/vapor/vapor",
	} {
		_, err := svc.AddPackage(ctx, url)
		require.NoError(t, err)
	}
	_, err := svc.UpdateRepository(ctx, "apple", "swift-log", types.Repository{Summary: "Logging API", Stars: 3500})
	require.NoError(t, err)

	_, err = svc.UpdateRepository(ctx, "apple", "swift-log", types.Repository{Stars: -1})
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	results, err := svc.Search(ctx, "swift-", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "swift-log", results[0].Name)
	require.Equal(t, "Logging API", results[0].Summary)
	require.Equal(t, 3500, results[0].Stars)

	limited, err := svc.Search(ctx, "swift-", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = svc.Search(ctx, "  ", 0)
	requireCode(t, err, errbuilder.CodeInvalidArgument)

	owned, err := svc.PackagesByOwner(ctx, "APPLE")
	require.NoError(t, err)
	require.Len(t, owned, 2)

	_, err = svc.PackagesByOwner(ctx, "nobody")
	requireCode(t, err, errbuilder.CodeNotFound)
}

func TestReconcile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := t.Context()
	_, err := svc.AddPackage(ctx, "https://github.com/apple/swift-nio")
	require.NoError(t, err)
	_, err = svc.AddPackage(ctx, "https://github.com/old/abandoned")
	require.NoError(t, err)

	list := []string{
		"https://github.com/Apple/swift-nio.git",
		"git@github.com:vapor/vapor.git",
		"https://example.com/not/github",
		"",
	}

	dry, err := svc.Reconcile(ctx, list, true)
	require.NoError(t, err)
	require.Equal(t, []string{"https://github.com/vapor/vapor"}, dry.Added)
	require.Equal(t, []string{"https://github.com/old/abandoned"}, dry.Removed)
	require.Equal(t, []string{"https://example.com/not/github"}, dry.Invalid)
	require.True(t, strings.Contains(dry.Diff, "-https://github.com/old/abandoned"), dry.Diff)
	require.True(t, strings.Contains(dry.Diff, "+https://github.com/vapor/vapor"), dry.Diff)

	pkgs, err := svc.ListPackages(ctx, storage.ListPackagesOptions{})
	require.NoError(t, err)
	require.Len(t, pkgs, 2, "dry run must not modify the index")

	applied, err := svc.Reconcile(ctx, list, false)
	require.NoError(t, err)
	require.False(t, applied.DryRun)

	pkgs, err = svc.ListPackages(ctx, storage.ListPackagesOptions{})
	require.NoError(t, err)
	names := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		names = append(names, p.Owner+"/"+p.Name)
	}
	require.Equal(t, []string{"apple/swift-nio", "vapor/vapor"}, names)

	again, err := svc.Reconcile(ctx, list, false)
	require.NoError(t, err)
	require.Empty(t, again.Added)
	require.Empty(t, again.Removed)
	require.Empty(t, again.Diff)
}
