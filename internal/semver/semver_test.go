package semver

import "testing"

func TestParse(t *testing.T) {
	valid := []string{"1.2.3", "v1.2.3", "1.2", "2.0.0-beta.1", "1.0.0+build.5"}
	for _, tag := range valid {
		if _, err := Parse(tag); err != nil {
			t.Fatalf("Parse(%q): %v", tag, err)
		}
	}
	invalid := []string{"", "main", "2024", "1.2.3.4", "release-1"}
	for _, tag := range invalid {
		if _, err := Parse(tag); err == nil {
			t.Fatalf("Parse(%q): expected error", tag)
		}
	}
}

func TestCompareAndPreRelease(t *testing.T) {
	a, _ := Parse("1.10.0")
	b, _ := Parse("1.9.0")
	if Compare(a, b) <= 0 {
		t.Fatalf("1.10.0 should sort after 1.9.0")
	}
	pre, _ := Parse("2.0.0-rc.1")
	if !IsPreRelease(pre) || IsPreRelease(a) {
		t.Fatalf("unexpected pre-release classification")
	}
	if Compare(nil, a) >= 0 {
		t.Fatalf("nil should sort first")
	}
}
