package address

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionSpec selects a tool version. The zero value means "latest".
type VersionSpec struct {
	exact string
}

// Latest selects the highest stored version.
func Latest() VersionSpec { return VersionSpec{} }

// Exact selects one specific version.
func Exact(v string) VersionSpec { return VersionSpec{exact: v} }

// IsLatest reports whether the spec selects the latest version.
func (v VersionSpec) IsLatest() bool { return v.exact == "" }

// Value returns the exact version, or "" for Latest.
func (v VersionSpec) Value() string { return v.exact }

func (v VersionSpec) String() string {
	if v.IsLatest() {
		return "latest"
	}
	return v.exact
}

// versionRegex restricts versions to one to three numeric components so
// they survive the "." to "_" rewrite used in flat identifiers.
var versionRegex = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*)){0,2}$`)

// ValidVersion reports whether v is an acceptable tool version.
func ValidVersion(v string) bool {
	if !versionRegex.MatchString(v) {
		return false
	}
	_, err := semver.NewVersion(v)
	return err == nil
}

// CompareVersions orders two versions numerically by component:
// 2.0 > 1.10 > 1.9, and 1 == 1.0. Unparseable versions sort before
// valid ones and compare lexically among themselves.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	default:
		return 1
	}
}

// SameVersion reports whether a and b denote the same version.
func SameVersion(a, b string) bool {
	return CompareVersions(a, b) == 0
}

func encodeVersion(v string) string {
	return strings.ReplaceAll(v, ".", "_")
}

func decodeVersion(v string) string {
	return strings.ReplaceAll(v, "_", ".")
}
