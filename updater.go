package updater

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// IsNewer reports whether latest is a strictly greater version than installed.
// Tags with or without a leading "v" are accepted, as are versions with more
// than three numeric parts (1.2.3.4), whose extra parts break semver ties. An
// unparseable installed version is older than any valid release.
func IsNewer(latest, installed string) bool {
	vLatest, extraLatest := splitVersion(latest)
	vInstalled, extraInstalled := splitVersion(installed)
	if !semver.IsValid(vLatest) {
		return false
	}
	if c := semver.Compare(vLatest, vInstalled); c != 0 || !semver.IsValid(vInstalled) {
		return c > 0
	}
	for i := 0; i < len(extraLatest) || i < len(extraInstalled); i++ {
		var l, r int
		if i < len(extraLatest) {
			l = extraLatest[i]
		}
		if i < len(extraInstalled) {
			r = extraInstalled[i]
		}
		if l != r {
			return l > r
		}
	}
	return false
}

// splitVersion returns the semver form of version and any numeric parts
// beyond major.minor.patch.
func splitVersion(version string) (string, []int) {
	v := formatVersionForComparison(version)
	core, suffix := v, ""
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core, suffix = v[:i], v[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) <= 3 {
		return v, nil
	}
	extra := make([]int, 0, len(parts)-3)
	for _, p := range parts[3:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v, nil
		}
		extra = append(extra, n)
	}
	return strings.Join(parts[:3], ".") + suffix, extra
}

// FormatVersion normalises the 'v' prefix for display. If forceSemVerPrefix
// is true a 'v' prefix is added if missing, otherwise it's removed if present.
func FormatVersion(version string, forceSemVerPrefix bool) string {
	hasV := strings.HasPrefix(version, "v")
	if forceSemVerPrefix && !hasV && version != "" {
		return "v" + version
	}
	if !forceSemVerPrefix && hasV {
		return strings.TrimPrefix(version, "v")
	}
	return version
}

// formatVersionForComparison ensures the version string has a 'v' prefix for semver comparison.
func formatVersionForComparison(version string) string {
	version = strings.TrimSpace(version)
	if version != "" && !strings.HasPrefix(version, "v") {
		return "v" + version
	}
	return version
}
