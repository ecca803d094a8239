package updater

import (
	"regexp"
	"strings"
)

// Each compatibility field is extracted by the first of its patterns that
// matches the release body.
var (
	testedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Tested up to:\s([\d.]+)`),
		regexp.MustCompile(`(?i)Tested:\s([\d.]+)`),
	}
	requiresPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Requires:\s([\d.]+)`),
		regexp.MustCompile(`(?i)WordPress:\s([\d.]+)`),
	}
	requiresPHPPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Requires Php:\s([\d.]+)`),
		regexp.MustCompile(`(?i)PHP:\s([\d.]+)`),
	}

	requirementNameReplacer = regexp.MustCompile(`[^a-z0-9\-.]`)
)

// Requirement keys produced by ParseRequirements.
const (
	RequirementTested      = "tested"
	RequirementRequires    = "requires"
	RequirementRequiresPHP = "requires_php"
)

// ReleaseRecord is the release metadata handed to the host update mechanism.
// Its JSON form is the snapshot stored in the release cache.
type ReleaseRecord struct {
	Version       string `json:"version,omitempty"`
	PublishedAt   string `json:"date,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
	DownloadCount int64  `json:"download_count"`
	Body          string `json:"body"`
	Tested        string `json:"tested,omitempty"`
	Requires      string `json:"requires,omitempty"`
	RequiresPHP   string `json:"requires_php,omitempty"`
}

// Parse fills the record from a GitHub release. Fields missing from the
// release are left untouched, so parsing the same release twice is a no-op.
func (r *ReleaseRecord) Parse(release *Release) {
	if release == nil {
		return
	}
	if release.TagName != "" {
		r.Version = release.TagName
	}
	if release.PublishedAt != "" {
		r.PublishedAt = release.PublishedAt
	}
	if len(release.Assets) > 0 {
		if release.Assets[0].URL != "" {
			r.DownloadURL = release.Assets[0].URL
		}
		if release.Assets[0].DownloadCount > 0 {
			r.DownloadCount = release.Assets[0].DownloadCount
		}
	}
	if release.Body == "" {
		return
	}
	r.Body = release.Body

	if v, ok := firstMatch(release.Body, testedPatterns); ok {
		r.Tested = v
	}
	if v, ok := firstMatch(release.Body, requiresPatterns); ok {
		r.Requires = v
	}
	if v, ok := firstMatch(release.Body, requiresPHPPatterns); ok {
		r.RequiresPHP = v
	}
}

// Available reports whether a successful parse or cache load populated the record.
func (r *ReleaseRecord) Available() bool {
	return r != nil && r.Version != "" && r.DownloadURL != ""
}

// MissingRequirements reports whether any compatibility field is unset.
func (r *ReleaseRecord) MissingRequirements() bool {
	return r.Tested == "" || r.Requires == "" || r.RequiresPHP == ""
}

// ApplyRequirements copies tested/requires/requires_php from reqs into the
// fields that are still empty. Values already set are never overridden.
func (r *ReleaseRecord) ApplyRequirements(reqs map[string]string) {
	if r.Tested == "" {
		r.Tested = reqs[RequirementTested]
	}
	if r.Requires == "" {
		r.Requires = reqs[RequirementRequires]
	}
	if r.RequiresPHP == "" {
		r.RequiresPHP = reqs[RequirementRequiresPHP]
	}
}

// Reset empties the record.
func (r *ReleaseRecord) Reset() {
	*r = ReleaseRecord{}
}

// ParseRequirements collects "name: value" lines from every "Requirements"
// section (heading level 1 to 3) of a markdown document. A section ends at
// the next heading of any level. Later lines win over earlier ones.
func ParseRequirements(markdown string) map[string]string {
	reqs := make(map[string]string)
	collecting := false

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "#") {
			collecting = isRequirementsHeading(line)
			continue
		}
		if !collecting || strings.Count(line, ":") != 1 {
			continue
		}

		name, value, _ := strings.Cut(line, ":")
		reqs[normalizeRequirementName(name)] = strings.TrimSpace(value)
	}

	return reqs
}

func isRequirementsHeading(line string) bool {
	switch strings.TrimSpace(line) {
	case "# Requirements", "## Requirements", "### Requirements":
		return true
	}
	return false
}

func normalizeRequirementName(name string) string {
	name = strings.TrimLeft(strings.TrimSpace(name), "*")
	name = strings.TrimSpace(strings.ToLower(name))
	name = requirementNameReplacer.ReplaceAllString(name, "_")

	switch name {
	case "wordpress":
		return RequirementRequires
	case "php":
		return RequirementRequiresPHP
	case "tested_up_to":
		return RequirementTested
	}
	return name
}

func firstMatch(text string, patterns []*regexp.Regexp) (string, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
