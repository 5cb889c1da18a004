package models

import (
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName performs PEP 503 normalization: runs of "-", "_" and "." are
// collapsed to a single "-" and the result is lowercased. Idempotent.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// NormalizeNameForURL performs PEP 503 normalization and ensures the value is
// safe to use as a URL path segment.
func NormalizeNameForURL(name string) string {
	return url.PathEscape(NormalizeName(name))
}

// File is one published artifact of a version. Filenames are immutable once
// stored; no file in the registry may be silently replaced.
type File struct {
	Filename     string `json:"filename"`
	SHA256Digest string `json:"sha256_digest"`
}

// Version is one released version of a project. Metadata is an open
// string-keyed map (summary, author, description, classifiers, ...).
type Version struct {
	Version  string         `json:"version"`
	Metadata map[string]any `json:"metadata"`
	Files    []File         `json:"files"`
}

func (v *Version) metaString(key string) string {
	if s, ok := v.Metadata[key].(string); ok {
		return s
	}
	return ""
}

func (v *Version) Summary() string     { return v.metaString("summary") }
func (v *Version) Author() string      { return v.metaString("author") }
func (v *Version) Maintainer() string  { return v.metaString("maintainer") }
func (v *Version) Description() string { return v.metaString("description") }

func (v *Version) DescriptionContentType() string {
	return v.metaString("description_content_type")
}

// Classifiers returns the classifier list or nil when absent.
func (v *Version) Classifiers() []string {
	switch c := v.Metadata["classifiers"].(type) {
	case []string:
		return c
	case []any:
		out := make([]string, 0, len(c))
		for _, e := range c {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Project is the full aggregate stored in the registry: access-control lists,
// visibility and the complete version map.
type Project struct {
	Name     string
	Admins   []string
	Members  []string
	Public   bool
	Versions map[string]Version
}

// NormalizedName returns the canonical lookup key of the project.
func (p *Project) NormalizedName() string {
	return NormalizeName(p.Name)
}

// NormalizedNameForURL returns the canonical name percent-encoded for URLs.
func (p *Project) NormalizedNameForURL() string {
	return NormalizeNameForURL(p.Name)
}

// Visible reports whether user may see the project.
func (p *Project) Visible(user string) bool {
	return p.Public || slices.Contains(p.Admins, user) || slices.Contains(p.Members, user)
}

// IsAdmin reports whether user administers the project.
func (p *Project) IsAdmin(user string) bool {
	return slices.Contains(p.Admins, user)
}

// Files returns every file across all versions.
func (p *Project) Files() []File {
	var files []File
	for _, v := range p.Versions {
		files = append(files, v.Files...)
	}
	return files
}

// AddFile appends file to the given version, creating the version entry when
// it does not exist yet.
func (p *Project) AddFile(version string, file File) {
	if p.Versions == nil {
		p.Versions = map[string]Version{}
	}
	v, ok := p.Versions[version]
	if !ok {
		v = Version{Version: version, Metadata: map[string]any{}}
	}
	v.Files = append(v.Files, file)
	p.Versions[version] = v
}

// LatestVersion returns the lexicographically greatest version, or nil when
// the project has no versions yet.
func (p *Project) LatestVersion() *Version {
	if len(p.Versions) == 0 {
		return nil
	}

	keys := make([]string, 0, len(p.Versions))
	for k := range p.Versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v := p.Versions[keys[len(keys)-1]]
	return &v
}
