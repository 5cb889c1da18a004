package simpleapi

import "strings"

// Metadata fields accepted from the upload form. Single-valued fields replace
// the stored value, multi-valued fields replace the stored list. Fields not
// listed here are ignored.
var (
	singleUseMetadata = []string{
		"summary",
		"home_page",
		"author",
		"author_email",
		"maintainer",
		"maintainer_email",
		"license",
		"description",
		"keywords",
		"comment",
		"description_content_type",
	}

	multipleUseMetadata = []string{
		"project_urls",
		"classifiers",
	}
)

// mergeMetadata folds the submitted form fields into the stored metadata map
// key by key. Existing keys not present in the form are kept.
func mergeMetadata(meta map[string]any, form map[string][]string) {
	for _, key := range singleUseMetadata {
		values, ok := form[key]
		if !ok || len(values) == 0 {
			continue
		}
		if key == "keywords" {
			meta[key] = splitKeywords(values[0])
			continue
		}
		meta[key] = values[0]
	}

	for _, key := range multipleUseMetadata {
		values, ok := form[key]
		if !ok {
			continue
		}
		meta[key] = values
	}
}

func splitKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
