package obs

import "strings"

// CanonicalPath collapses resource identifiers embedded in request paths so
// metric label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	canonical := map[string]string{
		"threats":   ":id",
		"incidents": ":id",
		"actors":    ":id",
		"roles":     ":name",
	}
	for i := 0; i < len(parts)-1; i++ {
		if sub, ok := canonical[parts[i]]; ok {
			parts[i+1] = sub
		}
	}
	return "/" + strings.Join(parts, "/")
}
