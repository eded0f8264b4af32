package obs

import "strings"

// CanonicalPath collapses identifier segments so metric labels stay low
// cardinality. Unknown paths are returned as-is, minus any query string.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "patients", "appointments":
			parts[3] = ":id"
			if len(parts) <= 5 {
				return strings.Join(parts, "/")
			}
		}
	}
	return path
}
