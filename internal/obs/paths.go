package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality. Unknown paths are returned as-is.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "requests":
		return "/v1/requests/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "requests" &&
		(parts[3] == "status" || parts[3] == "history"):
		return "/v1/requests/:id/" + parts[3]
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "residents":
		return "/v1/residents/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "residents" && parts[3] == "approve":
		return "/v1/residents/:id/approve"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "notifications" && parts[3] == "read":
		return "/v1/notifications/:id/read"
	}
	return path
}
