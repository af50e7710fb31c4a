package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/requests":                  "/v1/requests",
		"/v1/requests/abc":              "/v1/requests/:id",
		"/v1/requests/abc/status":       "/v1/requests/:id/status",
		"/v1/requests/abc/history":      "/v1/requests/:id/history",
		"/v1/residents/xyz":             "/v1/residents/:id",
		"/v1/residents/xyz/approve":     "/v1/residents/:id/approve",
		"/v1/notifications/n1/read":     "/v1/notifications/:id/read",
		"/v1/requests?status=Pending":   "/v1/requests",
		"/v1/residents/xyz/extra/parts": "/v1/residents/xyz/extra/parts",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
