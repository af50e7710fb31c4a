package httpapi

import (
	"net/http"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"  Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Basic abc123", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("header %q: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestPublicPaths(t *testing.T) {
	public := []string{"/healthz", "/readyz", "/metrics", "/openapi.yaml", "/v1/auth/login", "/v1/auth/register", "/v1/auth/session", "/v1/certificate-types"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Fatalf("%s should be public", p)
		}
	}
	protected := []string{"/v1/requests", "/v1/residents", "/v1/dashboard", "/v1/notifications", "/v1/stream", "/v1/auth/logout"}
	for _, p := range protected {
		if isPublicPath(p) {
			t.Fatalf("%s should require auth", p)
		}
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/requests", nil, authed("not-a-jwt"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRevokedApprovalRejectsToken(t *testing.T) {
	api := newTestAPI(t)
	api.addOfficial("rose@barangay.gov", "official-pass", "Rose")
	residentToken := api.registerActiveResident("juan@example.com", "resident-pass")
	officialToken := api.login("rose@barangay.gov", "official-pass")

	resp := api.get("/v1/residents", nil, authed(officialToken))
	residents := decode[map[string][]map[string]any](t, resp)
	id := residents["items"][0]["id"].(string)

	// Deleting the profile invalidates the resident's otherwise valid token.
	req, err := http.NewRequest(http.MethodDelete, api.baseURL+"/v1/residents/"+id, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+officialToken)
	delResp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", delResp.StatusCode)
	}
	delResp.Body.Close()

	resp = api.get("/v1/requests", nil, authed(residentToken))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status after delete: %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}
