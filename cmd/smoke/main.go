// Command smoke runs an end-to-end exercise against a live API: register a
// resident, approve the signup, file a certificate request, and process it.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("LINGKOD_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	officialEmail := os.Getenv("LINGKOD_BOOTSTRAP_EMAIL")
	officialPassword := os.Getenv("LINGKOD_BOOTSTRAP_PASSWORD")
	if officialEmail == "" || officialPassword == "" {
		log.Fatal("set LINGKOD_BOOTSTRAP_EMAIL and LINGKOD_BOOTSTRAP_PASSWORD")
	}

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	officialToken := c.login(officialEmail, officialPassword)

	email := fmt.Sprintf("smoke-%d@example.com", rand.Int())
	c.call(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":      email,
		"password":   "smoke-test-pass",
		"first_name": "Smoke",
		"last_name":  "Test",
		"age":        30,
		"address":    "1 Test St",
	}, http.StatusCreated)

	// The new signup is the newest pending profile.
	var residents struct {
		Items []struct {
			ID     string `json:"id"`
			Email  string `json:"email"`
			Status string `json:"status"`
		} `json:"items"`
	}
	c.callInto(http.MethodGet, "/v1/residents", officialToken, nil, http.StatusOK, &residents)
	var residentID string
	for _, r := range residents.Items {
		if r.Email == email {
			residentID = r.ID
		}
	}
	if residentID == "" {
		log.Fatalf("registered resident %s not listed", email)
	}

	c.call(http.MethodPost, "/v1/residents/"+residentID+"/approve", officialToken, nil, http.StatusOK)

	residentToken := c.login(email, "smoke-test-pass")

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	c.callInto(http.MethodPost, "/v1/requests", residentToken, map[string]any{
		"certificate_type": "Barangay Clearance",
		"purpose":          "smoke test",
	}, http.StatusCreated, &created)
	if created.Status != "Pending" {
		log.Fatalf("new request status %q, want Pending", created.Status)
	}

	c.call(http.MethodPost, "/v1/requests/"+created.ID+"/status", officialToken, map[string]any{
		"status": "Approved",
		"note":   "smoke",
	}, http.StatusOK)

	var final struct {
		Status        string  `json:"status"`
		DateProcessed *string `json:"date_processed"`
	}
	c.callInto(http.MethodGet, "/v1/requests/"+created.ID, residentToken, nil, http.StatusOK, &final)
	if final.Status != "Approved" || final.DateProcessed == nil {
		log.Fatalf("processed request: %+v", final)
	}

	// Reprocessing must be refused.
	c.call(http.MethodPost, "/v1/requests/"+created.ID+"/status", officialToken, map[string]any{
		"status": "Denied",
	}, http.StatusConflict)

	fmt.Println("smoke ok:", created.ID)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) login(email, password string) string {
	var result struct {
		OK      bool `json:"ok"`
		Session *struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	c.callInto(http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, http.StatusOK, &result)
	if !result.OK || result.Session == nil {
		log.Fatalf("login %s failed", email)
	}
	return result.Session.Token
}

func (c *client) call(method, path, token string, body any, wantStatus int) {
	c.callInto(method, path, token, body, wantStatus, nil)
}

func (c *client) callInto(method, path, token string, body any, wantStatus int, out any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}
