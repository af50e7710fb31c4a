package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// sessionStateFile is the fixed key under which the active session is
// persisted between process runs.
const sessionStateFile = "lingkod-session.json"

type persistedSession struct {
	Identity  string `json:"identity"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// saveSessionState writes the session to dir atomically. A write failure is
// not fatal to the caller; the session simply will not survive a restart.
func saveSessionState(dir string, sess *Session) error {
	if dir == "" || sess == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(persistedSession{
		Identity:  sess.Identity,
		Email:     sess.Email,
		Role:      sess.Role,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, sessionStateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, sessionStateFile))
}

// loadSessionState restores a previously persisted session. Missing or
// corrupt state means "no session"; it is never an error surfaced to users.
func loadSessionState(dir string) *Session {
	if dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, sessionStateFile))
	if err != nil {
		return nil
	}
	var ps persistedSession
	if err := json.Unmarshal(data, &ps); err != nil {
		// Corrupt entries are discarded silently.
		clearSessionState(dir)
		return nil
	}
	if ps.Identity == "" || ps.Token == "" {
		clearSessionState(dir)
		return nil
	}
	sess := &Session{
		Identity: ps.Identity,
		Email:    ps.Email,
		Role:     ps.Role,
		Token:    ps.Token,
	}
	if ps.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, ps.ExpiresAt)
		if err != nil {
			clearSessionState(dir)
			return nil
		}
		sess.ExpiresAt = t
	}
	return sess
}

func clearSessionState(dir string) {
	if dir == "" {
		return
	}
	err := os.Remove(filepath.Join(dir, sessionStateFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		// Nothing useful to do; the stale file will be overwritten on the
		// next sign-in.
		_ = err
	}
}
