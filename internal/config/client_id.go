package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const clientIDFileName = "client_id"

// EnsureClientID returns the persistent client session identifier for
// this installation, generating and persisting one on first use. The
// identifier is sent on every backend call so the server can correlate
// requests across process restarts; it carries no authentication
// weight.
func EnsureClientID(configPath string) (string, error) {
	idPath := filepath.Join(configPath, clientIDFileName)

	data, err := os.ReadFile(idPath)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		// Corrupt file; fall through and regenerate.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read client id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to persist client id: %w", err)
	}
	return id, nil
}
