// Package auth manages the API key that guards the mutating endpoints of
// the control surface.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

const (
	KeyFile   = "control.key"
	FilePerms = 0600 // Read/write for owner only
	// HeaderName carries the key on requests.
	HeaderName = "X-API-Key"
)

// SaveKey writes the API key to dataDir with restricted permissions
func SaveKey(dataDir, apiKey string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	keyPath := filepath.Join(dataDir, KeyFile)
	data := []byte(fmt.Sprintf("API_KEY=%s\n", apiKey))

	if err := os.WriteFile(keyPath, data, FilePerms); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}

	debug.Info("Saved control key file to: %s", keyPath)
	return nil
}

// LoadKey reads the API key from the key file
func LoadKey(dataDir string) (string, error) {
	keyPath := filepath.Join(dataDir, KeyFile)
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	var apiKey string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "API_KEY=") {
			apiKey = strings.TrimSpace(strings.TrimPrefix(line, "API_KEY="))
		}
	}

	if apiKey == "" {
		return "", fmt.Errorf("invalid key file format")
	}

	return apiKey, nil
}

// LoadOrCreateKey returns the stored key, generating and saving a new one
// on first run.
func LoadOrCreateKey(dataDir string) (string, error) {
	apiKey, err := LoadKey(dataDir)
	if err == nil {
		return apiKey, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	apiKey = uuid.NewString()
	if err := SaveKey(dataDir, apiKey); err != nil {
		return "", err
	}
	return apiKey, nil
}

// Matches compares a presented key with the expected one in constant time
func Matches(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
