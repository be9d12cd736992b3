package casekeeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// snapshotNoMessage is the sentinel stored for an occupied channel whose
// occupying message couldn't be determined.
const snapshotNoMessage = "none"

// writeSnapshot persists the channel-to-message claims map as a flat JSON
// object. It's written on disconnect and graceful shutdown, and is the only
// state the support pool can't rebuild from the guild itself.
func writeSnapshot(path string, claims map[string]string) error {
	parentDir := filepath.Dir(path)
	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0755); err != nil {
			if !errors.Is(err, os.ErrExist) {
				return fmt.Errorf("creating snapshot directory: %w", err)
			}
		}
	}
	data, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// loadSnapshot reads the claims map and deletes the file - it's a transient
// snapshot, not a running log. A missing file returns an empty map.
func loadSnapshot(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	claims := map[string]string{}
	if err = json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	if err = os.Remove(path); err != nil {
		return claims, fmt.Errorf("removing snapshot %s: %w", path, err)
	}
	return claims, nil
}
