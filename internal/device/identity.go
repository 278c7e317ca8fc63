package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type identity struct {
	DeviceID  string    `json:"device_id"`
	Hostname  string    `json:"hostname,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Load returns the device id stored at path, creating one on first run. The id
// attributes leases and sync bookkeeping, so it must survive restarts.
func Load(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("device: identity path is required")
	}
	raw, err := os.ReadFile(trimmed)
	switch {
	case err == nil:
		var id identity
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("device: decode %s: %w", trimmed, err)
		}
		if _, err := uuid.Parse(id.DeviceID); err != nil {
			return "", fmt.Errorf("device: invalid id in %s: %w", trimmed, err)
		}
		return id.DeviceID, nil
	case os.IsNotExist(err):
		return create(trimmed)
	default:
		return "", err
	}
}

func create(path string) (string, error) {
	host, _ := os.Hostname()
	id := identity{DeviceID: uuid.NewString(), Hostname: host, CreatedAt: time.Now().UTC()}
	if err := write(path, id); err != nil {
		return "", err
	}
	return id.DeviceID, nil
}

func write(path string, id identity) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	payload, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
