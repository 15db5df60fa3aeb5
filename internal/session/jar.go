package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"canvasrelay/pkg/types"
)

// Snapshot is the persisted session state: the cookies captured after an
// interactive login, reused by every subsequent run.
type Snapshot struct {
	SavedAt time.Time             `json:"saved_at"`
	Cookies []types.SessionCookie `json:"cookies"`
}

// Map flattens the snapshot into a read-only cookie set for HTTP workers.
func (s Snapshot) Map() types.Cookies {
	return types.CookiesFrom(s.Cookies)
}

// Jar reads and writes the session snapshot on disk.
type Jar struct {
	path string
}

// DefaultJarPath places the snapshot under the user state directory.
func DefaultJarPath() string {
	path, err := xdg.StateFile("canvasrelay/session.json")
	if err != nil {
		return "session.json"
	}
	return path
}

// NewJar creates a jar at the given path, or the default location when
// the path is empty.
func NewJar(path string) *Jar {
	if path == "" {
		path = DefaultJarPath()
	}
	return &Jar{path: path}
}

// Path returns the on-disk location of the snapshot.
func (j *Jar) Path() string {
	return j.path
}

// Load reads the persisted snapshot. A missing file returns an empty
// snapshot and no error; the caller decides whether to trigger recovery.
func (j *Jar) Load() (Snapshot, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read session state: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode session state: %w", err)
	}
	return snap, nil
}

// Save persists the snapshot, creating parent directories as needed.
func (j *Jar) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create session state dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.WriteFile(j.path, data, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
