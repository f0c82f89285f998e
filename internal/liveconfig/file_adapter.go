// Package liveconfig implements ports.LiveConfigAdapter by writing each
// app's current-provider settings to its own <app>.json file in one directory,
// mirroring the device-level settings files the original Tauri app wrote
// directly (original_source crate settings::set_current_provider). Atomic
// write-then-rename is plain os/stdlib: no example in the corpus carries a
// dedicated atomic-file-write dependency, and the operation is a three-line
// OS primitive that a library would only wrap.
package liveconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synebula/cc-switch/internal/domain"
)

// FileAdapter writes one settings file per app under Dir, named
// "<app>.json". Restore overwrites the same file with the backup payload.
type FileAdapter struct {
	Dir string
}

// NewFileAdapter ensures dir exists and returns an adapter rooted there.
func NewFileAdapter(dir string) (*FileAdapter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("liveconfig: create dir: %w", err)
	}
	return &FileAdapter{Dir: dir}, nil
}

func (a *FileAdapter) path(app domain.App) string {
	return filepath.Join(a.Dir, string(app)+".json")
}

// SetCurrentProvider atomically replaces the app's settings file.
func (a *FileAdapter) SetCurrentProvider(ctx context.Context, app domain.App, settingsJSON []byte) error {
	return a.writeAtomic(a.path(app), settingsJSON)
}

// Restore overwrites the app's settings file with a prior backup payload.
func (a *FileAdapter) Restore(ctx context.Context, app domain.App, backupJSON []byte) error {
	return a.writeAtomic(a.path(app), backupJSON)
}

func (a *FileAdapter) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("liveconfig: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("liveconfig: rename into place: %w", err)
	}
	return nil
}
