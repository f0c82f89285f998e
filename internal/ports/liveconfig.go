package ports

import (
	"context"

	"github.com/synebula/cc-switch/internal/domain"
)

// LiveConfigAdapter pushes the now-current provider's settings into the
// device-level config file the client tool (Claude Code, Codex, Gemini,
// OpenCode) actually reads, so a switch takes effect without a tool
// restart. Calls are best-effort: a failure here never rolls back the
// Store's is_current change (spec.md §4.4).
type LiveConfigAdapter interface {
	SetCurrentProvider(ctx context.Context, app domain.App, settingsJSON []byte) error
	Restore(ctx context.Context, app domain.App, backupJSON []byte) error
}
