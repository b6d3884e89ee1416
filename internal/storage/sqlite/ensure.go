package sqlite

import (
	"github.com/felixgeelhaar/cadence/internal/progress"
	"github.com/felixgeelhaar/cadence/internal/session"
)

// Ensure SQLite stores implement the storage interfaces.
var (
	_ session.SessionStore = (*SessionStore)(nil)
	_ progress.Backend     = (*Backend)(nil)
	_ progress.OutboxStore = (*OutboxStore)(nil)
)
