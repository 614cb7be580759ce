package registry

import (
	"context"
)

// Store persists registry membership and accumulated health so a restart
// resumes with warm statistics. The in-memory registry stays the source
// of truth; the store is written through on membership changes and on a
// periodic flush.
type Store interface {
	// SaveTeam upserts the team row.
	SaveTeam(ctx context.Context, t *Team) error
	// DeleteTeam removes the team row. Absent rows are a no-op.
	DeleteTeam(ctx context.Context, id string) error
	// LoadTeams returns all persisted teams, oldest registration first.
	LoadTeams(ctx context.Context) ([]*Team, error)
}
