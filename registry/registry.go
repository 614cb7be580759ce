package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a registry membership change.
type EventType string

const (
	// EventRegistered fires after a team is inserted or replaced.
	EventRegistered EventType = "registered"
	// EventUnregistered fires after a team is removed.
	EventUnregistered EventType = "unregistered"
)

// Event describes a membership change. Team is a deep copy.
type Event struct {
	Type EventType
	Team *Team
}

// EventHandler receives membership events. Handlers run synchronously
// under no registry lock; they must not block for long.
type EventHandler func(Event)

// Registry is the concurrent team registry. Membership changes take the
// registry write lock; health mutations take only the affected team's
// lock, so feedback for one team never blocks reads of another.
type Registry struct {
	mu    sync.RWMutex
	teams map[string]*teamEntry
	order []string // ids in first-registration order

	handlerMu sync.RWMutex
	handlers  map[int]EventHandler
	nextID    int

	logger *zap.Logger
	now    func() time.Time
}

// teamEntry pairs a team with its own lock. The entry pointer is stable
// for the lifetime of the registration, so health updates can run after
// releasing the registry lock.
type teamEntry struct {
	mu   sync.Mutex
	team Team
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		teams:    make(map[string]*teamEntry),
		handlers: make(map[int]EventHandler),
		logger:   logger.With(zap.String("component", "registry")),
		now:      time.Now,
	}
}

// Subscribe registers a membership event handler and returns an id for
// Unsubscribe.
func (r *Registry) Subscribe(h EventHandler) int {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = h
	return id
}

// Unsubscribe removes a previously registered handler.
func (r *Registry) Unsubscribe(id int) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	delete(r.handlers, id)
}

func (r *Registry) emit(ev Event) {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	for _, h := range r.handlers {
		h(ev)
	}
}

// Validate checks the registration fields shared by Register callers.
func Validate(t *Team) error {
	switch {
	case t == nil || t.ID == "":
		return ErrMissingID
	case t.Endpoint == "":
		return ErrMissingEndpoint
	case len(t.Capabilities) == 0:
		return ErrNoCapabilities
	}
	return nil
}

// Register inserts the team or replaces its descriptive fields if the id
// already exists. Re-registration is idempotent: accumulated HealthStats
// and the first-registration timestamp survive unless resetHealth is set.
func (r *Registry) Register(ctx context.Context, t *Team, resetHealth bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(t); err != nil {
		return err
	}
	in := t.Clone()
	in.Capabilities = dedupe(in.Capabilities)

	r.mu.Lock()
	entry, exists := r.teams[in.ID]
	if !exists {
		if in.RegisteredAt.IsZero() {
			in.RegisteredAt = r.now()
		}
		if in.Status == "" {
			in.Status = StatusHealthy
		}
		r.teams[in.ID] = &teamEntry{team: *in}
		r.order = append(r.order, in.ID)
		r.mu.Unlock()
		r.logger.Info("team registered",
			zap.String("team_id", in.ID),
			zap.Strings("capabilities", in.Capabilities))
		r.emit(Event{Type: EventRegistered, Team: in.Clone()})
		return nil
	}
	r.mu.Unlock()

	entry.mu.Lock()
	prevHealth := entry.team.Health
	prevStatus := entry.team.Status
	prevRegistered := entry.team.RegisteredAt
	prevChecked := entry.team.LastHealthCheckAt
	entry.team = *in
	entry.team.RegisteredAt = prevRegistered
	if resetHealth {
		entry.team.Health = HealthStats{}
		entry.team.Status = StatusHealthy
	} else {
		entry.team.Health = prevHealth
		entry.team.Status = prevStatus
		entry.team.LastHealthCheckAt = prevChecked
	}
	cp := entry.team.Clone()
	entry.mu.Unlock()

	r.logger.Info("team re-registered",
		zap.String("team_id", in.ID),
		zap.Bool("reset_health", resetHealth))
	r.emit(Event{Type: EventRegistered, Team: cp})
	return nil
}

// Unregister removes the team. Removing an absent id is a no-op.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	entry, ok := r.teams[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.teams, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	entry.mu.Lock()
	cp := entry.team.Clone()
	entry.mu.Unlock()

	r.logger.Info("team unregistered", zap.String("team_id", id))
	r.emit(Event{Type: EventUnregistered, Team: cp})
	return nil
}

// Get returns a deep copy of the team or ErrTeamNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	entry, ok := r.teams[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTeamNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.team.Clone(), nil
}

// List returns deep copies of registered teams in first-registration
// order, optionally filtered to teams declaring the given capability.
func (r *Registry) List(ctx context.Context, capability string) []*Team {
	if ctx.Err() != nil {
		return nil
	}
	r.mu.RLock()
	entries := make([]*teamEntry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.teams[id])
	}
	r.mu.RUnlock()

	out := make([]*Team, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if capability == "" || e.team.HasCapability(capability) {
			out = append(out, e.team.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Snapshot returns deep copies of every registered team.
func (r *Registry) Snapshot(ctx context.Context) []*Team {
	return r.List(ctx, "")
}

// Len reports the number of registered teams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.teams)
}

// Capabilities returns the capability inventory: every declared tag
// mapped to the ids of the teams providing it, team ids in registration
// order.
func (r *Registry) Capabilities(ctx context.Context) map[string][]string {
	inv := make(map[string][]string)
	for _, t := range r.List(ctx, "") {
		for _, c := range t.Capabilities {
			inv[c] = append(inv[c], t.ID)
		}
	}
	return inv
}

// UpdateHealth applies fn to the team's health state under the team's
// own lock. fn receives the live HealthStats, status and check timestamp
// and may mutate all three; no other team is blocked while it runs.
func (r *Registry) UpdateHealth(ctx context.Context, id string, fn func(h *HealthStats, status *TeamStatus, lastCheck *time.Time)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	entry, ok := r.teams[id]
	r.mu.RUnlock()
	if !ok {
		return ErrTeamNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(&entry.team.Health, &entry.team.Status, &entry.team.LastHealthCheckAt)
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
