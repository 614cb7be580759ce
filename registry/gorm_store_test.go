package registry

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, MigrateTeams(db))
	return NewGormStore(db)
}

func TestGormStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	team := &Team{
		ID:           "sales",
		Name:         "Sales Team",
		Endpoint:     "http://sales.local:8080",
		Capabilities: []string{"sales", "crm"},
		Metadata:     map[string]string{"region": "emea"},
		Status:       StatusUnhealthy,
		Health: HealthStats{
			SuccessCount:        9,
			ErrorCount:          1,
			TotalResponseTimeMs: 4500,
			ConsecutiveFailures: 3,
			CircuitBreakerOpen:  true,
			BreakerOpenedAt:     opened,
		},
		RegisteredAt: opened.Add(-time.Hour),
	}
	require.NoError(t, s.SaveTeam(ctx, team))

	loaded, err := s.LoadTeams(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, team.ID, got.ID)
	assert.Equal(t, team.Capabilities, got.Capabilities)
	assert.Equal(t, team.Metadata, got.Metadata)
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Equal(t, int64(9), got.Health.SuccessCount)
	assert.True(t, got.Health.CircuitBreakerOpen)
	assert.True(t, opened.Equal(got.Health.BreakerOpenedAt))
}

func TestGormStoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	team := &Team{
		ID:           "t1",
		Endpoint:     "http://t1.local",
		Capabilities: []string{"a"},
		RegisteredAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveTeam(ctx, team))

	team.Endpoint = "http://t1-v2.local"
	team.Health.SuccessCount = 5
	require.NoError(t, s.SaveTeam(ctx, team))

	loaded, err := s.LoadTeams(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "http://t1-v2.local", loaded[0].Endpoint)
	assert.Equal(t, int64(5), loaded[0].Health.SuccessCount)
}

func TestGormStoreDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteTeam(ctx, "absent"))

	team := &Team{
		ID:           "t1",
		Endpoint:     "http://t1.local",
		Capabilities: []string{"a"},
		RegisteredAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveTeam(ctx, team))
	require.NoError(t, s.DeleteTeam(ctx, "t1"))

	loaded, err := s.LoadTeams(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestGormStoreLoadOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.SaveTeam(ctx, &Team{
			ID:           id,
			Endpoint:     "http://" + id,
			Capabilities: []string{"x"},
			RegisteredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	loaded, err := s.LoadTeams(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "b", loaded[0].ID)
	assert.Equal(t, "a", loaded[1].ID)
	assert.Equal(t, "c", loaded[2].ID)
}
