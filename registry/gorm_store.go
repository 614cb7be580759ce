package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// teamRecord is the GORM row backing a persisted team.
type teamRecord struct {
	ID                  string    `gorm:"primaryKey;size:128"`
	Name                string    `gorm:"size:255"`
	Endpoint            string    `gorm:"size:512;not null"`
	HealthEndpoint      string    `gorm:"size:512"`
	Capabilities        string    `gorm:"type:text;not null"` // JSON array
	Metadata            string    `gorm:"type:text"`          // JSON object
	Status              string    `gorm:"size:16;index"`
	SuccessCount        int64     `gorm:"default:0"`
	ErrorCount          int64     `gorm:"default:0"`
	TotalResponseTimeMs int64     `gorm:"default:0"`
	ConsecutiveFailures int       `gorm:"default:0"`
	CircuitBreakerOpen  bool      `gorm:"default:false"`
	BreakerOpenedAt     *time.Time
	RegisteredAt        time.Time `gorm:"index"`
	LastHealthCheckAt   *time.Time
	UpdatedAt           time.Time
}

// TableName keeps the table name stable across GORM naming strategies.
func (teamRecord) TableName() string { return "gateway_teams" }

// GormStore persists teams through GORM. It works against sqlite,
// postgres and mysql.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open GORM handle. Run MigrateTeams first.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// MigrateTeams creates or updates the team table schema.
func MigrateTeams(db *gorm.DB) error {
	if err := db.AutoMigrate(&teamRecord{}); err != nil {
		return fmt.Errorf("migrate team table: %w", err)
	}
	return nil
}

// SaveTeam upserts the team row keyed by id.
func (s *GormStore) SaveTeam(ctx context.Context, t *Team) error {
	rec, err := toRecord(t)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save team %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTeam removes the team row.
func (s *GormStore) DeleteTeam(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&teamRecord{}, "id = ?", id).Error
	if err != nil {
		return fmt.Errorf("delete team %s: %w", id, err)
	}
	return nil
}

// LoadTeams returns all persisted teams ordered by first registration.
func (s *GormStore) LoadTeams(ctx context.Context) ([]*Team, error) {
	var recs []teamRecord
	err := s.db.WithContext(ctx).Order("registered_at asc").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}
	out := make([]*Team, 0, len(recs))
	for i := range recs {
		t, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func toRecord(t *Team) (*teamRecord, error) {
	caps, err := json.Marshal(t.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("encode capabilities for %s: %w", t.ID, err)
	}
	rec := &teamRecord{
		ID:                  t.ID,
		Name:                t.Name,
		Endpoint:            t.Endpoint,
		HealthEndpoint:      t.HealthEndpoint,
		Capabilities:        string(caps),
		Status:              string(t.Status),
		SuccessCount:        t.Health.SuccessCount,
		ErrorCount:          t.Health.ErrorCount,
		TotalResponseTimeMs: t.Health.TotalResponseTimeMs,
		ConsecutiveFailures: t.Health.ConsecutiveFailures,
		CircuitBreakerOpen:  t.Health.CircuitBreakerOpen,
		RegisteredAt:        t.RegisteredAt,
	}
	if len(t.Metadata) > 0 {
		meta, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", t.ID, err)
		}
		rec.Metadata = string(meta)
	}
	if !t.Health.BreakerOpenedAt.IsZero() {
		ts := t.Health.BreakerOpenedAt
		rec.BreakerOpenedAt = &ts
	}
	if !t.LastHealthCheckAt.IsZero() {
		ts := t.LastHealthCheckAt
		rec.LastHealthCheckAt = &ts
	}
	return rec, nil
}

func fromRecord(rec *teamRecord) (*Team, error) {
	t := &Team{
		ID:             rec.ID,
		Name:           rec.Name,
		Endpoint:       rec.Endpoint,
		HealthEndpoint: rec.HealthEndpoint,
		Status:         TeamStatus(rec.Status),
		Health: HealthStats{
			SuccessCount:        rec.SuccessCount,
			ErrorCount:          rec.ErrorCount,
			TotalResponseTimeMs: rec.TotalResponseTimeMs,
			ConsecutiveFailures: rec.ConsecutiveFailures,
			CircuitBreakerOpen:  rec.CircuitBreakerOpen,
		},
		RegisteredAt: rec.RegisteredAt,
	}
	if err := json.Unmarshal([]byte(rec.Capabilities), &t.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities for %s: %w", rec.ID, err)
	}
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", rec.ID, err)
		}
	}
	if rec.BreakerOpenedAt != nil {
		t.Health.BreakerOpenedAt = *rec.BreakerOpenedAt
	}
	if rec.LastHealthCheckAt != nil {
		t.LastHealthCheckAt = *rec.LastHealthCheckAt
	}
	return t, nil
}
