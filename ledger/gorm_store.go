package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/relayops/teamgate/routing"
)

// decisionRecord is the GORM row backing a persisted routing decision.
type decisionRecord struct {
	ID                   string    `gorm:"primaryKey;size:36"`
	FromTeam             string    `gorm:"size:128;index"`
	ToTeam               string    `gorm:"size:128;index"`
	TaskDescription      string    `gorm:"type:text"`
	RequiredCapabilities string    `gorm:"type:text"` // JSON array
	Candidates           string    `gorm:"type:text"` // JSON array
	Strategy             string    `gorm:"size:32"`
	Status               string    `gorm:"size:16;index"`
	ResponseTimeMs       int64     `gorm:"default:0"`
	ErrorMessage         string    `gorm:"type:text"`
	RoutedAt             time.Time `gorm:"index"`
	CompletedAt          *time.Time
}

// TableName keeps the table name stable across GORM naming strategies.
func (decisionRecord) TableName() string { return "gateway_routing_log" }

// GormStore persists routing decisions through GORM.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open GORM handle. Run MigrateDecisions first.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// MigrateDecisions creates or updates the routing log schema.
func MigrateDecisions(db *gorm.DB) error {
	if err := db.AutoMigrate(&decisionRecord{}); err != nil {
		return fmt.Errorf("migrate routing log table: %w", err)
	}
	return nil
}

// Insert implements Store.
func (s *GormStore) Insert(ctx context.Context, d *routing.Decision) error {
	rec, err := toDecisionRecord(d)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// Update implements Store.
func (s *GormStore) Update(ctx context.Context, d *routing.Decision) error {
	rec, err := toDecisionRecord(d)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&decisionRecord{}).Where("id = ?", d.ID).Updates(map[string]any{
		"status":           rec.Status,
		"response_time_ms": rec.ResponseTimeMs,
		"error_message":    rec.ErrorMessage,
		"completed_at":     rec.CompletedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update decision %s: %w", d.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, id string) (*routing.Decision, error) {
	var rec decisionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return fromDecisionRecord(&rec)
}

// Scan implements Store.
func (s *GormStore) Scan(ctx context.Context, from, to time.Time, limit int) ([]*routing.Decision, error) {
	q := s.db.WithContext(ctx).Model(&decisionRecord{}).Order("routed_at desc")
	if !from.IsZero() {
		q = q.Where("routed_at >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("routed_at < ?", to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []decisionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("scan decisions: %w", err)
	}
	out := make([]*routing.Decision, 0, len(recs))
	for i := range recs {
		d, err := fromDecisionRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func toDecisionRecord(d *routing.Decision) (*decisionRecord, error) {
	caps, err := json.Marshal(d.RequiredCapabilities)
	if err != nil {
		return nil, fmt.Errorf("encode capabilities for %s: %w", d.ID, err)
	}
	cands, err := json.Marshal(d.Candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates for %s: %w", d.ID, err)
	}
	rec := &decisionRecord{
		ID:                   d.ID,
		FromTeam:             d.FromTeam,
		ToTeam:               d.ToTeam,
		TaskDescription:      d.TaskDescription,
		RequiredCapabilities: string(caps),
		Candidates:           string(cands),
		Strategy:             string(d.Strategy),
		Status:               string(d.Status),
		ResponseTimeMs:       d.ResponseTimeMs,
		ErrorMessage:         d.ErrorMessage,
		RoutedAt:             d.RoutedAt,
	}
	if !d.CompletedAt.IsZero() {
		ts := d.CompletedAt
		rec.CompletedAt = &ts
	}
	return rec, nil
}

func fromDecisionRecord(rec *decisionRecord) (*routing.Decision, error) {
	d := &routing.Decision{
		ID:              rec.ID,
		FromTeam:        rec.FromTeam,
		ToTeam:          rec.ToTeam,
		TaskDescription: rec.TaskDescription,
		Strategy:        routing.Strategy(rec.Strategy),
		Status:          routing.DecisionStatus(rec.Status),
		ResponseTimeMs:  rec.ResponseTimeMs,
		ErrorMessage:    rec.ErrorMessage,
		RoutedAt:        rec.RoutedAt,
	}
	if rec.RequiredCapabilities != "" {
		if err := json.Unmarshal([]byte(rec.RequiredCapabilities), &d.RequiredCapabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities for %s: %w", rec.ID, err)
		}
	}
	if rec.Candidates != "" {
		if err := json.Unmarshal([]byte(rec.Candidates), &d.Candidates); err != nil {
			return nil, fmt.Errorf("decode candidates for %s: %w", rec.ID, err)
		}
	}
	if rec.CompletedAt != nil {
		d.CompletedAt = *rec.CompletedAt
	}
	return d, nil
}
