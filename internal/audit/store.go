// Package audit persists one record per dispatch outcome. The trail is a
// compliance artifact, separate from the in-memory telemetry ring: telemetry
// is lossy and ephemeral, the audit log is neither.
package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/unison-os/actuation/internal/action"
)

// Record is one audited dispatch.
type Record struct {
	ActionID       string           `json:"action_id"`
	PersonID       string           `json:"person_id"`
	Intent         string           `json:"intent"`
	DeviceID       string           `json:"device_id"`
	DeviceClass    string           `json:"device_class"`
	RiskLevel      action.RiskLevel `json:"risk_level"`
	DecisionStatus string           `json:"decision_status"`
	OutcomeStatus  string           `json:"outcome_status"`
	Driver         string           `json:"driver,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	EnvelopeHash   string           `json:"envelope_hash"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Store reads and writes audit records.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnvelopeHash computes the BLAKE3 hash of the envelope's JSON form,
// recorded for tamper evidence.
func EnvelopeHash(env *action.Envelope) string {
	data, err := json.Marshal(env)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Append writes one record. A resubmitted action ID (confirmation round
// trips) replaces the earlier row.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO action_log (
  action_id, person_id, intent, device_id, device_class, risk_level,
  decision_status, outcome_status, driver, detail, envelope_hash,
  correlation_id, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ActionID, rec.PersonID, rec.Intent, rec.DeviceID, rec.DeviceClass,
		string(rec.RiskLevel), rec.DecisionStatus, rec.OutcomeStatus, rec.Driver,
		rec.Detail, rec.EnvelopeHash, rec.CorrelationID, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// GetByActionID returns the record for one action, or nil when absent.
func (s *Store) GetByActionID(ctx context.Context, actionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT action_id, person_id, intent, device_id, device_class, risk_level,
  decision_status, outcome_status, driver, detail, envelope_hash,
  correlation_id, created_at
FROM action_log WHERE action_id = ?
`, actionID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit most recent records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT action_id, person_id, intent, device_id, device_class, risk_level,
  decision_status, outcome_status, driver, detail, envelope_hash,
  correlation_id, created_at
FROM action_log ORDER BY created_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec       Record
		risk      string
		driver    sql.NullString
		detail    sql.NullString
		corrID    sql.NullString
		createdAt string
	)
	if err := s.Scan(
		&rec.ActionID, &rec.PersonID, &rec.Intent, &rec.DeviceID, &rec.DeviceClass,
		&risk, &rec.DecisionStatus, &rec.OutcomeStatus, &driver, &detail,
		&rec.EnvelopeHash, &corrID, &createdAt,
	); err != nil {
		return nil, err
	}
	rec.RiskLevel = action.RiskLevel(risk)
	rec.Driver = driver.String
	rec.Detail = detail.String
	rec.CorrelationID = corrID.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}
