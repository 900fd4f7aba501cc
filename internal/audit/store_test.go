package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "actions.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func sampleRecord(actionID string) *Record {
	return &Record{
		ActionID:       actionID,
		PersonID:       "person-1",
		Intent:         "turn_on",
		DeviceID:       "lamp-1",
		DeviceClass:    "light",
		RiskLevel:      action.RiskLow,
		DecisionStatus: "permitted",
		OutcomeStatus:  "completed",
		Driver:         "mock-home",
		EnvelopeHash:   "abc123",
	}
}

func TestAppendAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	rec := sampleRecord("act-1")
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.GetByActionID(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("GetByActionID: %v", err)
	}
	if got == nil {
		t.Fatal("record not found")
	}
	if got.PersonID != "person-1" || got.OutcomeStatus != "completed" || got.Driver != "mock-home" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.RiskLevel != action.RiskLow {
		t.Fatalf("risk_level = %q", got.RiskLevel)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not persisted")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	got, err := s.GetByActionID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByActionID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestAppendReplacesSameActionID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	first := sampleRecord("act-1")
	first.OutcomeStatus = "awaiting_confirmation"
	if err := s.Append(context.Background(), first); err != nil {
		t.Fatalf("Append: %v", err)
	}

	second := sampleRecord("act-1")
	if err := s.Append(context.Background(), second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.GetByActionID(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("GetByActionID: %v", err)
	}
	if got.OutcomeStatus != "completed" {
		t.Fatalf("outcome = %q, want completed after replace", got.OutcomeStatus)
	}

	recs, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
}

func TestRecentNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		rec := sampleRecord(fmt.Sprintf("act-%d", i))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	recs, err := s.Recent(context.Background(), 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	if recs[0].ActionID != "act-4" || recs[2].ActionID != "act-2" {
		t.Fatalf("unexpected order: %s .. %s", recs[0].ActionID, recs[2].ActionID)
	}

	// limit <= 0 defaults to 20.
	recs, err = s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("len = %d, want 5", len(recs))
	}
}

func TestEnvelopeHashDeterministic(t *testing.T) {
	t.Parallel()

	env := &action.Envelope{
		ActionID: "act-1",
		PersonID: "person-1",
		Target:   action.Target{DeviceID: "lamp-1", DeviceClass: "light"},
		Intent:   action.Intent{Name: "turn_on"},
	}

	h1 := EnvelopeHash(env)
	h2 := EnvelopeHash(env)
	if h1 == "" || h1 != h2 {
		t.Fatalf("hash not deterministic: %q vs %q", h1, h2)
	}

	env.Intent.Name = "turn_off"
	if EnvelopeHash(env) == h1 {
		t.Fatal("hash unchanged after envelope mutation")
	}
}
