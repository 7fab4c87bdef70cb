package sla

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/platform/apperr"
)

type fakeStore struct {
	mu       sync.Mutex
	clocks   map[uuid.UUID]*Clock
	settings map[uuid.UUID]Settings
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clocks:   make(map[uuid.UUID]*Clock),
		settings: make(map[uuid.UUID]Settings),
	}
}

func (s *fakeStore) CreateClock(ctx context.Context, clock *Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *clock
	s.clocks[clock.ID] = &copied
	return nil
}

func (s *fakeStore) EarliestUnsatisfied(ctx context.Context, leadID uuid.UUID) (*Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*Clock
	for _, c := range s.clocks {
		if c.LeadID == leadID && c.SatisfiedAt == nil {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, apperr.NotFound("no active sla clock for lead")
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	copied := *candidates[0]
	return &copied, nil
}

func (s *fakeStore) MarkSatisfied(ctx context.Context, clockID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clocks[clockID]
	if !ok || c.SatisfiedAt != nil {
		return false, nil
	}
	stamped := at
	c.SatisfiedAt = &stamped
	return true, nil
}

func (s *fakeStore) MarkEscalated(ctx context.Context, clockID uuid.UUID, level int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clocks[clockID]
	if !ok || c.SatisfiedAt != nil || c.EscalationLevel >= level {
		return false, nil
	}
	c.EscalationLevel = level
	stamped := at
	c.EscalatedAt = &stamped
	return true, nil
}

func (s *fakeStore) UnsatisfiedDue(ctx context.Context, asOf time.Time) ([]Clock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Clock
	for _, c := range s.clocks {
		if c.SatisfiedAt == nil && !c.AssignedAt.After(asOf) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeStore) GetSettings(ctx context.Context, teamID uuid.UUID) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[teamID]
	if !ok {
		return Settings{}, apperr.NotFound("no sla settings for team")
	}
	return settings, nil
}

func TestCreateClockTargetExactToSecond(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	assignedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	priority := 1

	clock, err := manager.CreateClock(context.Background(), uuid.New(), uuid.New(), &priority, 5, assignedAt)
	if err != nil {
		t.Fatal(err)
	}
	want := assignedAt.Add(5 * time.Minute)
	if !clock.TargetAt.Equal(want) {
		t.Errorf("targetAt = %v, want exactly %v", clock.TargetAt, want)
	}
	if clock.BusinessHoursAdjusted {
		t.Error("business hours adjustment must never be applied")
	}
	if clock.State() != StateActive {
		t.Errorf("new clock must be ACTIVE, got %s", clock.State())
	}
}

func TestCreateClockRejectsNonPositiveMinutes(t *testing.T) {
	manager := NewManager(newFakeStore(), nil)
	_, err := manager.CreateClock(context.Background(), uuid.New(), uuid.New(), nil, 0, time.Now())
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSatisfyEarliestUnresolvedClock(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	teamID, leadID := uuid.New(), uuid.New()
	base := time.Now().UTC()

	// Two clocks for the same lead; the older one must satisfy first.
	older, _ := manager.CreateClock(context.Background(), teamID, leadID, nil, 5, base.Add(-time.Hour))
	store.clocks[older.ID].CreatedAt = base.Add(-time.Hour)
	newer, _ := manager.CreateClock(context.Background(), teamID, leadID, nil, 5, base)
	store.clocks[newer.ID].CreatedAt = base

	satisfied, err := manager.Satisfy(context.Background(), leadID, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if satisfied == nil || satisfied.ID != older.ID {
		t.Fatalf("earliest clock must satisfy first, got %+v", satisfied)
	}
	if store.clocks[newer.ID].SatisfiedAt != nil {
		t.Error("the newer clock must remain active")
	}

	// Second outbound message satisfies the remaining clock.
	satisfied, err = manager.Satisfy(context.Background(), leadID, base.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if satisfied == nil || satisfied.ID != newer.ID {
		t.Fatalf("remaining clock must satisfy next, got %+v", satisfied)
	}
}

func TestSatisfyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	leadID := uuid.New()

	if _, err := manager.CreateClock(context.Background(), uuid.New(), leadID, nil, 5, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Satisfy(context.Background(), leadID, time.Now()); err != nil {
		t.Fatal(err)
	}

	// No active clock left: a further satisfy is a no-op, not an error.
	again, err := manager.Satisfy(context.Background(), leadID, time.Now())
	if err != nil {
		t.Fatalf("satisfying with no active clock must not error: %v", err)
	}
	if again != nil {
		t.Errorf("expected no-op, got %+v", again)
	}
}

func TestPendingEscalationsLadder(t *testing.T) {
	teamID := uuid.New()
	settings := DefaultSettings(teamID)
	base := time.Now().UTC()
	clock := Clock{ID: uuid.New(), TeamID: teamID, AssignedAt: base, TargetAt: base.Add(5 * time.Minute)}

	tests := []struct {
		name        string
		elapsed     time.Duration
		level       int
		wantActions []string
	}{
		{"before first level", 9 * time.Minute, 0, nil},
		{"first level due", 10 * time.Minute, 0, []string{ActionNotifyManager}},
		{"two levels due after gap", 35 * time.Minute, 0, []string{ActionNotifyManager, ActionEscalateToDirector}},
		{"already at level one", 35 * time.Minute, 1, []string{ActionEscalateToDirector}},
		{"full ladder", 90 * time.Minute, 0, []string{ActionNotifyManager, ActionEscalateToDirector, ActionEmergencyAlert}},
		{"fully escalated", 90 * time.Minute, 3, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := clock
			c.EscalationLevel = tc.level
			firings := PendingEscalations(c, settings, base.Add(tc.elapsed))
			var actions []string
			for _, f := range firings {
				actions = append(actions, f.Action)
			}
			if len(actions) != len(tc.wantActions) {
				t.Fatalf("got %v, want %v", actions, tc.wantActions)
			}
			for i := range actions {
				if actions[i] != tc.wantActions[i] {
					t.Fatalf("got %v, want %v", actions, tc.wantActions)
				}
			}
		})
	}
}

func TestEscalationDoesNotStopTheClock(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	leadID := uuid.New()
	base := time.Now().UTC().Add(-15 * time.Minute)

	clock, _ := manager.CreateClock(context.Background(), uuid.New(), leadID, nil, 5, base)

	fired, err := manager.Scan(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(fired) != 1 || fired[0].Action != ActionNotifyManager {
		t.Fatalf("expected notify_manager firing, got %+v", fired)
	}
	if store.clocks[clock.ID].SatisfiedAt != nil {
		t.Error("escalation must not satisfy the clock")
	}

	// The escalated clock still satisfies normally.
	satisfied, err := manager.Satisfy(context.Background(), leadID, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if satisfied == nil || satisfied.ID != clock.ID {
		t.Fatal("escalated clock must remain satisfiable")
	}
}

func TestScanIsIdempotentAcrossOverlappingRuns(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	base := time.Now().UTC().Add(-15 * time.Minute)
	if _, err := manager.CreateClock(context.Background(), uuid.New(), uuid.New(), nil, 5, base); err != nil {
		t.Fatal(err)
	}

	asOf := time.Now().UTC()
	first, err := manager.Scan(context.Background(), asOf)
	if err != nil {
		t.Fatal(err)
	}
	second, err := manager.Scan(context.Background(), asOf)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Errorf("each level must fire exactly once, got first=%d second=%d", len(first), len(second))
	}
}

func TestScanUsesTeamSettingsOverDefaults(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	teamID := uuid.New()
	store.settings[teamID] = Settings{
		TeamID: teamID,
		Escalation: Escalation{
			Enabled: true,
			Levels:  []EscalationLevel{{Minutes: 2, Action: "page_oncall"}},
		},
	}

	base := time.Now().UTC().Add(-5 * time.Minute)
	if _, err := manager.CreateClock(context.Background(), teamID, uuid.New(), nil, 5, base); err != nil {
		t.Fatal(err)
	}

	fired, err := manager.Scan(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(fired) != 1 || fired[0].Action != "page_oncall" {
		t.Fatalf("expected team ladder to apply, got %+v", fired)
	}
}

func TestScanSkipsDisabledEscalation(t *testing.T) {
	store := newFakeStore()
	manager := NewManager(store, nil)
	teamID := uuid.New()
	settings := DefaultSettings(teamID)
	settings.Escalation.Enabled = false
	store.settings[teamID] = settings

	base := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := manager.CreateClock(context.Background(), teamID, uuid.New(), nil, 5, base); err != nil {
		t.Fatal(err)
	}

	fired, err := manager.Scan(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(fired) != 0 {
		t.Errorf("disabled escalation must not fire, got %+v", fired)
	}
}

func TestSettingsValidate(t *testing.T) {
	teamID := uuid.New()

	valid := DefaultSettings(teamID)
	if err := valid.Validate(); err != nil {
		t.Errorf("default settings invalid: %v", err)
	}

	decreasing := DefaultSettings(teamID)
	decreasing.Escalation.Levels = []EscalationLevel{
		{Minutes: 30, Action: ActionNotifyManager},
		{Minutes: 10, Action: ActionEscalateToDirector},
	}
	if err := decreasing.Validate(); err == nil {
		t.Error("non-increasing ladder must be rejected")
	}

	badTZ := DefaultSettings(teamID)
	badTZ.BusinessHours = BusinessHours{Enabled: true, Timezone: "Not/AZone"}
	if err := badTZ.Validate(); err == nil {
		t.Error("invalid timezone must be rejected")
	}
}
