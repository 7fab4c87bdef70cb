package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/dedupe"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/routing"
	"leadflow_backend/internal/rules"
	"leadflow_backend/internal/scoring"
	"leadflow_backend/internal/sla"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// fakeTx hands the same in-memory stores to every run. There is no real
// transaction; atomicity is not what these tests exercise.
type fakeTx struct {
	stores Stores
	fail   error
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	if f.fail != nil {
		return f.fail
	}
	return fn(ctx, f.stores)
}

type fakeDedupeStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
	keys  map[string]uuid.UUID
}

func newFakeDedupeStore() *fakeDedupeStore {
	return &fakeDedupeStore{leads: make(map[uuid.UUID]*domain.Lead), keys: make(map[string]uuid.UUID)}
}

func keyID(teamID uuid.UUID, key dedupe.Key) string {
	return teamID.String() + "|" + string(key.Type) + "|" + key.Value
}

func (s *fakeDedupeStore) FindByKey(ctx context.Context, teamID uuid.UUID, key dedupe.Key) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[keyID(teamID, key)]
	if !ok {
		return nil, apperr.NotFound("no lead for key")
	}
	copied := *s.leads[id]
	return &copied, nil
}

func (s *fakeDedupeStore) CreateLead(ctx context.Context, lead *domain.Lead, keys []dedupe.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if _, taken := s.keys[keyID(lead.TeamID, key)]; taken {
			return apperr.Conflict("identity key already registered")
		}
	}
	copied := *lead
	s.leads[lead.ID] = &copied
	for _, key := range keys {
		s.keys[keyID(lead.TeamID, key)] = lead.ID
	}
	return nil
}

func (s *fakeDedupeStore) UpdateLead(ctx context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lead
	s.leads[lead.ID] = &copied
	return nil
}

func (s *fakeDedupeStore) RegisterKeys(ctx context.Context, teamID, leadID uuid.UUID, keys []dedupe.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if _, taken := s.keys[keyID(teamID, key)]; !taken {
			s.keys[keyID(teamID, key)] = leadID
		}
	}
	return nil
}

func (s *fakeDedupeStore) ConsolidateSubmission(ctx context.Context, leadID uuid.UUID, incoming domain.NormalizedLead) (dedupe.MergeStats, error) {
	return dedupe.MergeStats{ConsolidatedEvents: 1}, nil
}

type fakeDirectory struct {
	mu     sync.Mutex
	owners map[uuid.UUID]*routing.Owner
	pools  map[string][]uuid.UUID
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{owners: make(map[uuid.UUID]*routing.Owner), pools: make(map[string][]uuid.UUID)}
}

func (d *fakeDirectory) addPoolOwner(pool string, o routing.Owner) uuid.UUID {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	copied := o
	d.owners[o.ID] = &copied
	d.pools[pool] = append(d.pools[pool], o.ID)
	return o.ID
}

func (d *fakeDirectory) GetOwner(ctx context.Context, teamID, ownerID uuid.UUID) (routing.Owner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.owners[ownerID]
	if !ok {
		return routing.Owner{}, apperr.NotFound("owner not found")
	}
	return *o, nil
}

func (d *fakeDirectory) PoolMembers(ctx context.Context, teamID uuid.UUID, pool string) ([]routing.Owner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []routing.Owner
	for _, id := range d.pools[pool] {
		out = append(out, *d.owners[id])
	}
	return out, nil
}

func (d *fakeDirectory) Reserve(ctx context.Context, teamID, ownerID uuid.UUID, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.owners[ownerID]
	if !ok || !o.Active || o.CurrentLoad >= o.Capacity {
		return apperr.Conflict("owner at capacity")
	}
	o.CurrentLoad++
	o.LastAssignedAt = &at
	return nil
}

type fakeRuleSource struct {
	rules []routing.Rule
}

func (f *fakeRuleSource) ListRules(ctx context.Context, teamID uuid.UUID) ([]routing.Rule, error) {
	return f.rules, nil
}

type fakeSLAStore struct {
	mu       sync.Mutex
	clocks   map[uuid.UUID]*sla.Clock
	settings map[uuid.UUID]sla.Settings
}

func newFakeSLAStore() *fakeSLAStore {
	return &fakeSLAStore{clocks: make(map[uuid.UUID]*sla.Clock), settings: make(map[uuid.UUID]sla.Settings)}
}

func (s *fakeSLAStore) CreateClock(ctx context.Context, clock *sla.Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *clock
	s.clocks[clock.ID] = &copied
	return nil
}

func (s *fakeSLAStore) EarliestUnsatisfied(ctx context.Context, leadID uuid.UUID) (*sla.Clock, error) {
	return nil, apperr.NotFound("no active clock")
}

func (s *fakeSLAStore) MarkSatisfied(ctx context.Context, clockID uuid.UUID, at time.Time) (bool, error) {
	return false, nil
}

func (s *fakeSLAStore) MarkEscalated(ctx context.Context, clockID uuid.UUID, level int, at time.Time) (bool, error) {
	return false, nil
}

func (s *fakeSLAStore) UnsatisfiedDue(ctx context.Context, asOf time.Time) ([]sla.Clock, error) {
	return nil, nil
}

func (s *fakeSLAStore) GetSettings(ctx context.Context, teamID uuid.UUID) (sla.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[teamID]
	if !ok {
		return sla.Settings{}, apperr.NotFound("no sla settings")
	}
	return settings, nil
}

type assignment struct {
	leadID  uuid.UUID
	ownerID uuid.UUID
}

type fakeLeadWriter struct {
	mu          sync.Mutex
	assignments []assignment
	timeline    []string
	failOn      string
}

func (w *fakeLeadWriter) AssignOwner(ctx context.Context, teamID, leadID, ownerID uuid.UUID, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assignments = append(w.assignments, assignment{leadID: leadID, ownerID: ownerID})
	return nil
}

func (w *fakeLeadWriter) CreateTimelineEvent(ctx context.Context, leadID uuid.UUID, eventType string, payload map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn == eventType {
		return apperr.Internal("timeline write failed")
	}
	w.timeline = append(w.timeline, eventType)
	return nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *capturingBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *capturingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *capturingBus) Subscribe(eventName string, handler events.Handler) {}

func (b *capturingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

// defaultsLoader falls through to the embedded scoring defaults.
type noConfigSource struct{}

func (noConfigSource) GetActiveConfig(ctx context.Context, teamID uuid.UUID) (scoring.Config, error) {
	return scoring.Config{}, apperr.NotFound("no config")
}

func (noConfigSource) ListRules(ctx context.Context, teamID uuid.UUID) ([]scoring.Rule, error) {
	return nil, nil
}

type fixture struct {
	pipeline  *Pipeline
	dedupe    *fakeDedupeStore
	directory *fakeDirectory
	ruleSrc   *fakeRuleSource
	slaStore  *fakeSLAStore
	leads     *fakeLeadWriter
	bus       *capturingBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("test")
	f := &fixture{
		dedupe:    newFakeDedupeStore(),
		directory: newFakeDirectory(),
		ruleSrc:   &fakeRuleSource{},
		slaStore:  newFakeSLAStore(),
		leads:     &fakeLeadWriter{},
		bus:       &capturingBus{},
	}
	tx := &fakeTx{stores: Stores{
		Dedupe:       f.dedupe,
		Directory:    f.directory,
		RoutingRules: f.ruleSrc,
		SLA:          f.slaStore,
		Leads:        f.leads,
	}}
	f.pipeline = New(tx, dedupe.NewInProcessLock(), scoring.NewLoader(noConfigSource{}, log),
		rules.NewEvaluator(log), f.bus, log, "US")
	return f
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func highBandPoolRule(pool string) routing.Rule {
	return routing.Rule{
		ID:      uuid.New(),
		Name:    "high band to pool",
		Order:   10,
		Enabled: true,
		Conditions: []rules.Condition{
			{Field: "band", Operator: rules.OpEquals, Value: "HIGH"},
		},
		Then: routing.Action{
			AssignPool: strPtr(pool),
			Priority:   intPtr(1),
			SLAMinutes: intPtr(5),
			Alerts:     []routing.AlertChannel{routing.AlertSlack},
		},
	}
}

// hotLead scores into the HIGH band under the default scoring config.
func hotLead() domain.NormalizedLead {
	return domain.NormalizedLead{
		Email:   "ceo@bigcorp.com",
		Name:    "Dana Reeve",
		Company: "BigCorp",
		Source:  "demo_request",
		Fields:  map[string]any{"jobTitle": "CEO", "timeline": "asap"},
		UTM:     map[string]any{"source": "google-ads", "medium": "cpc"},
	}
}

func TestProcessNewLeadEndToEnd(t *testing.T) {
	f := newFixture(t)
	teamID := uuid.New()
	ownerID := f.directory.addPoolOwner("AE_POOL_A", routing.Owner{Name: "Alex", Active: true, Capacity: 5})
	f.ruleSrc.rules = []routing.Rule{highBandPoolRule("AE_POOL_A")}

	outcome, err := f.pipeline.Process(context.Background(), teamID, hotLead(), dedupe.PolicyMerge)
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Dedupe.Action != dedupe.ActionCreated {
		t.Fatalf("expected created, got %s", outcome.Dedupe.Action)
	}
	if outcome.Scoring.Band != domain.BandHigh {
		t.Fatalf("fixture lead must score HIGH, got %s (score %d)", outcome.Scoring.Band, outcome.Scoring.Score)
	}
	if outcome.Routing == nil || !outcome.Routing.Assigned() || *outcome.Routing.OwnerID != ownerID {
		t.Fatalf("expected assignment to pool owner, got %+v", outcome.Routing)
	}
	if len(f.leads.assignments) != 1 || f.leads.assignments[0].ownerID != ownerID {
		t.Errorf("assignment must be persisted, got %v", f.leads.assignments)
	}

	if outcome.Clock == nil {
		t.Fatal("expected an sla clock")
	}
	want := outcome.Clock.AssignedAt.Add(5 * time.Minute)
	if !outcome.Clock.TargetAt.Equal(want) {
		t.Errorf("clock target = %v, want %v", outcome.Clock.TargetAt, want)
	}

	wantTimeline := []string{"lead.scored", "lead.routed"}
	if len(f.leads.timeline) != len(wantTimeline) {
		t.Fatalf("timeline = %v, want %v", f.leads.timeline, wantTimeline)
	}
	for i, ev := range wantTimeline {
		if f.leads.timeline[i] != ev {
			t.Errorf("timeline[%d] = %s, want %s", i, f.leads.timeline[i], ev)
		}
	}

	names := f.bus.names()
	wantEvents := []string{"leads.lead.created", "leads.lead.routed", "sla.clock.created"}
	if len(names) != len(wantEvents) {
		t.Fatalf("published %v, want %v", names, wantEvents)
	}
	for i, name := range wantEvents {
		if names[i] != name {
			t.Errorf("event[%d] = %s, want %s", i, names[i], name)
		}
	}
}

func TestProcessDuplicateMergesWithoutRerouting(t *testing.T) {
	f := newFixture(t)
	teamID := uuid.New()
	f.directory.addPoolOwner("AE_POOL_A", routing.Owner{Name: "Alex", Active: true, Capacity: 5})
	f.ruleSrc.rules = []routing.Rule{highBandPoolRule("AE_POOL_A")}

	first, err := f.pipeline.Process(context.Background(), teamID, hotLead(), dedupe.PolicyMerge)
	if err != nil {
		t.Fatal(err)
	}

	second, err := f.pipeline.Process(context.Background(), teamID, hotLead(), dedupe.PolicyMerge)
	if err != nil {
		t.Fatal(err)
	}
	if second.Dedupe.Action != dedupe.ActionMerged {
		t.Fatalf("expected merged, got %s", second.Dedupe.Action)
	}
	if second.Dedupe.LeadID != first.Dedupe.LeadID {
		t.Error("merge must resolve to the original lead")
	}
	if second.Routing != nil || second.Clock != nil {
		t.Error("a merged submission must not re-route or open a new clock")
	}
	if len(f.leads.assignments) != 1 {
		t.Errorf("expected one assignment total, got %d", len(f.leads.assignments))
	}

	names := f.bus.names()
	if len(names) == 0 || names[len(names)-1] != "leads.lead.merged" {
		t.Errorf("expected a merged event last, got %v", names)
	}
}

func TestProcessUnroutedLeadStaysUnassigned(t *testing.T) {
	f := newFixture(t)
	teamID := uuid.New()
	// No routing rules configured at all.

	outcome, err := f.pipeline.Process(context.Background(), teamID, hotLead(), dedupe.PolicyMerge)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Routing == nil || outcome.Routing.Assigned() {
		t.Fatalf("expected unassigned outcome, got %+v", outcome.Routing)
	}
	if outcome.Routing.Reason != routing.ReasonNoRuleMatched {
		t.Errorf("reason = %s, want %s", outcome.Routing.Reason, routing.ReasonNoRuleMatched)
	}
	if outcome.Clock != nil {
		t.Error("unassigned lead must not get an sla clock")
	}
	if len(f.leads.assignments) != 0 {
		t.Errorf("no assignment expected, got %v", f.leads.assignments)
	}

	names := f.bus.names()
	wantEvents := []string{"leads.lead.created", "leads.lead.unassigned"}
	if len(names) != len(wantEvents) || names[1] != wantEvents[1] {
		t.Errorf("published %v, want %v", names, wantEvents)
	}
}

func TestProcessResolvesSLAFromPriorityThresholds(t *testing.T) {
	f := newFixture(t)
	teamID := uuid.New()
	f.directory.addPoolOwner("AE_POOL_A", routing.Owner{Name: "Alex", Active: true, Capacity: 5})

	rule := highBandPoolRule("AE_POOL_A")
	rule.Then.SLAMinutes = nil
	rule.Then.Priority = intPtr(2)
	f.ruleSrc.rules = []routing.Rule{rule}

	outcome, err := f.pipeline.Process(context.Background(), teamID, hotLead(), dedupe.PolicyMerge)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Clock == nil {
		t.Fatal("expected a clock from priority thresholds")
	}
	// Default priority-2 threshold is 15 minutes.
	want := outcome.Clock.AssignedAt.Add(15 * time.Minute)
	if !outcome.Clock.TargetAt.Equal(want) {
		t.Errorf("clock target = %v, want %v", outcome.Clock.TargetAt, want)
	}
}

func TestProcessRejectsLeadWithoutIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Process(context.Background(), uuid.New(),
		domain.NormalizedLead{Name: "Anonymous", Source: "webform"}, dedupe.PolicyMerge)
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation rejection, got %v", err)
	}
	if len(f.dedupe.leads) != 0 {
		t.Error("rejected lead must not be persisted")
	}
	if len(f.bus.names()) != 0 {
		t.Error("rejected lead must not publish events")
	}
}

func TestProcessStorageFailureIsRetryableAndPublishesNothing(t *testing.T) {
	f := newFixture(t)
	teamID := uuid.New()
	f.leads.failOn = "lead.scored"

	_, err := f.pipeline.Process(context.Background(), teamID, hotLead(), dedupe.PolicyMerge)
	if apperr.GetKind(err) != apperr.KindInternal {
		t.Fatalf("expected internal failure, got %v", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || !appErr.Retryable() {
		t.Error("pipeline failure must be retryable")
	}
	if len(f.bus.names()) != 0 {
		t.Errorf("failed run must not publish events, got %v", f.bus.names())
	}
}
