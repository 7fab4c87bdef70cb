package routing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
)

// fakeDirectory holds owners and pools in memory with the same reserve
// semantics as the conditional UPDATE in the real directory.
type fakeDirectory struct {
	owners map[uuid.UUID]*Owner
	pools  map[string][]uuid.UUID
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		owners: make(map[uuid.UUID]*Owner),
		pools:  make(map[string][]uuid.UUID),
	}
}

func (d *fakeDirectory) addOwner(o Owner) uuid.UUID {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	copied := o
	d.owners[o.ID] = &copied
	return o.ID
}

func (d *fakeDirectory) addToPool(pool string, ownerID uuid.UUID) {
	d.pools[pool] = append(d.pools[pool], ownerID)
}

func (d *fakeDirectory) GetOwner(ctx context.Context, teamID, ownerID uuid.UUID) (Owner, error) {
	o, ok := d.owners[ownerID]
	if !ok {
		return Owner{}, apperr.NotFound("owner not found")
	}
	return *o, nil
}

func (d *fakeDirectory) PoolMembers(ctx context.Context, teamID uuid.UUID, pool string) ([]Owner, error) {
	var out []Owner
	for _, id := range d.pools[pool] {
		if o, ok := d.owners[id]; ok && o.Active {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Reserve(ctx context.Context, teamID, ownerID uuid.UUID, at time.Time) error {
	o, ok := d.owners[ownerID]
	if !ok || !o.Active || o.CurrentLoad >= o.Capacity {
		return apperr.Conflict("owner at capacity")
	}
	o.CurrentLoad++
	stamped := at
	o.LastAssignedAt = &stamped
	return nil
}

func newRoutingEngine(dir Directory) *Engine {
	return NewEngine(dir, rules.NewEvaluator(nil), nil)
}

func highBandRecord() rules.Record {
	rec := rules.Record{}
	rec.Set("band", "HIGH")
	rec.Set("score", 85)
	rec.Set("source", "webform")
	return rec
}

func poolRule(name string, order int, pool string, conds []rules.Condition) Rule {
	priority, sla := 1, 5
	return Rule{
		ID: uuid.New(), Name: name, Order: order, Enabled: true,
		Conditions: conds,
		Then: Action{
			AssignPool: &pool, Priority: &priority, SLAMinutes: &sla,
			Alerts: []AlertChannel{AlertSlack},
		},
	}
}

func TestRouteHighBandToPoolWithPriorityAndSLA(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	ownerID := dir.addOwner(Owner{TeamID: teamID, Name: "Ada", Active: true, Capacity: 10})
	dir.addToPool("AE_POOL_A", ownerID)

	ruleSet := []Rule{poolRule("high-band", 10, "AE_POOL_A", []rules.Condition{
		{Field: "band", Operator: rules.OpEquals, Value: "HIGH"},
	})}

	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Assigned() || *res.OwnerID != ownerID {
		t.Fatalf("expected assignment to pool member, got %+v", res)
	}
	if res.Pool == nil || *res.Pool != "AE_POOL_A" {
		t.Errorf("expected pool AE_POOL_A, got %v", res.Pool)
	}
	if res.Priority == nil || *res.Priority != 1 {
		t.Errorf("expected priority 1, got %v", res.Priority)
	}
	if res.SLAMinutes == nil || *res.SLAMinutes != 5 {
		t.Errorf("expected sla 5, got %v", res.SLAMinutes)
	}
	if len(res.Alerts) != 1 || res.Alerts[0] != AlertSlack {
		t.Errorf("expected SLACK alert instruction, got %v", res.Alerts)
	}
}

func TestRouteFirstMatchWins(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	aID := dir.addOwner(Owner{TeamID: teamID, Name: "A", Active: true, Capacity: 10})
	bID := dir.addOwner(Owner{TeamID: teamID, Name: "B", Active: true, Capacity: 10})
	dir.addToPool("POOL_A", aID)
	dir.addToPool("POOL_B", bID)

	overlap := []rules.Condition{{Field: "band", Operator: rules.OpEquals, Value: "HIGH"}}
	ruleSet := []Rule{
		poolRule("second", 20, "POOL_B", overlap),
		poolRule("first", 10, "POOL_A", overlap),
	}

	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if *res.OwnerID != aID {
		t.Errorf("lower order rule must win, got owner %v", res.OwnerID)
	}

	// Swapping the orders must flip the outcome.
	dir2 := newFakeDirectory()
	a2 := dir2.addOwner(Owner{TeamID: teamID, Name: "A", Active: true, Capacity: 10})
	b2 := dir2.addOwner(Owner{TeamID: teamID, Name: "B", Active: true, Capacity: 10})
	dir2.addToPool("POOL_A", a2)
	dir2.addToPool("POOL_B", b2)

	ruleSet[0].Order, ruleSet[1].Order = 10, 20
	res, err = newRoutingEngine(dir2).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if *res.OwnerID != b2 {
		t.Errorf("after reorder the other rule must win, got owner %v", res.OwnerID)
	}
}

func TestRouteConditionsAreANDCombined(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	ownerID := dir.addOwner(Owner{TeamID: teamID, Name: "Ada", Active: true, Capacity: 10})
	dir.addToPool("POOL", ownerID)

	ruleSet := []Rule{poolRule("both", 10, "POOL", []rules.Condition{
		{Field: "band", Operator: rules.OpEquals, Value: "HIGH"},
		{Field: "source", Operator: rules.OpEquals, Value: "referral"},
	})}

	// Record matches only one of the two conditions.
	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned() || res.Reason != ReasonNoRuleMatched {
		t.Errorf("partial condition match must not route, got %+v", res)
	}
}

func TestRouteNoRuleMatchedIsTerminal(t *testing.T) {
	res, err := newRoutingEngine(newFakeDirectory()).Route(context.Background(), uuid.New(), highBandRecord(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned() || res.Reason != ReasonNoRuleMatched {
		t.Errorf("expected unassigned no_rule_matched, got %+v", res)
	}
}

func TestRouteLeastLoadedSelection(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	busy := dir.addOwner(Owner{TeamID: teamID, Name: "Busy", Active: true, Capacity: 10, CurrentLoad: 8})
	idle := dir.addOwner(Owner{TeamID: teamID, Name: "Idle", Active: true, Capacity: 10, CurrentLoad: 1})
	dir.addToPool("POOL", busy)
	dir.addToPool("POOL", idle)

	ruleSet := []Rule{poolRule("any", 10, "POOL", nil)}
	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if *res.OwnerID != idle {
		t.Errorf("least loaded member must be selected, got %v", res.OwnerID)
	}
}

func TestRouteNeverSkipsCapacityForLoadedMember(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	full := dir.addOwner(Owner{TeamID: teamID, Name: "Full", Active: true, Capacity: 2, CurrentLoad: 2})
	open := dir.addOwner(Owner{TeamID: teamID, Name: "Open", Active: true, Capacity: 10, CurrentLoad: 9})
	dir.addToPool("POOL", full)
	dir.addToPool("POOL", open)

	ruleSet := []Rule{poolRule("any", 10, "POOL", nil)}
	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	// Open has the higher load ratio but Full has no capacity at all.
	if *res.OwnerID != open {
		t.Errorf("a member at capacity must never be chosen while another has room, got %v", res.OwnerID)
	}
}

func TestRouteTieBrokenByLeastRecentlyAssigned(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	earlier := time.Now().Add(-time.Hour)
	later := time.Now().Add(-time.Minute)
	stale := dir.addOwner(Owner{TeamID: teamID, Name: "Stale", Active: true, Capacity: 10, CurrentLoad: 2, LastAssignedAt: &earlier})
	fresh := dir.addOwner(Owner{TeamID: teamID, Name: "Fresh", Active: true, Capacity: 10, CurrentLoad: 2, LastAssignedAt: &later})
	dir.addToPool("POOL", fresh)
	dir.addToPool("POOL", stale)

	ruleSet := []Rule{poolRule("any", 10, "POOL", nil)}
	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if *res.OwnerID != stale {
		t.Errorf("tie must go to the least recently assigned member, got %v", res.OwnerID)
	}
}

func TestRouteFanOutAcrossEquallyLoadedMembers(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	a := dir.addOwner(Owner{TeamID: teamID, Name: "A", Active: true, Capacity: 10})
	b := dir.addOwner(Owner{TeamID: teamID, Name: "B", Active: true, Capacity: 10})
	dir.addToPool("POOL", a)
	dir.addToPool("POOL", b)

	engine := newRoutingEngine(dir)
	ruleSet := []Rule{poolRule("any", 10, "POOL", nil)}

	seen := map[uuid.UUID]int{}
	for i := 0; i < 4; i++ {
		res, err := engine.Route(context.Background(), teamID, highBandRecord(), ruleSet)
		if err != nil {
			t.Fatal(err)
		}
		seen[*res.OwnerID]++
	}
	if seen[a] != 2 || seen[b] != 2 {
		t.Errorf("assignments must fan out across equally loaded members, got %v", seen)
	}
}

func TestRouteAllMembersAtCapacity(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	full := dir.addOwner(Owner{TeamID: teamID, Name: "Full", Active: true, Capacity: 1, CurrentLoad: 1})
	dir.addToPool("POOL", full)

	ruleSet := []Rule{poolRule("any", 10, "POOL", nil)}
	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned() || res.Reason != ReasonNoCapacity {
		t.Errorf("expected unassigned no_capacity, got %+v", res)
	}
}

func TestRouteDirectOwnerWithPoolFallback(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	vip := dir.addOwner(Owner{TeamID: teamID, Name: "VIP", Active: true, Capacity: 1, CurrentLoad: 1})
	backup := dir.addOwner(Owner{TeamID: teamID, Name: "Backup", Active: true, Capacity: 10})
	dir.addToPool("BACKUP_POOL", backup)

	fallback := "BACKUP_POOL"
	ruleSet := []Rule{{
		ID: uuid.New(), Name: "direct", Order: 10, Enabled: true,
		Then: Action{AssignOwnerID: &vip, FallbackPool: &fallback},
	}}

	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Assigned() || *res.OwnerID != backup {
		t.Errorf("over-capacity direct owner must fall back to pool, got %+v", res)
	}
}

func TestRouteDirectOwnerWithoutFallbackStaysUnassigned(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	vip := dir.addOwner(Owner{TeamID: teamID, Name: "VIP", Active: true, Capacity: 1, CurrentLoad: 1})

	ruleSet := []Rule{{
		ID: uuid.New(), Name: "direct", Order: 10, Enabled: true,
		Then: Action{AssignOwnerID: &vip},
	}}

	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), ruleSet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned() || res.Reason != ReasonOwnerOverCapacity {
		t.Errorf("expected unassigned owner_over_capacity, got %+v", res)
	}
}

func TestRouteSkipsDisabledRules(t *testing.T) {
	dir := newFakeDirectory()
	teamID := uuid.New()
	ownerID := dir.addOwner(Owner{TeamID: teamID, Name: "Ada", Active: true, Capacity: 10})
	dir.addToPool("POOL", ownerID)

	disabled := poolRule("off", 10, "POOL", nil)
	disabled.Enabled = false

	res, err := newRoutingEngine(dir).Route(context.Background(), teamID, highBandRecord(), []Rule{disabled})
	if err != nil {
		t.Fatal(err)
	}
	if res.Assigned() {
		t.Errorf("disabled rule must not route, got %+v", res)
	}
}

func TestRuleValidate(t *testing.T) {
	ownerID := uuid.New()
	pool := "POOL"
	badPriority := 9
	badSLA := -5

	valid := Rule{Then: Action{AssignPool: &pool}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}

	invalid := []Rule{
		{Then: Action{}},
		{Then: Action{AssignOwnerID: &ownerID, AssignPool: &pool}},
		{Then: Action{AssignPool: &pool, Priority: &badPriority}},
		{Then: Action{AssignPool: &pool, SLAMinutes: &badSLA}},
		{Then: Action{AssignPool: &pool, Alerts: []AlertChannel{"PAGER"}}},
		{Conditions: []rules.Condition{{Field: "x", Operator: "sounds_like", Value: 1}}, Then: Action{AssignPool: &pool}},
	}
	for i, r := range invalid {
		if err := r.Validate(); err == nil {
			t.Errorf("invalid rule %d accepted", i)
		}
	}
}
