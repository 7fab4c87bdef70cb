package routing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/rules"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// Unassigned reasons reported on terminal non-assignment outcomes.
const (
	ReasonNoRuleMatched     = "no_rule_matched"
	ReasonNoCapacity        = "no_capacity"
	ReasonOwnerOverCapacity = "owner_over_capacity"
	ReasonAssignedOwner     = "rule_assigned_owner"
	ReasonAssignedFromPool  = "rule_assigned_from_pool"
)

// Directory is the owner/pool surface the engine routes against. Reserve is
// a compare-and-swap: it only succeeds while the owner is under capacity, so
// two concurrent assignments cannot push an owner over the line.
type Directory interface {
	GetOwner(ctx context.Context, teamID, ownerID uuid.UUID) (Owner, error)
	PoolMembers(ctx context.Context, teamID uuid.UUID, pool string) ([]Owner, error)
	// Reserve increments the owner's load and stamps last_assigned_at,
	// failing with apperr.Conflict when the owner is already at capacity.
	Reserve(ctx context.Context, teamID, ownerID uuid.UUID, at time.Time) error
}

// Result is the routing decision for one lead.
type Result struct {
	OwnerID    *uuid.UUID     `json:"ownerId,omitempty"`
	Pool       *string        `json:"pool,omitempty"`
	Priority   *int           `json:"priority,omitempty"`
	SLAMinutes *int           `json:"sla,omitempty"`
	Alerts     []AlertChannel `json:"alerts,omitempty"`
	Reason     string         `json:"reason"`
	Trace      rules.Trace    `json:"trace"`
}

// Assigned reports whether the decision produced an owner.
func (r Result) Assigned() bool {
	return r.OwnerID != nil
}

// Engine evaluates routing rules first-match-wins and resolves assignments
// through the directory. Selection is stateless: least-loaded first, ties
// broken by least-recently-assigned, so restarts lose no rotation state.
type Engine struct {
	dir  Directory
	eval *rules.Evaluator
	log  *logger.Logger
	now  func() time.Time
}

func NewEngine(dir Directory, eval *rules.Evaluator, log *logger.Logger) *Engine {
	return &Engine{dir: dir, eval: eval, log: log, now: time.Now}
}

// Route resolves the first matching rule into an assignment. A lead no rule
// matches, or that no owner has capacity for, stays unassigned; both are
// valid terminal outcomes, not errors.
func (e *Engine) Route(ctx context.Context, teamID uuid.UUID, rec rules.Record, ruleSet []Rule) (Result, error) {
	var trace rules.Trace

	for _, rule := range sortedEnabled(ruleSet) {
		if !e.eval.EvaluateAll(rule.Conditions, rec) {
			continue
		}
		trace = trace.Add("rule:"+rule.Name, 0, "conditions matched")
		result, err := e.apply(ctx, teamID, rule, trace)
		if err != nil {
			return Result{}, err
		}
		return result, nil
	}

	trace = trace.Add("routing", 0, "no rule matched")
	return Result{Reason: ReasonNoRuleMatched, Trace: trace}, nil
}

func (e *Engine) apply(ctx context.Context, teamID uuid.UUID, rule Rule, trace rules.Trace) (Result, error) {
	base := Result{
		Priority:   rule.Then.Priority,
		SLAMinutes: rule.Then.SLAMinutes,
		Alerts:     rule.Then.Alerts,
	}

	if rule.Then.AssignOwnerID != nil {
		return e.assignDirect(ctx, teamID, rule, base, trace)
	}
	return e.assignFromPool(ctx, teamID, *rule.Then.AssignPool, rule, base, trace)
}

func (e *Engine) assignDirect(ctx context.Context, teamID uuid.UUID, rule Rule, base Result, trace rules.Trace) (Result, error) {
	ownerID := *rule.Then.AssignOwnerID
	owner, err := e.dir.GetOwner(ctx, teamID, ownerID)
	if err != nil && apperr.GetKind(err) != apperr.KindNotFound {
		return Result{}, err
	}

	if err == nil && owner.HasCapacity() {
		if rerr := e.dir.Reserve(ctx, teamID, ownerID, e.now()); rerr == nil {
			base.OwnerID = &ownerID
			base.Reason = ReasonAssignedOwner
			base.Trace = trace.Add("assign", 0, "direct owner "+owner.Name)
			return base, nil
		} else if apperr.GetKind(rerr) != apperr.KindConflict {
			return Result{}, rerr
		}
	}

	// Owner missing or over capacity: fall back to the rule's pool if one
	// is declared, otherwise leave unassigned with the reason recorded.
	if rule.Then.FallbackPool != nil {
		trace = trace.Add("assign", 0, "owner over capacity, trying fallback pool "+*rule.Then.FallbackPool)
		return e.assignFromPool(ctx, teamID, *rule.Then.FallbackPool, rule, base, trace)
	}

	base.Reason = ReasonOwnerOverCapacity
	base.Trace = trace.Add("assign", 0, "owner over capacity, no fallback pool")
	return base, nil
}

func (e *Engine) assignFromPool(ctx context.Context, teamID uuid.UUID, pool string, rule Rule, base Result, trace rules.Trace) (Result, error) {
	base.Pool = &pool

	members, err := e.dir.PoolMembers(ctx, teamID, pool)
	if err != nil {
		return Result{}, err
	}

	// Members with capacity, least-loaded first. Reservation is retried down
	// the ranking because a concurrent assignment may fill a member between
	// the read and the reserve.
	for _, candidate := range rankMembers(members) {
		err := e.dir.Reserve(ctx, teamID, candidate.ID, e.now())
		if err == nil {
			ownerID := candidate.ID
			base.OwnerID = &ownerID
			base.Reason = ReasonAssignedFromPool
			base.Trace = trace.Add("assign", 0, "pool "+pool+" member "+candidate.Name)
			return base, nil
		}
		if apperr.GetKind(err) != apperr.KindConflict {
			return Result{}, err
		}
	}

	base.Reason = ReasonNoCapacity
	base.Trace = trace.Add("assign", 0, "pool "+pool+" has no member with capacity")
	return base, nil
}

// rankMembers orders pool members for selection: lowest load/capacity ratio
// first, equal ratios broken by least-recently-assigned so repeated
// assignments fan out. Members without capacity are excluded.
func rankMembers(members []Owner) []Owner {
	eligible := make([]Owner, 0, len(members))
	for _, m := range members {
		if m.HasCapacity() {
			eligible = append(eligible, m)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		ri, rj := eligible[i].LoadRatio(), eligible[j].LoadRatio()
		if ri != rj {
			return ri < rj
		}
		return lastAssigned(eligible[i]).Before(lastAssigned(eligible[j]))
	})
	return eligible
}

func lastAssigned(o Owner) time.Time {
	if o.LastAssignedAt == nil {
		return time.Time{}
	}
	return *o.LastAssignedAt
}

func sortedEnabled(ruleSet []Rule) []Rule {
	out := make([]Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
