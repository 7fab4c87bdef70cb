// Package pipeline runs the synchronous per-lead decision flow: scoring,
// deduplication, routing and SLA clock creation. One submission either
// commits all of its effects or none of them.
package pipeline

import (
	"context"
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

// Stores are the transaction-scoped persistence surfaces one pipeline run
// writes through. The tx runner hands a fresh set to each run, all bound to
// the same transaction.
type Stores struct {
	Dedupe       dedupe.Store
	Directory    routing.Directory
	RoutingRules RoutingRuleSource
	SLA          sla.Store
	Leads        LeadWriter
}

// RoutingRuleSource loads a team's routing rules.
type RoutingRuleSource interface {
	ListRules(ctx context.Context, teamID uuid.UUID) ([]routing.Rule, error)
}

// LeadWriter is the slice of the leads repository the pipeline writes.
type LeadWriter interface {
	AssignOwner(ctx context.Context, teamID, leadID, ownerID uuid.UUID, at time.Time) error
	CreateTimelineEvent(ctx context.Context, leadID uuid.UUID, eventType string, payload map[string]any) error
}

// TxRunner executes fn inside a single transaction. Everything written
// through the Stores commits together or not at all.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Outcome is the full decision for one submission.
type Outcome struct {
	Scoring scoring.Result  `json:"scoring"`
	Dedupe  dedupe.Result   `json:"dedupe"`
	Routing *routing.Result `json:"routing,omitempty"`
	Clock   *sla.Clock      `json:"slaClock,omitempty"`
}

// Pipeline wires the decision engines together. Scoring runs outside the
// transaction (pure); dedupe, routing and clock creation run inside it,
// serialized per identity by the locker.
type Pipeline struct {
	tx          TxRunner
	lock        dedupe.Locker
	scoringSrc  *scoring.Loader
	eval        *rules.Evaluator
	bus         events.Bus
	log         *logger.Logger
	phoneRegion string
	clock       func() time.Time
}

func New(tx TxRunner, lock dedupe.Locker, scoringSrc *scoring.Loader, eval *rules.Evaluator, bus events.Bus, log *logger.Logger, phoneRegion string) *Pipeline {
	return &Pipeline{
		tx:          tx,
		lock:        lock,
		scoringSrc:  scoringSrc,
		eval:        eval,
		bus:         bus,
		log:         log,
		phoneRegion: phoneRegion,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one lead through the full pipeline. Validation failures are
// apperr.KindValidation (reject, do not retry); everything else surfaces as
// a retryable pipeline failure. The submission is logged before any failure
// can surface, so no lead is ever silently dropped.
func (p *Pipeline) Process(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, policy dedupe.Policy) (Outcome, error) {
	if lead.Source == "" {
		return Outcome{}, apperr.Validation("lead source is required")
	}
	if !lead.HasIdentity() {
		return Outcome{}, apperr.Validation("lead carries no identity (email, phone or domain+company required)")
	}

	log := p.log.WithContext(ctx)
	log.Info("lead entering pipeline", "teamId", teamID.String(), "source", lead.Source, "sourceRef", lead.SourceRef)

	cfg, scoringRules, err := p.scoringSrc.ForTeam(ctx, teamID)
	if err != nil {
		return Outcome{}, pipelineFailure("load scoring config", err)
	}
	scoreRes := scoring.NewEngine(p.eval, p.log).Score(lead, cfg, scoringRules)

	keys := dedupe.DeriveKeys(lead, p.phoneRegion)
	release, err := p.lock.Acquire(ctx, teamID, keys)
	if err != nil {
		return Outcome{}, pipelineFailure("acquire identity lock", err)
	}
	defer release()

	outcome := Outcome{Scoring: scoreRes}
	err = p.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		dedupeRes, err := dedupe.NewEngine(s.Dedupe, p.log, p.phoneRegion).
			Deduplicate(ctx, teamID, lead, policy, scoreRes.Score, scoreRes.Band)
		if err != nil {
			return err
		}
		outcome.Dedupe = dedupeRes

		if dedupeRes.Action != dedupe.ActionCreated {
			return nil
		}

		if err := s.Leads.CreateTimelineEvent(ctx, dedupeRes.LeadID, "lead.scored", map[string]any{
			"score": scoreRes.Score,
			"band":  string(scoreRes.Band),
			"tags":  scoreRes.Tags,
			"trace": scoreRes.Trace,
		}); err != nil {
			return err
		}

		return p.routeCreated(ctx, s, teamID, dedupeRes.LeadID, lead, scoreRes, &outcome)
	})
	if err != nil {
		if apperr.GetKind(err) == apperr.KindValidation {
			return Outcome{}, err
		}
		log.Error("lead pipeline failed",
			"teamId", teamID.String(), "source", lead.Source, "sourceRef", lead.SourceRef, "error", err)
		return Outcome{}, pipelineFailure("lead pipeline", err)
	}

	p.publish(ctx, teamID, lead, outcome)
	return outcome, nil
}

// routeCreated runs routing and SLA clock creation for a newly created lead.
// Merged and skipped submissions never re-route.
func (p *Pipeline) routeCreated(ctx context.Context, s Stores, teamID, leadID uuid.UUID, lead domain.NormalizedLead, scoreRes scoring.Result, outcome *Outcome) error {
	routingRules, err := s.RoutingRules.ListRules(ctx, teamID)
	if err != nil {
		return err
	}

	rec := rules.Flatten(lead)
	rec.Set("score", scoreRes.Score)
	rec.Set("band", string(scoreRes.Band))

	routeRes, err := routing.NewEngine(s.Directory, p.eval, p.log).Route(ctx, teamID, rec, routingRules)
	if err != nil {
		return err
	}
	outcome.Routing = &routeRes

	if !routeRes.Assigned() {
		return s.Leads.CreateTimelineEvent(ctx, leadID, "lead.unassigned", map[string]any{
			"reason": routeRes.Reason,
			"trace":  routeRes.Trace,
		})
	}

	assignedAt := p.clock()
	if err := s.Leads.AssignOwner(ctx, teamID, leadID, *routeRes.OwnerID, assignedAt); err != nil {
		return err
	}

	routedPayload := map[string]any{
		"ownerId": routeRes.OwnerID.String(),
		"reason":  routeRes.Reason,
		"trace":   routeRes.Trace,
	}
	if routeRes.Pool != nil {
		routedPayload["pool"] = *routeRes.Pool
	}
	if routeRes.Priority != nil {
		routedPayload["priority"] = *routeRes.Priority
	}

	manager := sla.NewManager(s.SLA, p.log)
	minutes, err := p.resolveSLAMinutes(ctx, manager, teamID, routeRes)
	if err != nil {
		return err
	}
	if minutes > 0 {
		clock, err := manager.CreateClock(ctx, teamID, leadID, routeRes.Priority, minutes, assignedAt)
		if err != nil {
			return err
		}
		outcome.Clock = clock
		routedPayload["slaMinutes"] = minutes
		routedPayload["slaTargetAt"] = clock.TargetAt
	}

	return s.Leads.CreateTimelineEvent(ctx, leadID, "lead.routed", routedPayload)
}

// resolveSLAMinutes prefers the rule's explicit minutes, falling back to the
// team's per-priority thresholds when only a priority was set.
func (p *Pipeline) resolveSLAMinutes(ctx context.Context, manager *sla.Manager, teamID uuid.UUID, routeRes routing.Result) (int, error) {
	if routeRes.SLAMinutes != nil {
		return *routeRes.SLAMinutes, nil
	}
	if routeRes.Priority == nil {
		return 0, nil
	}
	settings, err := manager.SettingsFor(ctx, teamID)
	if err != nil {
		return 0, err
	}
	minutes, err := settings.Thresholds.Minutes(*routeRes.Priority)
	if err != nil {
		return 0, apperr.Validation(err.Error())
	}
	return minutes, nil
}

// publish emits domain events after the transaction committed, so handlers
// never observe uncommitted state.
func (p *Pipeline) publish(ctx context.Context, teamID uuid.UUID, lead domain.NormalizedLead, outcome Outcome) {
	if p.bus == nil {
		return
	}

	switch outcome.Dedupe.Action {
	case dedupe.ActionCreated:
		p.bus.Publish(ctx, events.LeadCreated{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    outcome.Dedupe.LeadID,
			TeamID:    teamID,
			Source:    lead.Source,
			Score:     outcome.Scoring.Score,
			ScoreBand: string(outcome.Scoring.Band),
		})
	case dedupe.ActionMerged:
		merged := events.LeadMerged{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    outcome.Dedupe.LeadID,
			TeamID:    teamID,
			MatchedBy: string(outcome.Dedupe.MatchedBy),
		}
		if outcome.Dedupe.MergeResult != nil {
			merged.ConsolidatedMessages = outcome.Dedupe.MergeResult.ConsolidatedMessages
			merged.ConsolidatedEvents = outcome.Dedupe.MergeResult.ConsolidatedEvents
		}
		p.bus.Publish(ctx, merged)
	}

	if outcome.Routing == nil {
		return
	}
	if outcome.Routing.Assigned() {
		routed := events.LeadRouted{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     outcome.Dedupe.LeadID,
			TeamID:     teamID,
			OwnerID:    outcome.Routing.OwnerID,
			Priority:   outcome.Routing.Priority,
			SLAMinutes: outcome.Routing.SLAMinutes,
			Reason:     outcome.Routing.Reason,
		}
		if outcome.Routing.Pool != nil {
			routed.Pool = *outcome.Routing.Pool
		}
		for _, a := range outcome.Routing.Alerts {
			routed.Alerts = append(routed.Alerts, string(a))
		}
		p.bus.Publish(ctx, routed)
	} else {
		p.bus.Publish(ctx, events.LeadUnassigned{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    outcome.Dedupe.LeadID,
			TeamID:    teamID,
			Reason:    outcome.Routing.Reason,
		})
	}

	if outcome.Clock != nil {
		p.bus.Publish(ctx, events.SLAClockCreated{
			BaseEvent:  events.NewBaseEvent(),
			ClockID:    outcome.Clock.ID,
			LeadID:     outcome.Clock.LeadID,
			TeamID:     teamID,
			SLAMinutes: int(outcome.Clock.TargetAt.Sub(outcome.Clock.AssignedAt).Minutes()),
		})
	}
}

func pipelineFailure(op string, err error) error {
	if kind := apperr.GetKind(err); kind == apperr.KindValidation || kind == apperr.KindUnavailable {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, "lead pipeline failed", err).WithOp(op)
}
