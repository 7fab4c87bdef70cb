package alerts

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"leadflow_backend/internal/alerts/repository"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// TargetSource resolves a team's configured delivery destinations.
type TargetSource interface {
	ListTargets(ctx context.Context, teamID uuid.UUID) ([]repository.Target, error)
}

// Module subscribes to routing and escalation events and fans each one out to
// the team's alert targets. A channel the routing rule requested but the team
// never configured is logged and skipped, except slack, which may fall back
// to the globally configured webhook.
type Module struct {
	targets      TargetSource
	senders      map[routing.AlertChannel]Sender
	emailEnabled bool
	log          *logger.Logger
}

func NewModule(targets TargetSource, cfg config.AlertConfig, log *logger.Logger) *Module {
	return &Module{
		targets: targets,
		senders: map[routing.AlertChannel]Sender{
			routing.AlertSlack:   NewSlackSender(cfg.GetSlackWebhookURL()),
			routing.AlertEmail:   NewEmailSender(cfg),
			routing.AlertWebhook: NewWebhookSender(cfg.GetAlertWebhookSecret()),
		},
		emailEnabled: cfg.GetAlertEmailEnabled(),
		log:          log,
	}
}

// NewModuleWithSenders injects senders directly; used by tests.
func NewModuleWithSenders(targets TargetSource, senders map[routing.AlertChannel]Sender, emailEnabled bool, log *logger.Logger) *Module {
	return &Module{targets: targets, senders: senders, emailEnabled: emailEnabled, log: log}
}

func (m *Module) Subscribe(bus events.Bus) {
	bus.Subscribe(events.LeadRouted{}.EventName(), events.HandlerFunc(m.handleLeadRouted))
	bus.Subscribe(events.SLAEscalated{}.EventName(), events.HandlerFunc(m.handleSLAEscalated))
}

func (m *Module) handleLeadRouted(ctx context.Context, event events.Event) error {
	routed, ok := event.(events.LeadRouted)
	if !ok {
		return nil
	}
	if len(routed.Alerts) == 0 {
		return nil
	}

	title := "New lead assigned"
	body := fmt.Sprintf("Lead %s was routed (%s).", routed.LeadID, routed.Reason)
	if routed.Priority != nil {
		body += fmt.Sprintf(" Priority %d.", *routed.Priority)
	}
	if routed.SLAMinutes != nil {
		body += fmt.Sprintf(" Respond within %d minutes.", *routed.SLAMinutes)
	}

	channels := make([]routing.AlertChannel, 0, len(routed.Alerts))
	for _, a := range routed.Alerts {
		channels = append(channels, routing.AlertChannel(a))
	}

	m.dispatch(ctx, routed.TeamID, routed.LeadID, channels, Notification{
		Title: title,
		Body:  body,
		Payload: map[string]any{
			"event":  event.EventName(),
			"reason": routed.Reason,
		},
	})
	return nil
}

func (m *Module) handleSLAEscalated(ctx context.Context, event events.Event) error {
	esc, ok := event.(events.SLAEscalated)
	if !ok {
		return nil
	}

	title := fmt.Sprintf("SLA escalation: %s", esc.Action)
	body := fmt.Sprintf("Lead %s has waited %d minutes without a first response (escalation level %d).",
		esc.LeadID, esc.ElapsedMinutes, esc.Level)

	// Escalations go to every configured channel; the team decides where
	// breaches surface, not the routing rule.
	m.dispatch(ctx, esc.TeamID, esc.LeadID,
		[]routing.AlertChannel{routing.AlertSlack, routing.AlertEmail, routing.AlertWebhook},
		Notification{
			Title: title,
			Body:  body,
			Payload: map[string]any{
				"event":  event.EventName(),
				"action": esc.Action,
				"level":  esc.Level,
			},
		})
	return nil
}

func (m *Module) dispatch(ctx context.Context, teamID, leadID uuid.UUID, channels []routing.AlertChannel, n Notification) {
	n.TeamID = teamID
	n.LeadID = leadID

	targets, err := m.targets.ListTargets(ctx, teamID)
	if err != nil {
		m.log.Error("failed to load alert targets", "teamId", teamID.String(), "error", err)
		return
	}

	byChannel := make(map[routing.AlertChannel][]repository.Target)
	for _, t := range targets {
		byChannel[t.Channel] = append(byChannel[t.Channel], t)
	}

	for _, channel := range channels {
		if channel == routing.AlertEmail && !m.emailEnabled {
			continue
		}
		sender, ok := m.senders[channel]
		if !ok {
			m.log.Warn("no sender for alert channel", "channel", string(channel))
			continue
		}

		configured := byChannel[channel]
		if len(configured) == 0 {
			if channel != routing.AlertSlack {
				m.log.Warn("alert channel requested but not configured",
					"teamId", teamID.String(), "channel", string(channel))
				continue
			}
			// Slack falls back to the global webhook with an empty target.
			configured = []repository.Target{{Channel: channel}}
		}

		for _, target := range configured {
			send := n
			send.Target = target.Target
			if err := sender.Send(ctx, send); err != nil {
				m.log.Error("alert delivery failed",
					"teamId", teamID.String(), "channel", string(channel), "error", err)
			}
		}
	}
}
