package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"leadflow_backend/internal/alerts/repository"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/logger"
)

type fakeTargets struct {
	targets []repository.Target
}

func (f *fakeTargets) ListTargets(ctx context.Context, teamID uuid.UUID) ([]repository.Target, error) {
	return f.targets, nil
}

type fakeSender struct {
	sent []Notification
	err  error
}

func (f *fakeSender) Send(ctx context.Context, n Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func newTestModule(targets []repository.Target, emailEnabled bool) (*Module, map[routing.AlertChannel]*fakeSender) {
	senders := map[routing.AlertChannel]*fakeSender{
		routing.AlertSlack:   {},
		routing.AlertEmail:   {},
		routing.AlertWebhook: {},
	}
	wired := make(map[routing.AlertChannel]Sender, len(senders))
	for ch, s := range senders {
		wired[ch] = s
	}
	m := NewModuleWithSenders(&fakeTargets{targets: targets}, wired, emailEnabled, logger.New("test"))
	return m, senders
}

func routedEvent(alerts ...string) events.LeadRouted {
	minutes := 5
	return events.LeadRouted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     uuid.New(),
		TeamID:     uuid.New(),
		SLAMinutes: &minutes,
		Alerts:     alerts,
		Reason:     routing.ReasonAssignedFromPool,
	}
}

func TestLeadRoutedDispatchesOnlyRequestedChannels(t *testing.T) {
	m, senders := newTestModule([]repository.Target{
		{Channel: routing.AlertSlack, Target: "https://hooks.example.com/t1"},
		{Channel: routing.AlertWebhook, Target: "https://crm.example.com/hook"},
	}, true)

	if err := m.handleLeadRouted(context.Background(), routedEvent("SLACK")); err != nil {
		t.Fatal(err)
	}

	if len(senders[routing.AlertSlack].sent) != 1 {
		t.Errorf("slack sends = %d, want 1", len(senders[routing.AlertSlack].sent))
	}
	if len(senders[routing.AlertWebhook].sent) != 0 {
		t.Error("webhook was not requested by the rule and must stay silent")
	}
	if got := senders[routing.AlertSlack].sent[0].Target; got != "https://hooks.example.com/t1" {
		t.Errorf("slack target = %q", got)
	}
}

func TestSlackFallsBackToGlobalWebhook(t *testing.T) {
	m, senders := newTestModule(nil, true)

	if err := m.handleLeadRouted(context.Background(), routedEvent("SLACK")); err != nil {
		t.Fatal(err)
	}
	if len(senders[routing.AlertSlack].sent) != 1 {
		t.Fatalf("slack sends = %d, want fallback send", len(senders[routing.AlertSlack].sent))
	}
	if senders[routing.AlertSlack].sent[0].Target != "" {
		t.Error("fallback send must carry an empty target")
	}
}

func TestEmailChannelRespectsGlobalToggle(t *testing.T) {
	m, senders := newTestModule([]repository.Target{
		{Channel: routing.AlertEmail, Target: "manager@example.com"},
	}, false)

	if err := m.handleLeadRouted(context.Background(), routedEvent("EMAIL")); err != nil {
		t.Fatal(err)
	}
	if len(senders[routing.AlertEmail].sent) != 0 {
		t.Error("email disabled globally must suppress sends")
	}
}

func TestUnconfiguredWebhookChannelIsSkipped(t *testing.T) {
	m, senders := newTestModule(nil, true)

	if err := m.handleLeadRouted(context.Background(), routedEvent("WEBHOOK")); err != nil {
		t.Fatal(err)
	}
	if len(senders[routing.AlertWebhook].sent) != 0 {
		t.Error("webhook channel without a target must not send")
	}
}

func TestEscalationFansOutToAllConfiguredChannels(t *testing.T) {
	m, senders := newTestModule([]repository.Target{
		{Channel: routing.AlertSlack, Target: "https://hooks.example.com/t1"},
		{Channel: routing.AlertEmail, Target: "manager@example.com"},
		{Channel: routing.AlertEmail, Target: "director@example.com"},
	}, true)

	esc := events.SLAEscalated{
		BaseEvent:      events.NewBaseEvent(),
		ClockID:        uuid.New(),
		LeadID:         uuid.New(),
		TeamID:         uuid.New(),
		Level:          2,
		Action:         "escalate_to_director",
		ElapsedMinutes: 35,
	}
	if err := m.handleSLAEscalated(context.Background(), esc); err != nil {
		t.Fatal(err)
	}

	if len(senders[routing.AlertSlack].sent) != 1 {
		t.Errorf("slack sends = %d, want 1", len(senders[routing.AlertSlack].sent))
	}
	if len(senders[routing.AlertEmail].sent) != 2 {
		t.Errorf("email sends = %d, want one per recipient", len(senders[routing.AlertEmail].sent))
	}
}

func TestSenderFailureNeverPropagates(t *testing.T) {
	m, senders := newTestModule([]repository.Target{
		{Channel: routing.AlertSlack, Target: "https://hooks.example.com/t1"},
	}, true)
	senders[routing.AlertSlack].err = errors.New("slack down")

	if err := m.handleLeadRouted(context.Background(), routedEvent("SLACK")); err != nil {
		t.Fatalf("delivery failure must be swallowed, got %v", err)
	}
}
