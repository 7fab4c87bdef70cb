package scheduler

import (
	"context"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const defaultSLAScanInterval = 30 * time.Second

// SLAScanDispatcher enqueues an escalation scan on a fixed interval. More
// than one dispatcher may run; the scan itself is idempotent so overlap is
// harmless.
type SLAScanDispatcher struct {
	client   *Client
	interval time.Duration
	log      *logger.Logger
}

func NewSLAScanDispatcher(cfg config.SchedulerConfig, interval time.Duration, log *logger.Logger) (*SLAScanDispatcher, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultSLAScanInterval
	}

	return &SLAScanDispatcher{
		client:   client,
		interval: interval,
		log:      log,
	}, nil
}

func (d *SLAScanDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *SLAScanDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := d.client.EnqueueSLAScan(ctx, time.Now().UTC()); err != nil {
			d.log.Warn("failed to enqueue sla scan", "error", err)
		}
	}
}
