package bus

import (
	"log/slog"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/registry"
)

// Publisher is satisfied by *Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// JobEvent is the message published for every registry change.
type JobEvent struct {
	Type      string        `json:"type"`
	Job       escrow.Job    `json:"job"`
	Previous  escrow.Status `json:"previous_status,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Subject is prefix.<status>, e.g. escrow.jobs.accepted.
func Subject(prefix string, s escrow.Status) string {
	return prefix + "." + string(s)
}

func eventFor(c registry.Change) JobEvent {
	typ := "job_updated"
	switch {
	case c.Created:
		typ = "job_created"
	case c.Previous == c.Job.Status():
		typ = "job_refreshed"
	}
	return JobEvent{Type: typ, Job: c.Job, Previous: c.Previous, Timestamp: time.Now().UTC()}
}

// Forward publishes every change accepted by reg until the returned func is
// called. Publish failures are logged; the registry is never blocked on them.
func Forward(reg *registry.Registry, pub Publisher, prefix string, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	return reg.Subscribe(func(c registry.Change) {
		subject := Subject(prefix, c.Job.Status())
		if err := pub.PublishJSON(subject, eventFor(c)); err != nil {
			logger.Warn("job event publish failed", "subject", subject, "job_id", c.Job.ID, "err", err)
		}
	})
}
