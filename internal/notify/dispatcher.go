package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/baharkarakas/ledger-service/internal/metrics"
	"github.com/baharkarakas/ledger-service/internal/worker"
)

// Dispatcher sends messages on the worker pool. Failures are logged and counted, never returned.
type Dispatcher struct {
	n       Notifier
	pool    *worker.Pool
	timeout time.Duration
	log     *slog.Logger
}

func NewDispatcher(n Notifier, pool *worker.Pool, timeout time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{n: n, pool: pool, timeout: timeout, log: log}
}

func (d *Dispatcher) Send(msgs ...Message) {
	for _, m := range msgs {
		m := m
		if ok := d.pool.Submit(func() { d.deliver(m) }); !ok {
			metrics.NotificationsFailed.WithLabelValues("queue_full").Inc()
			d.log.Warn("notification dropped, queue full", "to", m.To, "template", m.Template)
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.n.Notify(ctx, m); err != nil {
		metrics.NotificationsFailed.WithLabelValues("send").Inc()
		d.log.Warn("notification failed", "to", m.To, "template", m.Template, "err", err)
	}
}
