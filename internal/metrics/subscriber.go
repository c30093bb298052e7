package metrics

import (
	"context"
	"strings"

	"promptnotify/internal/eventbus"
	"promptnotify/internal/task/engine"
)

// Consume counts task engine lifecycle events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) error {
	if m == nil || bus == nil {
		return nil
	}
	ch, unsub := bus.Subscribe(256, "task.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.observeTask(e)
		}
	}
}

func (m *Metrics) observeTask(e eventbus.Event) {
	name := strings.TrimPrefix(e.Type, "task.")
	m.TaskEvents.WithLabelValues(name).Inc()
	ev, ok := e.Data.(engine.TaskEvent)
	if !ok {
		return
	}
	switch name {
	case "finished":
		m.TaskDuration.WithLabelValues("ok").Observe(ev.Duration.Seconds())
	case "failed":
		m.TaskDuration.WithLabelValues("failed").Observe(ev.Duration.Seconds())
	}
}
