package orchestrator

import (
	"context"

	"promptnotify/internal/eventbus"
	"promptnotify/internal/metrics"
	logx "promptnotify/pkg/logx"
)

type TokenStore interface {
	RemoveFCMTokens(ctx context.Context, memberID string, tokens []string) (int, error)
}

// TokenPruner removes push tokens the provider reported as invalid.
type TokenPruner struct {
	store   TokenStore
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
}

func NewTokenPruner(store TokenStore, bus eventbus.Bus, m *metrics.Metrics, log logx.Logger) *TokenPruner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TokenPruner{store: store, bus: bus, metrics: m, log: log.With(logx.String("comp", "token_pruner"))}
}

// Run consumes invalid-token events until ctx is done.
func (p *TokenPruner) Run(ctx context.Context) error {
	ch, unsub := p.bus.Subscribe(128, eventbus.TypePushTokensInvalid)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := e.Data.(eventbus.PushTokensInvalid)
			if !ok || len(ev.Tokens) == 0 {
				continue
			}
			p.prune(ctx, ev)
		}
	}
}

func (p *TokenPruner) prune(ctx context.Context, ev eventbus.PushTokensInvalid) {
	n, err := p.store.RemoveFCMTokens(ctx, ev.MemberID, ev.Tokens)
	if err != nil {
		p.log.Warn("push token prune failed", logx.String("member_id", ev.MemberID), logx.Err(err))
		return
	}
	p.metrics.TokensRemoved(n)
	if n > 0 {
		p.log.Info("push tokens pruned", logx.String("member_id", ev.MemberID), logx.Int("removed", n))
	}
}
