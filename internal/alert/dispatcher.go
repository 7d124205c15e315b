package alert

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/intentgate/internal/redact"
)

// Dispatcher fans decision events out to the webhooks subscribed to them.
type Dispatcher struct {
	configs []AlertConfig
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher returns nil when there is nothing to dispatch to; a nil
// Dispatcher is safe to use.
func NewDispatcher(configs []AlertConfig, log *zap.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{configs: configs, log: log.Named("alert")}
}

// Dispatch sends event to every matching webhook in the background.
// Delivery failures are logged, never returned.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !subscribed(cfg.Events, event.Decision) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := Send(context.Background(), cfg, event); err != nil {
				d.log.Warn("webhook delivery failed",
					zap.String("url", redact.URL(cfg.URL)),
					zap.String("intent_hash", event.IntentHash),
					zap.Error(err))
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func subscribed(events []string, decision string) bool {
	for _, e := range events {
		if strings.EqualFold(e, decision) {
			return true
		}
	}
	return false
}
