package risk

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/events"
	"github.com/openidx/loginrisk/internal/common/logger"
	"github.com/openidx/loginrisk/internal/metrics"
)

const slowTraining = 250 * time.Millisecond

// Retrainer trains the model when a retrain request is published, keeping
// training off the evaluation path.
type Retrainer struct {
	model  *anomaly.Model
	bus    events.Bus
	logger *zap.Logger

	mu  sync.Mutex
	sub *events.Subscription
}

// NewRetrainer creates a retrainer; call Start to subscribe
func NewRetrainer(model *anomaly.Model, bus events.Bus, log *zap.Logger) *Retrainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrainer{
		model:  model,
		bus:    bus,
		logger: log.With(zap.String("component", "model_retrainer")),
	}
}

// Start subscribes to retrain requests. Calling it twice has no effect.
func (r *Retrainer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return
	}
	r.sub = r.bus.Subscribe(events.EventModelRetrainRequested, r.handle)
	r.logger.Info("Model retrainer started")
}

// Stop unsubscribes. Trainings already running complete.
func (r *Retrainer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return
	}
	r.bus.Unsubscribe(r.sub)
	r.sub = nil
}

func (r *Retrainer) handle(_ context.Context, event events.Event) error {
	timer := logger.StartTimer(r.logger, "model.train", slowTraining, zap.String("event_id", event.ID))
	trained := r.model.Train()
	timer.Stop()

	if !trained {
		metrics.RecordModelTraining("skipped")
	}
	return nil
}
