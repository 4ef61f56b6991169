package aggregates

import (
	"time"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	"github.com/yungbote/tarotroom-backend/internal/observability"
)

// WriteReport describes one transactional attempt of an aggregate write.
type WriteReport struct {
	Op       string
	Status   string
	Attempt  int
	Duration time.Duration
}

func (r WriteReport) Conflict() bool { return r.Status == string(domainagg.CodeConflict) }

// WriteObserver receives a report after every aggregate write attempt.
type WriteObserver interface {
	ObserveWrite(r WriteReport)
}

type discardObserver struct{}

func (discardObserver) ObserveWrite(WriteReport) {}

type metricsObserver struct {
	metrics *observability.Metrics
}

// NewMetricsObserver reports aggregate writes to the session write metrics.
func NewMetricsObserver(metrics *observability.Metrics) WriteObserver {
	if metrics == nil {
		return discardObserver{}
	}
	return metricsObserver{metrics: metrics}
}

func (o metricsObserver) ObserveWrite(r WriteReport) {
	o.metrics.ObserveSessionWrite(r.Op, r.Status, r.Duration)
	if r.Conflict() {
		o.metrics.IncSessionWriteConflict(r.Op)
	}
	if r.Attempt > 1 {
		o.metrics.IncSessionWriteRetry(r.Op)
	}
}
