package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// DefaultSnapshotInterval is used when Reporter is given no interval.
const DefaultSnapshotInterval = time.Minute

// droppedCounter is implemented by buses that count lag drops.
type droppedCounter interface {
	DroppedEvents() uint64
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	Gatherer prometheus.Gatherer
	Stats    *QueryStats
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Reporter consumes bus events into QueryStats and periodically publishes a
// MetricsSnapshot built from the gathered prometheus families.
type Reporter struct {
	bus      ports.EventBusProvider
	gatherer prometheus.Gatherer
	stats    *QueryStats
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewReporter creates a reporter for bus.
func NewReporter(bus ports.EventBusProvider, opts ReporterOptions) *Reporter {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSnapshotInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reporter{
		bus:      bus,
		gatherer: opts.Gatherer,
		stats:    opts.Stats,
		interval: opts.Interval,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Run blocks until ctx ends, flushing query stats one last time on the way
// out.
func (r *Reporter) Run(ctx context.Context) {
	sub := r.bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.consume(ctx, sub)
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			r.flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

func (r *Reporter) consume(ctx context.Context, sub *events.Subscription) {
	for {
		e, err := sub.Recv(ctx)
		if err != nil {
			var lagged *events.LaggedError
			if errors.As(err, &lagged) {
				r.logger.Debug("telemetry subscriber lagged", slog.Uint64("missed", lagged.Missed))
				continue
			}
			return
		}
		if executed, ok := e.(events.SearchExecuted); ok && r.stats != nil {
			r.stats.Record(executed)
		}
	}
}

// Tick flushes query stats and publishes one snapshot if anyone listens.
func (r *Reporter) Tick(ctx context.Context) {
	r.flush(ctx)
	if dc, ok := r.bus.(droppedCounter); ok {
		EventBusDropped.Set(float64(dc.DroppedEvents()))
	}
	if !r.bus.HasSubscribers() {
		return
	}
	values, err := r.Snapshot()
	if err != nil {
		r.logger.Warn("metrics snapshot failed", slog.String("error", err.Error()))
		return
	}
	r.bus.Publish(events.MetricsSnapshot{Values: values, Timestamp: r.now().UTC()})
}

func (r *Reporter) flush(ctx context.Context) {
	if r.stats == nil {
		return
	}
	if err := r.stats.Flush(ctx); err != nil {
		r.logger.Warn("query stats flush failed", slog.String("error", err.Error()))
	}
}

// Snapshot flattens the gathered metric families. Labelled series are
// summed per family; histograms contribute _count and _sum.
func (r *Reporter) Snapshot() (map[string]float64, error) {
	families, err := r.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				values[name] += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				values[name] += m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				values[name+"_count"] += float64(m.GetHistogram().GetSampleCount())
				values[name+"_sum"] += m.GetHistogram().GetSampleSum()
			}
		}
	}
	if r.stats != nil {
		qs := r.stats.Snapshot()
		values["queries_total"] = float64(qs.TotalQueries)
		values["queries_zero_result"] = float64(qs.ZeroResultCount)
		values["queries_repeated"] = float64(qs.RepeatCount)
	}
	return values, nil
}
