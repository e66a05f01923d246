package indexing

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Aman-CERP/amanctx/internal/events"
	"github.com/Aman-CERP/amanctx/internal/telemetry"
)

// progress is the shared per-operation counter state of the workers.
type progress struct {
	engine     *Engine
	opID       string
	collection string
	total      int

	mu        sync.Mutex
	processed int
	chunks    int
	failed    int
	published int
	last      time.Time
	errs      *multierror.Error
}

func (p *progress) done(path string, changed bool, chunks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if changed {
		p.processed++
		p.chunks += chunks
	}
	e := p.engine
	e.deps.Tracker.UpdateProgress(p.opID, path, p.processed)
	if !changed || e.deps.Bus == nil || !e.deps.Bus.HasSubscribers() {
		return
	}
	now := e.opts.Now()
	if p.published > 0 && p.processed-p.published < e.opts.ProgressEvery && now.Sub(p.last) < e.opts.ProgressInterval {
		return
	}
	p.published = p.processed
	p.last = now
	e.deps.Bus.Publish(events.IndexingProgress{
		OperationID: p.opID,
		Collection:  p.collection,
		Processed:   p.processed,
		Total:       p.total,
		CurrentFile: path,
	})
}

func (p *progress) fail(path string, err error) {
	telemetry.IndexedFilesTotal.WithLabelValues("failed").Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	if path != "" {
		err = fmt.Errorf("%s: %w", path, err)
	}
	p.failed++
	p.errs = multierror.Append(p.errs, err)
	p.engine.logger.Warn("index_file_failed", slog.String("error", err.Error()))
}

func (p *progress) collected() *multierror.Error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs
}
