package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-comic-fetcher/history"
	"github.com/aluiziolira/go-comic-fetcher/models"
)

// Fetcher checks a single source against the filename seen last time and
// writes any new image into dir.
type Fetcher interface {
	Check(ctx context.Context, src models.Source, prior, dir string) models.Outcome
}

// OutputWriter defines the interface for run report output.
type OutputWriter interface {
	Write(outcomes []models.Outcome) error
	Close() error
	Validate() error
}

// Observer receives outcomes the pipeline synthesises itself, such as sources
// never dispatched because the run was canceled. Outcomes returned by the
// Fetcher are not repeated here.
type Observer interface {
	ObserveOutcome(o models.Outcome)
}

// Pipeline fans sources out to a bounded set of workers and merges their
// results into the visit record once every worker has finished.
type Pipeline struct {
	fetcher Fetcher
	writer   OutputWriter
	observer Observer
	workers  int
	now      func() time.Time

	metrics metrics
}

// NewPipeline builds a pipeline. writer may be nil when no report is wanted.
func NewPipeline(fetcher Fetcher, writer OutputWriter, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		fetcher: fetcher,
		writer:  writer,
		workers: workers,
		now:     time.Now,
		metrics: newMetrics(),
	}
}

// WithObserver sets the observer notified of synthesised outcomes.
func (p *Pipeline) WithObserver(o Observer) *Pipeline {
	p.observer = o
	return p
}

// Run checks every source and returns the outcomes in source order together
// with prior merged with the new entries. The merged record is built only
// after all workers have returned. A report write failure is returned
// alongside a complete result.
func (p *Pipeline) Run(ctx context.Context, sources []models.Source, prior history.Record, dir string) (*models.RunResult, history.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if prior == nil {
		prior = history.Record{}
	}

	start := p.now()
	outcomes := make([]models.Outcome, len(sources))
	dispatched := make([]bool, len(sources))

	workers := p.workers
	if workers > len(sources) {
		workers = len(sources)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, jobs, sources, prior, dir, outcomes)
	}

dispatch:
	for i := range sources {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
			dispatched[i] = true
		}
	}
	close(jobs)
	wg.Wait()

	for i, ok := range dispatched {
		if ok {
			continue
		}
		out := models.Outcome{
			Source:    sources[i].Name,
			Status:    models.StatusFailed,
			Err:       fmt.Errorf("not started: %w", context.Cause(ctx)),
			ErrorType: "canceled",
			CheckedAt: start,
		}
		outcomes[i] = out
		p.metrics.add(out.Status)
		if p.observer != nil {
			p.observer.ObserveOutcome(out)
		}
	}

	updates := make(map[string]string)
	for _, o := range outcomes {
		if name, filename, ok := o.Entry(); ok {
			updates[name] = filename
		}
	}
	merged := prior.Merge(updates).WithLastChecked(start)

	result := &models.RunResult{
		Outcomes:  outcomes,
		OutputDir: dir,
		StartTime: start,
		EndTime:   p.now(),
	}

	if p.writer != nil {
		if err := p.writer.Write(outcomes); err != nil {
			return result, merged, fmt.Errorf("write report: %w", err)
		}
	}
	return result, merged, nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan int, sources []models.Source, prior history.Record, dir string, outcomes []models.Outcome) {
	defer wg.Done()

	for idx := range jobs {
		src := sources[idx]
		last, _ := prior.Filename(src.Name)
		out := p.fetcher.Check(ctx, src, last, dir)
		if out.Source == "" {
			out.Source = src.Name
		}
		outcomes[idx] = out
		p.metrics.add(out.Status)
		slog.Debug("source checked",
			slog.String("comic", src.Name),
			slog.String("status", string(out.Status)),
			slog.Duration("duration", out.Duration),
		)
	}
}

type metrics struct {
	mu       sync.Mutex
	checked  int64
	byStatus map[models.Status]int
}

func newMetrics() metrics {
	return metrics{
		byStatus: make(map[models.Status]int),
	}
}

func (m *metrics) add(status models.Status) {
	m.mu.Lock()
	m.checked++
	m.byStatus[status]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyStatus := make(map[string]int, len(m.byStatus))
	for k, v := range m.byStatus {
		copyStatus[string(k)] = v
	}

	return map[string]interface{}{
		"checked_sources": m.checked,
		"by_status":       copyStatus,
	}
}
