package memsys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
)

// Consolidation defaults.
const (
	DefaultConsolidationInterval = time.Hour
	DefaultConsolidationWindow   = 24 * time.Hour
	DefaultConsolidationSchedule = "@every 1h"
	DefaultBatchSize             = 10
)

// Summary metadata keys.
const (
	MetaSourceCount = "source_count"
	MetaWindowStart = "window_start"
	MetaWindowEnd   = "window_end"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ConsolidatorConfig configures a [Consolidator].
type ConsolidatorConfig struct {
	Stores     Stores
	Summariser Summariser

	// MinInterval is the least time between two runs. Defaults to one hour.
	MinInterval time.Duration

	// Window is how far back conversation records are collected. Defaults
	// to 24 hours.
	Window time.Duration

	// Schedule is the cron expression that triggers runs. Defaults to "@every 1h".
	Schedule string

	// BatchSize is the number of records per summary. Defaults to 10.
	BatchSize int

	Now     func() time.Time
	Metrics *observe.Metrics
}

// Report describes one consolidation attempt.
type Report struct {
	Skipped    bool
	Reason     string
	Batches    int
	Summarised int
}

// Consolidator folds recent conversation records into summary records. It
// is process-wide: runs are serialised, a trigger that arrives while a run
// is in progress is dropped, and at most one run happens per MinInterval.
//
// All methods are safe for concurrent use.
type Consolidator struct {
	cfg   ConsolidatorConfig
	sched cron.Schedule

	run     sync.Mutex
	mu      sync.Mutex
	lastRun time.Time
	cron    *cron.Cron
	stop    chan struct{}
	once    sync.Once
}

// NewConsolidator validates cfg and returns a stopped consolidator.
func NewConsolidator(cfg ConsolidatorConfig) (*Consolidator, error) {
	if err := cfg.Stores.Validate(); err != nil {
		return nil, err
	}
	if cfg.Summariser == nil {
		return nil, errors.New("memsys: consolidator needs a summariser")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultConsolidationInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConsolidationWindow
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConsolidationSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	sched, err := scheduleParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("memsys: consolidation schedule %q: %w", cfg.Schedule, err)
	}
	return &Consolidator{cfg: cfg, sched: sched}, nil
}

// Start runs the consolidator on its schedule until Stop or ctx is done.
func (c *Consolidator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return
	}
	c.cron = cron.New(cron.WithParser(scheduleParser))
	c.cron.Schedule(c.sched, cron.FuncJob(func() {
		if _, err := c.RunOnce(ctx); err != nil {
			observe.Logger(ctx).Warn("memory consolidation failed", "err", err)
		}
	}))
	c.cron.Start()
	c.stop = make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stop:
		}
	}()
}

// Stop halts the schedule and waits for a running job to finish. Safe to
// call multiple times.
func (c *Consolidator) Stop() {
	c.mu.Lock()
	cr, stop := c.cron, c.stop
	c.mu.Unlock()
	if cr == nil {
		return
	}
	c.once.Do(func() { close(stop) })
	<-cr.Stop().Done()
}

// RunOnce performs a consolidation unless one is already running or the
// last run was less than MinInterval ago.
func (c *Consolidator) RunOnce(ctx context.Context) (Report, error) {
	if !c.run.TryLock() {
		return Report{Skipped: true, Reason: "already running"}, nil
	}
	defer c.run.Unlock()

	now := c.cfg.Now()
	c.mu.Lock()
	last := c.lastRun
	c.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < c.cfg.MinInterval {
		return Report{Skipped: true, Reason: "ran recently"}, nil
	}

	ctx, span := observe.StartSpan(ctx, "memsys.consolidate")
	rep, err := c.consolidate(ctx, now)
	observe.EndSpan(span, err)

	c.mu.Lock()
	c.lastRun = now
	c.mu.Unlock()
	return rep, err
}

func (c *Consolidator) consolidate(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	records, err := c.cfg.Stores.Conversation.GetAll(ctx, memory.ListOptions{
		Filter: memory.Metadata{memory.MetaType: memory.TypeConversation},
		After:  now.Add(-c.cfg.Window),
	})
	if err != nil {
		return rep, fmt.Errorf("memsys: consolidate: list: %w", err)
	}
	if len(records) == 0 {
		return rep, nil
	}

	var errs []error
	for start := 0; start < len(records); start += c.cfg.BatchSize {
		batch := records[start:min(start+c.cfg.BatchSize, len(records))]
		if err := c.summariseBatch(ctx, batch); err != nil {
			errs = append(errs, err)
			continue
		}
		rep.Batches++
		rep.Summarised += len(batch)
	}
	observe.Logger(ctx).Info("memory consolidated",
		"records", len(records), "batches", rep.Batches, "summarised", rep.Summarised)
	return rep, errors.Join(errs...)
}

func (c *Consolidator) summariseBatch(ctx context.Context, batch []memory.Record) error {
	texts := make([]string, len(batch))
	ids := make([]string, len(batch))
	first, last := batch[0].CreatedAt, batch[0].CreatedAt
	for i, r := range batch {
		texts[i] = r.Text
		ids[i] = r.ID
		if r.CreatedAt.Before(first) {
			first = r.CreatedAt
		}
		if r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}

	summary, err := c.cfg.Summariser.Summarise(ctx, texts)
	if err != nil {
		return err
	}
	if summary == "" {
		return errors.New("memsys: consolidate: empty summary")
	}

	if _, err := c.cfg.Stores.Summary.Add(ctx, []string{summary}, []memory.Metadata{{
		memory.MetaType:      memory.TypeSummary,
		memory.MetaTimestamp: c.cfg.Now().UTC().Format(time.RFC3339),
		MetaSourceCount:      len(batch),
		MetaWindowStart:      first.UTC().Format(time.RFC3339),
		MetaWindowEnd:        last.UTC().Format(time.RFC3339),
	}}); err != nil {
		return fmt.Errorf("memsys: consolidate: add summary: %w", err)
	}
	c.cfg.Metrics.RecordMemoryWrite(ctx, memory.CollectionSummary, 1)

	if err := c.cfg.Stores.Conversation.Delete(ctx, ids); err != nil {
		return fmt.Errorf("memsys: consolidate: delete sources: %w", err)
	}
	return nil
}
