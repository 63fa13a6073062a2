package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"StatVid/internal/domain"
	"StatVid/internal/features"
	"StatVid/internal/ports"
	"StatVid/internal/query"
)

// maxFetchChunk mirrors the videos.list id limit.
const maxFetchChunk = 50

// CollectorDeps wires the driven adapters of the ingestion stage.
type CollectorDeps struct {
	Resolvers   *query.Registry
	Client      ports.CatalogClient
	Store       ports.RawRecordStore
	Recorder    ports.RunRecorder
	Logger      *slog.Logger
	Concurrency int
	ChunkSize   int
	Now         func() time.Time
	NewRunID    func() string
}

// Collector resolves queries into video ids, fetches them and appends raw records.
type Collector struct {
	resolvers   *query.Registry
	client      ports.CatalogClient
	store       ports.RawRecordStore
	recorder    ports.RunRecorder
	logger      *slog.Logger
	concurrency int
	chunkSize   int
	now         func() time.Time
	newRunID    func() string
}

// CollectReport summarises one ingestion run. It is filled in even when the run fails.
type CollectReport struct {
	RunID    string
	Queries  int
	Resolved int
	Fetched  int
	Appended int
	Skipped  int
	Files    []string
}

// NewCollector constructs the ingestion stage.
func NewCollector(deps CollectorDeps) *Collector {
	c := &Collector{
		resolvers:   deps.Resolvers,
		client:      deps.Client,
		store:       deps.Store,
		recorder:    deps.Recorder,
		logger:      deps.Logger,
		concurrency: deps.Concurrency,
		chunkSize:   deps.ChunkSize,
		now:         deps.Now,
		newRunID:    deps.NewRunID,
	}
	if c.recorder == nil {
		c.recorder = ports.NopRecorder{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.chunkSize < 1 || c.chunkSize > maxFetchChunk {
		c.chunkSize = maxFetchChunk
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newRunID == nil {
		c.newRunID = uuid.NewString
	}
	return c
}

type collectState struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	report CollectReport
}

// claim reserves ids for this run so overlapping queries record each entity once.
func (s *collectState) claim(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		out = append(out, id)
	}
	s.report.Resolved += len(out)
	return out
}

func (s *collectState) update(fn func(r *CollectReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.report)
}

// Collect runs every query. limit > 0 caps the ids taken from each query.
// Records are appended chunk by chunk, so a failure keeps everything appended before it.
func (c *Collector) Collect(ctx context.Context, queries []query.Query, limit int) (CollectReport, error) {
	state := &collectState{
		seen:   map[string]struct{}{},
		report: CollectReport{RunID: c.newRunID(), Queries: len(queries)},
	}
	if len(queries) == 0 {
		return state.report, fmt.Errorf("no queries configured")
	}
	if c.resolvers == nil || c.client == nil || c.store == nil {
		return state.report, fmt.Errorf("collector is not fully configured")
	}

	c.logger.Info("ingest started", "run_id", state.report.RunID, "queries", len(queries), "limit", limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, q := range queries {
		if limit > 0 && (q.MaxItems <= 0 || limit < q.MaxItems) {
			q.MaxItems = limit
		}
		g.Go(func() error {
			return c.collectQuery(gctx, q, state)
		})
	}
	err := g.Wait()

	report := state.report
	if err != nil {
		c.logger.Error("ingest aborted", "run_id", report.RunID, "appended", report.Appended, "error", err)
		return report, err
	}
	c.logger.Info("ingest finished", "run_id", report.RunID, "resolved", report.Resolved,
		"appended", report.Appended, "skipped", report.Skipped, "files", len(report.Files))
	return report, nil
}

func (c *Collector) collectQuery(ctx context.Context, q query.Query, state *collectState) error {
	resolver, err := c.resolvers.Resolve(q.Kind)
	if err != nil {
		return fmt.Errorf("query %s: %w", q.Label(), err)
	}
	ids, err := resolver.Resolve(ctx, q)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", q.Label(), err)
	}
	ids = state.claim(ids)
	c.logger.Debug("query resolved", "query", q.Label(), "ids", len(ids))

	for start := 0; start < len(ids); start += c.chunkSize {
		chunk := ids[start:min(start+c.chunkSize, len(ids))]
		if err := c.collectChunk(ctx, q, chunk, state); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) collectChunk(ctx context.Context, q query.Query, ids []string, state *collectState) error {
	items, err := c.client.FetchVideos(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch videos for %s: %w", q.Label(), err)
	}
	observedAt := c.now().UTC().Truncate(time.Microsecond)

	// pending holds ids still expected; an accepted item is removed so a repeat is skipped.
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	accepted := make(map[string]bool, len(ids))

	records := make([]domain.RawRecord, 0, len(items))
	skipped := 0
	for _, item := range items {
		rec, err := toRawRecord(item, observedAt, state.report.RunID, q.Label())
		if err == nil {
			switch {
			case accepted[rec.EntityID]:
				err = &domain.MalformedRecordError{EntityID: rec.EntityID, Reason: "duplicate item"}
			case !pending[rec.EntityID]:
				err = &domain.MalformedRecordError{EntityID: rec.EntityID, Reason: "id was not requested"}
			}
		}
		if err != nil {
			var malformed *domain.MalformedRecordError
			if !errors.As(err, &malformed) {
				return err
			}
			skipped++
			c.recorder.RecordSkipped("malformed")
			c.logger.Warn("skipping malformed item", "query", q.Label(), "error", err)
			continue
		}
		delete(pending, rec.EntityID)
		accepted[rec.EntityID] = true
		records = append(records, rec)
	}
	if missing := len(pending); missing > 0 {
		c.logger.Debug("ids not returned by catalog", "query", q.Label(), "missing", missing)
	}

	var path string
	if len(records) > 0 {
		path, err = c.store.Append(ctx, records)
		if err != nil {
			return fmt.Errorf("append raw records for %s: %w", q.Label(), err)
		}
		c.recorder.RecordsAppended(len(records))
	}

	state.update(func(r *CollectReport) {
		r.Fetched += len(items)
		r.Appended += len(records)
		r.Skipped += skipped
		if path != "" {
			r.Files = append(r.Files, path)
		}
	})
	return nil
}

func toRawRecord(item json.RawMessage, observedAt time.Time, runID, label string) (domain.RawRecord, error) {
	payload := strings.TrimSpace(string(item))
	video, err := features.DecodeVideo(payload)
	if err != nil {
		return domain.RawRecord{}, &domain.MalformedRecordError{Reason: err.Error()}
	}
	if strings.TrimSpace(video.ID) == "" {
		return domain.RawRecord{}, &domain.MalformedRecordError{Reason: "item has no id"}
	}
	published, err := video.PublishedAt()
	if err != nil {
		return domain.RawRecord{}, &domain.MalformedRecordError{EntityID: video.ID, Reason: err.Error()}
	}
	return domain.RawRecord{
		EntityID:     video.ID,
		ObservedAt:   observedAt,
		PublishedAt:  &published,
		RawPayload:   payload,
		CaptureRunID: runID,
		Query:        label,
	}, nil
}
