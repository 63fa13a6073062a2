package usecase

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"StatVid/internal/domain"
	"StatVid/internal/query"
)

var clock0 = time.Date(2025, time.May, 10, 8, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%04d-0000-0000-000000000000", prefix, n)
	}
}

// videoJSON renders a videos.list item whose engagement scales with i and grows after clock0.
func videoJSON(id string, i int, observed time.Time) string {
	published := clock0.Add(-time.Duration(24*(i%30+2)) * time.Hour)
	views := 1000 + i*250 + int(observed.Sub(clock0).Hours())*10
	return fmt.Sprintf(`{"kind":"youtube#video","id":%q,`+
		`"snippet":{"publishedAt":%q,"channelId":"UC%d","title":%q,"tags":["t%d"],"categoryId":"%d"},`+
		`"contentDetails":{"duration":"PT%dM%dS","definition":"hd","caption":"false"},`+
		`"statistics":{"viewCount":"%d","likeCount":"%d","commentCount":"%d"}}`,
		id, published.Format(time.RFC3339), i%3, strings.Repeat("x", 5+i%20), i,
		[]int{10, 22, 28}[i%3], 1+i%9, i%60, views, views/20, views/100)
}

type fakeCatalog struct {
	mu       sync.Mutex
	items    map[string]string
	calls    int
	failFrom int
	failErr  error
	// echo returns every item twice.
	echo bool
}

func newFakeCatalog(n int, observed time.Time) *fakeCatalog {
	c := &fakeCatalog{items: map[string]string{}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("vid%03d", i)
		c.items[id] = videoJSON(id, i, observed)
	}
	return c
}

func (c *fakeCatalog) FetchVideos(_ context.Context, ids []string) ([]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failFrom > 0 && c.calls >= c.failFrom {
		return nil, c.failErr
	}
	var out []json.RawMessage
	for _, id := range ids {
		if body, ok := c.items[id]; ok {
			out = append(out, json.RawMessage(body))
			if c.echo {
				out = append(out, json.RawMessage(body))
			}
		}
	}
	return out, nil
}

type listResolver struct {
	kind string
	ids  map[string][]string
}

func (r listResolver) Kind() string { return r.kind }

func (r listResolver) Resolve(_ context.Context, q query.Query) ([]string, error) {
	ids, _ := query.Collect(nil, map[string]struct{}{}, r.ids[q.Name], q.MaxItems)
	return ids, nil
}

func idRange(from, to int) []string {
	var ids []string
	for i := from; i < to; i++ {
		ids = append(ids, fmt.Sprintf("vid%03d", i))
	}
	return ids
}

type memoryRawStore struct {
	mu      sync.Mutex
	batches [][]domain.RawRecord
}

func (s *memoryRawStore) Append(_ context.Context, records []domain.RawRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]domain.RawRecord(nil), records...))
	return fmt.Sprintf("part-%d", len(s.batches)), nil
}

func (s *memoryRawStore) Load(context.Context, time.Time) ([]domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.RawRecord
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	appended int
	skipped  map[string]int
	excluded map[string]int
	stages   map[domain.Stage]error
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{skipped: map[string]int{}, excluded: map[string]int{}, stages: map[domain.Stage]error{}}
}

func (r *countingRecorder) APIRequest(string, string) {}

func (r *countingRecorder) RecordsAppended(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended += n
}

func (r *countingRecorder) RecordSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[reason]++
}

func (r *countingRecorder) RowsExcluded(reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.excluded[reason] += n
}

func (r *countingRecorder) StageFinished(stage domain.Stage, _ float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage] = err
}

func posInf() float64 { return math.Inf(1) }
