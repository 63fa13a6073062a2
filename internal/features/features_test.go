package features

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StatVid/internal/domain"
)

var day0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func payload(id string, published time.Time, views, likes, comments, duration string) string {
	stats := fmt.Sprintf(`"viewCount":%q`, views)
	if views == "" {
		stats = `"favoriteCount":"0"`
	}
	if likes != "" {
		stats += fmt.Sprintf(`,"likeCount":%q`, likes)
	}
	if comments != "" {
		stats += fmt.Sprintf(`,"commentCount":%q`, comments)
	}
	return fmt.Sprintf(`{"id":%q,"snippet":{"publishedAt":%q,"channelId":"UC1","title":"Hello world","tags":["a","b"],"categoryId":"22"},`+
		`"contentDetails":{"duration":%q,"definition":"hd","caption":"false"},"statistics":{%s}}`,
		id, published.Format(time.RFC3339), duration, stats)
}

func record(id string, published, observed time.Time, run, body string) domain.RawRecord {
	p := published
	return domain.RawRecord{EntityID: id, ObservedAt: observed, PublishedAt: &p, RawPayload: body, CaptureRunID: run}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"PT4M13S", 253, true},
		{"PT1H", 3600, true},
		{"P1DT2H3M4S", 93784, true},
		{"P0D", 0, true},
		{"P1W", 604800, true},
		{"PT1.5S", 1.5, true},
		{"", 0, false},
		{"P", 0, false},
		{"PT", 0, false},
		{"4:13", 0, false},
		{"PT5X", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, tc.in)
	}
}

func TestDeriveUsesLatestObservation(t *testing.T) {
	t.Parallel()

	recs := []domain.RawRecord{
		record("abc", day0, day0, "run-1", payload("abc", day0, "100", "10", "1", "PT1M")),
		record("abc", day0, day0.Add(5*24*time.Hour), "run-2", payload("abc", day0, "600", "30", "3", "PT1M")),
	}

	res := Derive(recs)
	require.Len(t, res.Rows, 1)
	assert.Empty(t, res.Exclusions)

	row := res.Rows[0]
	assert.Equal(t, "abc", row.EntityID)
	assert.InDelta(t, 5.0, row.AgeDays, 1e-9)
	assert.InDelta(t, 120.0, row.ViewsPerDay, 1e-9)
	assert.Equal(t, int64(600), row.Views)
	assert.Equal(t, int64(2), row.ObservationCount)
	assert.Equal(t, day0, row.FirstObservedAt)
	require.NotNil(t, row.LikeRate)
	assert.InDelta(t, 0.05, *row.LikeRate, 1e-9)
	assert.Equal(t, int64(11), row.TitleLength)
	assert.Equal(t, int64(2), row.TagCount)
	assert.Equal(t, int64(1), row.IsHD)
	assert.Equal(t, "22", row.Category)
}

func TestDeriveFloorsAgeAtOneDay(t *testing.T) {
	t.Parallel()

	observed := day0.Add(6 * time.Hour)
	res := Derive([]domain.RawRecord{record("x", day0, observed, "r", payload("x", day0, "50", "", "", "PT10S"))})
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 0.25, res.Rows[0].AgeDays, 1e-9)
	assert.InDelta(t, 50.0, res.Rows[0].ViewsPerDay, 1e-9)
	assert.Nil(t, res.Rows[0].Likes)
	assert.Nil(t, res.Rows[0].LikeRate)
}

func TestDeriveExclusions(t *testing.T) {
	t.Parallel()

	later := day0.Add(48 * time.Hour)
	recs := []domain.RawRecord{
		// published after observed
		record("future", later, day0, "r", payload("future", later, "10", "", "", "PT1M")),
		// missing views
		record("noviews", day0, later, "r", payload("noviews", day0, "", "", "", "PT1M")),
		// bad duration
		record("baddur", day0, later, "r", payload("baddur", day0, "10", "", "", "1 minute")),
		// broken json
		record("broken", day0, later, "r", "{not json"),
		// disagreeing publication time
		record("drift", day0, day0.Add(24*time.Hour), "r1", payload("drift", day0, "10", "", "", "PT1M")),
		record("drift", day0.Add(time.Hour), later, "r2", payload("drift", day0.Add(time.Hour), "20", "", "", "PT1M")),
		record("ok", day0, later, "r", payload("ok", day0, "10", "", "", "PT1M")),
	}

	res := Derive(recs)
	assert.Equal(t, 6, res.Groups)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ok", res.Rows[0].EntityID)

	counts := res.ExcludedBy()
	assert.Equal(t, 1, counts[ReasonNegativeAge])
	assert.Equal(t, 1, counts[ReasonMissingViews])
	assert.Equal(t, 1, counts[ReasonBadDuration])
	assert.Equal(t, 1, counts[ReasonMalformed])
	assert.Equal(t, 1, counts[ReasonInconsistent])
	assert.InDelta(t, 5.0/6.0, res.ExclusionRate(), 1e-9)

	for _, ex := range res.Exclusions {
		if ex.Reason == ReasonInconsistent {
			assert.True(t, IsConsistency(ex.Err))
		}
	}
}

func TestDeriveZeroViewsKeepsRatiosNull(t *testing.T) {
	t.Parallel()

	later := day0.Add(72 * time.Hour)
	res := Derive([]domain.RawRecord{record("z", day0, later, "r", payload("z", day0, "0", "0", "0", "PT1M"))})
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Zero(t, row.ViewsPerDay)
	require.NotNil(t, row.Likes)
	assert.Nil(t, row.LikeRate)
	assert.Nil(t, row.CommentRate)
}

func TestDeriveIsOrderIndependent(t *testing.T) {
	t.Parallel()

	var recs []domain.RawRecord
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("vid-%02d", i%7)
		observed := day0.Add(time.Duration(i+1) * 24 * time.Hour)
		recs = append(recs, record(id, day0, observed, fmt.Sprintf("run-%d", i), payload(id, day0, fmt.Sprint(100*(i+1)), "", "", "PT2M")))
	}
	want := Derive(append([]domain.RawRecord(nil), recs...))

	rng := rand.New(rand.NewPCG(1, 2))
	for n := 0; n < 5; n++ {
		shuffled := append([]domain.RawRecord(nil), recs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, Derive(shuffled))
	}
}
