package features

import (
	"errors"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"StatVid/internal/domain"
)

// Reason classifies why an entity group was excluded from the feature table.
type Reason string

const (
	ReasonInconsistent Reason = "inconsistent_published_at"
	ReasonMalformed    Reason = "malformed_payload"
	ReasonBadDuration  Reason = "bad_duration"
	ReasonNegativeAge  Reason = "negative_age"
	ReasonMissingViews Reason = "missing_views"
)

// Exclusion records one excluded entity group.
type Exclusion struct {
	EntityID string
	Reason   Reason
	Err      error
}

// Result is the outcome of deriving features from a set of raw records.
type Result struct {
	Rows       []domain.FeatureRow
	Groups     int
	Exclusions []Exclusion
}

// ExcludedBy counts exclusions per reason.
func (r Result) ExcludedBy() map[Reason]int {
	counts := make(map[Reason]int)
	for _, ex := range r.Exclusions {
		counts[ex.Reason]++
	}
	return counts
}

// ExclusionRate is excluded groups over total groups; zero when there are no groups.
func (r Result) ExclusionRate() float64 {
	if r.Groups == 0 {
		return 0
	}
	return float64(len(r.Exclusions)) / float64(r.Groups)
}

// Derive groups records by entity and produces one feature row per valid entity.
// The result does not depend on the order of records.
func Derive(records []domain.RawRecord) Result {
	groups := make(map[string][]domain.RawRecord)
	for _, rec := range records {
		groups[rec.EntityID] = append(groups[rec.EntityID], rec)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := Result{Groups: len(ids), Rows: make([]domain.FeatureRow, 0, len(ids))}
	for _, id := range ids {
		row, reason, err := deriveGroup(id, groups[id])
		if err != nil {
			result.Exclusions = append(result.Exclusions, Exclusion{EntityID: id, Reason: reason, Err: err})
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

func deriveGroup(entityID string, recs []domain.RawRecord) (domain.FeatureRow, Reason, error) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].ObservedAt.Equal(recs[j].ObservedAt) {
			return recs[i].ObservedAt.Before(recs[j].ObservedAt)
		}
		return recs[i].CaptureRunID < recs[j].CaptureRunID
	})
	earliest, latest := recs[0], recs[len(recs)-1]

	var published time.Time
	for i, rec := range recs {
		p, err := publishedOf(rec)
		if err != nil {
			return domain.FeatureRow{}, ReasonMalformed, err
		}
		if i == 0 {
			published = p
			continue
		}
		if !p.Equal(published) {
			return domain.FeatureRow{}, ReasonInconsistent, &domain.ConsistencyError{EntityID: entityID, Field: "published_at"}
		}
	}

	video, err := DecodeVideo(latest.RawPayload)
	if err != nil {
		return domain.FeatureRow{}, ReasonMalformed, &domain.MalformedRecordError{EntityID: entityID, Reason: err.Error()}
	}

	duration, err := ParseDuration(video.ContentDetails.Duration)
	if err != nil {
		return domain.FeatureRow{}, ReasonBadDuration, &domain.MalformedRecordError{EntityID: entityID, Reason: err.Error()}
	}

	ageDays := latest.ObservedAt.Sub(published).Hours() / 24
	if ageDays < 0 {
		return domain.FeatureRow{}, ReasonNegativeAge, &domain.MalformedRecordError{EntityID: entityID, Reason: "published after observed"}
	}

	views, err := Count(video.Statistics.ViewCount)
	if err != nil {
		return domain.FeatureRow{}, ReasonMalformed, &domain.MalformedRecordError{EntityID: entityID, Reason: err.Error()}
	}
	if views == nil {
		return domain.FeatureRow{}, ReasonMissingViews, &domain.MalformedRecordError{EntityID: entityID, Reason: "view count unavailable"}
	}
	likes, err := Count(video.Statistics.LikeCount)
	if err != nil {
		return domain.FeatureRow{}, ReasonMalformed, &domain.MalformedRecordError{EntityID: entityID, Reason: err.Error()}
	}
	comments, err := Count(video.Statistics.CommentCount)
	if err != nil {
		return domain.FeatureRow{}, ReasonMalformed, &domain.MalformedRecordError{EntityID: entityID, Reason: err.Error()}
	}

	vpd := float64(*views) / math.Max(ageDays, 1)
	if math.IsNaN(vpd) || math.IsInf(vpd, 0) || vpd < 0 {
		return domain.FeatureRow{}, ReasonMalformed, &domain.MalformedRecordError{EntityID: entityID, Reason: "non-finite views_per_day"}
	}

	return domain.FeatureRow{
		EntityID:         entityID,
		ChannelID:        video.Snippet.ChannelID,
		PublishedAt:      published,
		ObservedAt:       latest.ObservedAt,
		FirstObservedAt:  earliest.ObservedAt,
		ObservationCount: int64(len(recs)),
		AgeDays:          ageDays,
		DurationSeconds:  duration,
		Category:         video.Snippet.CategoryID,
		TitleLength:      int64(utf8.RuneCountInString(video.Snippet.Title)),
		TagCount:         int64(len(video.Snippet.Tags)),
		PublishHour:      int64(published.Hour()),
		PublishWeekday:   int64(published.Weekday()),
		IsHD:             boolInt(video.ContentDetails.Definition == "hd"),
		HasCaptions:      boolInt(video.ContentDetails.Caption == "true"),
		Views:            *views,
		Likes:            likes,
		Comments:         comments,
		LikeRate:         ratio(likes, *views),
		CommentRate:      ratio(comments, *views),
		ViewsPerDay:      vpd,
	}, "", nil
}

func publishedOf(rec domain.RawRecord) (time.Time, error) {
	if rec.PublishedAt != nil {
		return rec.PublishedAt.UTC(), nil
	}
	video, err := DecodeVideo(rec.RawPayload)
	if err != nil {
		return time.Time{}, &domain.MalformedRecordError{EntityID: rec.EntityID, Reason: err.Error()}
	}
	p, err := video.PublishedAt()
	if err != nil {
		return time.Time{}, &domain.MalformedRecordError{EntityID: rec.EntityID, Reason: err.Error()}
	}
	return p, nil
}

// ratio is nil unless the denominator is positive.
func ratio(num *int64, denom int64) *float64 {
	if num == nil || denom <= 0 {
		return nil
	}
	v := float64(*num) / float64(denom)
	return &v
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// IsConsistency reports whether an exclusion stems from disagreeing observations.
func IsConsistency(err error) bool {
	var ce *domain.ConsistencyError
	return errors.As(err, &ce)
}
