package domain

import "time"

// RawRecord is one catalog API response snapshot for a single video.
// Records are immutable once appended to the raw store.
type RawRecord struct {
	EntityID     string
	ObservedAt   time.Time
	PublishedAt  *time.Time
	RawPayload   string
	CaptureRunID string
	Query        string
}

// RecordKey identifies a raw record inside the append-only store.
type RecordKey struct {
	EntityID     string
	ObservedAt   time.Time
	CaptureRunID string
}

// Key returns the composite identity of the record.
func (r RawRecord) Key() RecordKey {
	return RecordKey{EntityID: r.EntityID, ObservedAt: r.ObservedAt, CaptureRunID: r.CaptureRunID}
}

// FeatureRow is one cleaned observation per entity in the silver table.
type FeatureRow struct {
	EntityID         string
	ChannelID        string
	PublishedAt      time.Time
	ObservedAt       time.Time
	FirstObservedAt  time.Time
	ObservationCount int64
	AgeDays          float64
	DurationSeconds  float64
	Category         string
	TitleLength      int64
	TagCount         int64
	PublishHour      int64
	PublishWeekday   int64
	IsHD             int64
	HasCaptions      int64
	Views            int64
	Likes            *int64
	Comments         *int64
	LikeRate         *float64
	CommentRate      *float64
	ViewsPerDay      float64
}

// Stage enumerates the pipeline states of a single run.
type Stage string

const (
	StageIngesting    Stage = "ingesting"
	StageTransforming Stage = "transforming"
	StageBuilding     Stage = "building"
	StageTraining     Stage = "training"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Stages lists the working states of a full run in execution order.
var Stages = []Stage{StageIngesting, StageTransforming, StageBuilding, StageTraining}

// Next returns the state that follows s on success.
func (s Stage) Next() Stage {
	for i, st := range Stages {
		if st == s {
			if i+1 < len(Stages) {
				return Stages[i+1]
			}
			return StageDone
		}
	}
	return s
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}
