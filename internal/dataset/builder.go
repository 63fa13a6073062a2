package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"StatVid/internal/domain"
)

const splitBuckets = 10000

// Options configures a dataset build.
type Options struct {
	Features   []string
	TrainRatio float64
	SplitSalt  string
	MinRows    int
}

// DefaultFeatures is the feature selection used when none is configured.
var DefaultFeatures = []string{
	"age_days", "duration_seconds", "title_length", "tag_count", "publish_hour", "publish_weekday",
	"is_hd", "has_captions", "likes", "comments", "like_rate", "comment_rate", "category",
}

type accessor struct {
	nullable bool
	value    func(r domain.FeatureRow) (float64, bool)
}

func always(f func(r domain.FeatureRow) float64) accessor {
	return accessor{value: func(r domain.FeatureRow) (float64, bool) { return f(r), true }}
}

func maybeInt(f func(r domain.FeatureRow) *int64) accessor {
	return accessor{nullable: true, value: func(r domain.FeatureRow) (float64, bool) {
		if v := f(r); v != nil {
			return float64(*v), true
		}
		return 0, false
	}}
}

func maybeFloat(f func(r domain.FeatureRow) *float64) accessor {
	return accessor{nullable: true, value: func(r domain.FeatureRow) (float64, bool) {
		if v := f(r); v != nil {
			return *v, true
		}
		return 0, false
	}}
}

var catalog = map[string]accessor{
	"age_days":          always(func(r domain.FeatureRow) float64 { return r.AgeDays }),
	"duration_seconds":  always(func(r domain.FeatureRow) float64 { return r.DurationSeconds }),
	"title_length":      always(func(r domain.FeatureRow) float64 { return float64(r.TitleLength) }),
	"tag_count":         always(func(r domain.FeatureRow) float64 { return float64(r.TagCount) }),
	"publish_hour":      always(func(r domain.FeatureRow) float64 { return float64(r.PublishHour) }),
	"publish_weekday":   always(func(r domain.FeatureRow) float64 { return float64(r.PublishWeekday) }),
	"is_hd":             always(func(r domain.FeatureRow) float64 { return float64(r.IsHD) }),
	"has_captions":      always(func(r domain.FeatureRow) float64 { return float64(r.HasCaptions) }),
	"observation_count": always(func(r domain.FeatureRow) float64 { return float64(r.ObservationCount) }),
	"likes":             maybeInt(func(r domain.FeatureRow) *int64 { return r.Likes }),
	"comments":          maybeInt(func(r domain.FeatureRow) *int64 { return r.Comments }),
	"like_rate":         maybeFloat(func(r domain.FeatureRow) *float64 { return r.LikeRate }),
	"comment_rate":      maybeFloat(func(r domain.FeatureRow) *float64 { return r.CommentRate }),
}

const categoryFeature = "category"

// leaking columns derive the target directly.
var leaking = map[string]bool{"views": true, TargetColumn: true}

// ValidateFeatures rejects unknown, duplicated, or target-leaking feature names.
func ValidateFeatures(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("no features selected")
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		switch {
		case leaking[name]:
			return fmt.Errorf("feature %s leaks the %s target", name, TargetColumn)
		case seen[name]:
			return fmt.Errorf("feature %s selected twice", name)
		case name != categoryFeature && catalog[name].value == nil:
			return fmt.Errorf("unknown feature %s", name)
		}
		seen[name] = true
	}
	return nil
}

// InTrain assigns an entity to the train partition by hashing its id; no randomness is involved.
func InTrain(entityID string, ratio float64, salt string) bool {
	bucket := xxhash.Sum64String(salt+":"+entityID) % splitBuckets
	return float64(bucket) < ratio*splitBuckets
}

// Build validates cleaned rows, encodes features, and performs the entity-level split.
func Build(rows []domain.FeatureRow, opts Options) (Dataset, error) {
	features := opts.Features
	if len(features) == 0 {
		features = DefaultFeatures
	}
	if err := ValidateFeatures(features); err != nil {
		return Dataset{}, err
	}
	if opts.TrainRatio <= 0 || opts.TrainRatio >= 1 {
		return Dataset{}, fmt.Errorf("train ratio %.3f must be within (0, 1)", opts.TrainRatio)
	}

	if err := checkDuplicates(rows); err != nil {
		return Dataset{}, err
	}
	if len(rows) < opts.MinRows {
		return Dataset{}, &domain.InsufficientDataError{
			Stage:     domain.StageBuilding,
			Threshold: "min_rows",
			Observed:  float64(len(rows)),
			Required:  float64(opts.MinRows),
		}
	}

	sorted := append([]domain.FeatureRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityID < sorted[j].EntityID })

	categories := distinctCategories(sorted)
	schema := buildSchema(features, categories)

	ds := Dataset{Meta: Meta{
		Schema:     schema,
		Target:     TargetColumn,
		TrainRatio: opts.TrainRatio,
		SplitSalt:  opts.SplitSalt,
		Categories: categories,
	}}

	for _, row := range sorted {
		if math.IsNaN(row.ViewsPerDay) || math.IsInf(row.ViewsPerDay, 0) || row.ViewsPerDay < 0 {
			return Dataset{}, &domain.SchemaValidationError{
				Stage:   domain.StageBuilding,
				Columns: []string{TargetColumn},
				Reason:  fmt.Sprintf("entity %s has invalid target %v", row.EntityID, row.ViewsPerDay),
			}
		}
		x, err := encode(row, features, categories, len(schema))
		if err != nil {
			return Dataset{}, err
		}

		part := &ds.Eval
		if InTrain(row.EntityID, opts.TrainRatio, opts.SplitSalt) {
			part = &ds.Train
		}
		part.EntityIDs = append(part.EntityIDs, row.EntityID)
		part.X = append(part.X, x)
		part.Y = append(part.Y, row.ViewsPerDay)
	}

	ds.Meta.TrainRows = ds.Train.Len()
	ds.Meta.EvalRows = ds.Eval.Len()
	return ds, nil
}

func checkDuplicates(rows []domain.FeatureRow) error {
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.EntityID]++
	}
	var dups []string
	for id, n := range counts {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return &domain.SchemaValidationError{
		Stage:   domain.StageBuilding,
		Columns: []string{"entity_id"},
		Reason:  "duplicate entity_id values: " + strings.Join(dups, ", "),
	}
}

func distinctCategories(rows []domain.FeatureRow) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		set[categoryKey(r.Category)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func categoryKey(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range c {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func buildSchema(features, categories []string) domain.FeatureSchema {
	var schema domain.FeatureSchema
	for _, name := range features {
		if name == categoryFeature {
			for _, c := range categories {
				schema = append(schema, domain.Feature{Name: categoryFeature + "_" + c, Kind: domain.KindOneHot})
			}
			continue
		}
		schema = append(schema, domain.Feature{Name: name, Kind: domain.KindNumeric})
		if catalog[name].nullable {
			schema = append(schema, domain.Feature{Name: name + "_missing", Kind: domain.KindIndicator})
		}
	}
	return schema
}

func encode(row domain.FeatureRow, features, categories []string, width int) ([]float64, error) {
	x := make([]float64, 0, width)
	for _, name := range features {
		if name == categoryFeature {
			key := categoryKey(row.Category)
			for _, c := range categories {
				if c == key {
					x = append(x, 1)
				} else {
					x = append(x, 0)
				}
			}
			continue
		}

		acc := catalog[name]
		v, ok := acc.value(row)
		if ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return nil, &domain.SchemaValidationError{
				Stage:   domain.StageBuilding,
				Columns: []string{name},
				Reason:  fmt.Sprintf("entity %s has non-finite value", row.EntityID),
			}
		}
		x = append(x, v)
		if acc.nullable {
			if ok {
				x = append(x, 0)
			} else {
				x = append(x, 1)
			}
		}
	}
	return x, nil
}
