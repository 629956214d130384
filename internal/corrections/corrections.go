// Package corrections records human edits to AI-extracted values and
// aggregates them into accuracy trends.
package corrections

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
)

// ErrInvalidCorrection marks a correction that fails validation before it
// reaches the store.
var ErrInvalidCorrection = errors.New("invalid correction")

// ErrInvalidPeriod is returned for trend windows other than 7, 30 or 90 days.
var ErrInvalidPeriod = errors.New("period must be 7, 30 or 90 days")

// topFieldLimit caps TopCorrectedFields.
const topFieldLimit = 10

// Store is the persistence the log needs.
type Store interface {
	InsertCorrection(ctx context.Context, c *model.Correction) error
	ListCorrections(ctx context.Context, since time.Time) ([]model.Correction, error)
	CountExtractions(ctx context.Context, since time.Time) ([]model.ExtractionCount, error)
}

// Log is the append-only correction log.
type Log struct {
	store    Store
	registry *registry.Registry
	now      func() time.Time
}

// New creates a Log. reg supplies the per-doc-type average field counts.
func New(st Store, reg *registry.Registry) *Log {
	return &Log{store: st, registry: reg, now: func() time.Time { return time.Now().UTC() }}
}

// Entry is a correction as submitted by a reviewer.
type Entry struct {
	RecordID     string               `json:"record_id"`
	FieldPath    string               `json:"field_path"`
	AIValue      any                  `json:"ai_value"`
	UserValue    any                  `json:"user_value"`
	AIConfidence float64              `json:"ai_confidence"`
	Type         model.CorrectionType `json:"correction_type"`
	Notes        string               `json:"notes,omitempty"`
}

// LogCorrection appends one correction. An unknown record fails with
// *model.ReferentialIntegrityError.
func (l *Log) LogCorrection(ctx context.Context, e Entry) (*model.Correction, error) {
	if e.RecordID == "" {
		return nil, eris.Wrap(ErrInvalidCorrection, "corrections: record_id is required")
	}
	if strings.TrimSpace(e.FieldPath) == "" {
		return nil, eris.Wrap(ErrInvalidCorrection, "corrections: field_path is required")
	}
	if !e.Type.Valid() {
		return nil, eris.Wrapf(ErrInvalidCorrection, "corrections: unknown correction type %q", e.Type)
	}
	if e.AIConfidence < 0 || e.AIConfidence > 1 {
		return nil, eris.Wrapf(ErrInvalidCorrection, "corrections: ai_confidence %v outside [0,1]", e.AIConfidence)
	}

	c := &model.Correction{
		RecordID:     e.RecordID,
		FieldPath:    e.FieldPath,
		AIValue:      e.AIValue,
		UserValue:    e.UserValue,
		AIConfidence: e.AIConfidence,
		Type:         e.Type,
		Notes:        e.Notes,
		CreatedAt:    l.now(),
	}
	if err := l.store.InsertCorrection(ctx, c); err != nil {
		var rie *model.ReferentialIntegrityError
		if errors.As(err, &rie) {
			return nil, err
		}
		return nil, eris.Wrap(err, "corrections: log")
	}

	zap.L().Info("corrections: logged",
		zap.String("record_id", c.RecordID),
		zap.String("field_path", c.FieldPath),
		zap.String("type", string(c.Type)),
		zap.Float64("ai_confidence", c.AIConfidence),
	)
	return c, nil
}

// ValidPeriod reports whether days is a supported trend window.
func ValidPeriod(days int) bool {
	return days == 7 || days == 30 || days == 90
}

// AccuracyTrend aggregates the trailing window of days, ending today. It is
// recomputed on every call. The correction rate is corrections divided by
// extracted records times the average fields per record of their doc type;
// with no extractions the rate is 0 and accuracy is 1.
func (l *Log) AccuracyTrend(ctx context.Context, days int) (*model.AccuracyTrend, error) {
	if !ValidPeriod(days) {
		return nil, eris.Wrapf(ErrInvalidPeriod, "corrections: trend over %d days", days)
	}
	today := l.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	corrs, err := l.store.ListCorrections(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "corrections: trend")
	}
	counts, err := l.store.CountExtractions(ctx, since)
	if err != nil {
		return nil, eris.Wrap(err, "corrections: trend")
	}

	series := make([]model.DailyPoint, days)
	index := make(map[string]int, days)
	fieldSlots := make([]float64, days)
	for i := range series {
		d := since.AddDate(0, 0, i).Format("2006-01-02")
		series[i].Date = d
		index[d] = i
	}

	trend := &model.AccuracyTrend{PeriodDays: days}
	var slots float64
	for _, c := range counts {
		i, ok := index[c.Day]
		if !ok {
			continue
		}
		n := float64(c.Records * l.registry.AvgFieldsPerRecord(c.DocType))
		series[i].Extractions += c.Records
		fieldSlots[i] += n
		trend.TotalExtractions += c.Records
		slots += n
	}
	for _, c := range corrs {
		i, ok := index[c.CreatedAt.UTC().Format("2006-01-02")]
		if !ok {
			continue
		}
		series[i].Corrections++
		trend.TotalCorrections++
	}

	for i := range series {
		series[i].Accuracy = accuracy(rate(float64(series[i].Corrections), fieldSlots[i]))
	}
	trend.CorrectionRate = round4(rate(float64(trend.TotalCorrections), slots))
	trend.Accuracy = accuracy(trend.CorrectionRate)
	trend.DailySeries = series
	trend.TopCorrectedFields = topFields(corrs, since)
	return trend, nil
}

// rate guards the empty window: no extracted field slots means no measurable
// error rate.
func rate(corrections, slots float64) float64 {
	if slots <= 0 {
		return 0
	}
	return corrections / slots
}

func accuracy(r float64) float64 {
	return round4(math.Max(0, 1-r))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// topFields ranks field paths by correction count. Ties go to the field
// corrected most recently, then by name.
func topFields(corrs []model.Correction, since time.Time) []model.FieldStat {
	type agg struct {
		stat    model.FieldStat
		confSum float64
		types   map[model.CorrectionType]int
		last    time.Time
		samples []model.Correction
	}
	byField := map[string]*agg{}
	for _, c := range corrs {
		if c.CreatedAt.Before(since) {
			continue
		}
		a := byField[c.FieldPath]
		if a == nil {
			a = &agg{stat: model.FieldStat{FieldPath: c.FieldPath}, types: map[model.CorrectionType]int{}}
			byField[c.FieldPath] = a
		}
		a.stat.Corrections++
		a.confSum += c.AIConfidence
		a.types[c.Type]++
		if c.CreatedAt.After(a.last) {
			a.last = c.CreatedAt
		}
		a.samples = append(a.samples, c)
	}

	aggs := make([]*agg, 0, len(byField))
	for _, a := range byField {
		a.stat.MeanAIConfidence = round4(a.confSum / float64(a.stat.Corrections))
		a.stat.DominantType = dominant(a.types)
		a.stat.Pattern, a.stat.Recommendation = Classify(a.stat, a.samples)
		aggs = append(aggs, a)
	}
	sort.Slice(aggs, func(i, j int) bool {
		x, y := aggs[i], aggs[j]
		if x.stat.Corrections != y.stat.Corrections {
			return x.stat.Corrections > y.stat.Corrections
		}
		if !x.last.Equal(y.last) {
			return x.last.After(y.last)
		}
		return x.stat.FieldPath < y.stat.FieldPath
	})

	out := make([]model.FieldStat, 0, min(len(aggs), topFieldLimit))
	for i := 0; i < len(aggs) && i < topFieldLimit; i++ {
		out = append(out, aggs[i].stat)
	}
	return out
}

// dominant returns the most frequent type, ties broken by name.
func dominant(types map[model.CorrectionType]int) model.CorrectionType {
	var best model.CorrectionType
	n := -1
	for t, c := range types {
		if c > n || (c == n && t < best) {
			best, n = t, c
		}
	}
	return best
}
