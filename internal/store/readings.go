package store

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm/clause"
)

// MaxPageLimit caps the page size accepted by reading queries.
const MaxPageLimit = 100

func (r *Repo) InsertReading(ctx context.Context, p *Reading) error {
	if p.Quality == "" {
		p.Quality = QualityGood
	}
	if p.IngestedAt.IsZero() {
		p.IngestedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type ReadingPage struct {
	Readings   []Reading  `json:"readings"`
	Pagination Pagination `json:"pagination"`
}

// ListReadings returns one page of a sensor's readings sorted descending by
// (ts, id), so ties on timestamp fall back to insertion order.
func (r *Repo) ListReadings(ctx context.Context, sensorID string, from, to time.Time, page, limit int) (ReadingPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	exprs := []clause.Expression{
		clause.Eq{Column: clause.Column{Name: "sensor_id"}, Value: sensorID},
	}
	if !from.IsZero() {
		exprs = append(exprs, clause.Gte{Column: clause.Column{Name: "ts"}, Value: from})
	}
	if !to.IsZero() {
		exprs = append(exprs, clause.Lte{Column: clause.Column{Name: "ts"}, Value: to})
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&Reading{}).Clauses(clause.Where{Exprs: exprs}).Count(&total).Error; err != nil {
		return ReadingPage{}, err
	}

	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "ts"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}

	var rows []Reading
	q := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: exprs}, order).
		Offset((page - 1) * limit).Limit(limit)
	if err := q.Find(&rows).Error; err != nil {
		return ReadingPage{}, err
	}

	pages := int((total + int64(limit) - 1) / int64(limit))
	return ReadingPage{
		Readings:   rows,
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: pages},
	}, nil
}

// LatestPerSensor returns the most recent reading for every distinct
// sensor_id, ties on ts broken by insertion order.
func (r *Repo) LatestPerSensor(ctx context.Context) ([]Reading, error) {
	var rows []Reading
	err := r.db.WithContext(ctx).Raw(`
		SELECT * FROM readings r
		WHERE r.id = (
			SELECT r2.id FROM readings r2
			WHERE r2.sensor_id = r.sensor_id
			ORDER BY r2.ts DESC, r2.id DESC
			LIMIT 1
		)
		ORDER BY r.sensor_id ASC`).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type FieldStats struct {
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int64   `json:"count"`
}

// AggregateReadingStats folds avg/min/max/count per numeric field over the
// window. The data map is sparse and open, so aggregation happens in-process
// and silently skips absent or non-numeric values. An empty fields list
// aggregates every numeric field seen.
func (r *Repo) AggregateReadingStats(ctx context.Context, sensorID string, from, to time.Time, fields []string) (map[string]FieldStats, error) {
	q := r.db.WithContext(ctx).Model(&Reading{}).Select("data").Where("sensor_id = ?", sensorID)
	if !from.IsZero() {
		q = q.Where("ts >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("ts <= ?", to)
	}

	var blobs []Reading
	if err := q.Find(&blobs).Error; err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, f := range fields {
		wanted[f] = true
	}

	type acc struct {
		sum, min, max float64
		count         int64
	}
	accs := map[string]*acc{}
	for _, row := range blobs {
		var data map[string]any
		if err := json.Unmarshal(row.Data, &data); err != nil {
			continue
		}
		for k, v := range data {
			if len(wanted) > 0 && !wanted[k] {
				continue
			}
			f, ok := v.(float64)
			if !ok {
				continue
			}
			a := accs[k]
			if a == nil {
				a = &acc{min: f, max: f}
				accs[k] = a
			}
			if f < a.min {
				a.min = f
			}
			if f > a.max {
				a.max = f
			}
			a.sum += f
			a.count++
		}
	}

	out := make(map[string]FieldStats, len(accs))
	for k, a := range accs {
		out[k] = FieldStats{Avg: a.sum / float64(a.count), Min: a.min, Max: a.max, Count: a.count}
	}
	return out, nil
}
