package store

import (
	"context"
	"math"
	"time"
)

func (r *Repo) InsertWeatherSample(ctx context.Context, s *WeatherSample) error {
	if s.Source == "" {
		s.Source = WeatherSourceAPI
	}
	s.Latitude = roundCoord(s.Latitude)
	s.Longitude = roundCoord(s.Longitude)
	return r.db.WithContext(ctx).Create(s).Error
}

// LatestWeather returns the newest sample for the location. Coordinates are
// rounded to 4 decimals so "same location" is stable across poll cycles.
func (r *Repo) LatestWeather(ctx context.Context, lat, lon float64) (*WeatherSample, error) {
	var row WeatherSample
	err := r.db.WithContext(ctx).
		Where("latitude = ? AND longitude = ?", roundCoord(lat), roundCoord(lon)).
		Order("ts desc, id desc").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repo) ListWeather(ctx context.Context, lat, lon float64, from, to time.Time, limit int) ([]WeatherSample, error) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	q := r.db.WithContext(ctx).
		Where("latitude = ? AND longitude = ?", roundCoord(lat), roundCoord(lon))
	if !from.IsZero() {
		q = q.Where("ts >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("ts <= ?", to)
	}
	var rows []WeatherSample
	if err := q.Order("ts desc, id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// WeatherStats aggregates temperature and windspeed over the window.
func (r *Repo) WeatherStats(ctx context.Context, lat, lon float64, from, to time.Time) (map[string]FieldStats, error) {
	q := r.db.WithContext(ctx).
		Where("latitude = ? AND longitude = ?", roundCoord(lat), roundCoord(lon))
	if !from.IsZero() {
		q = q.Where("ts >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("ts <= ?", to)
	}
	var rows []WeatherSample
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	fold := func(pick func(WeatherSample) float64) FieldStats {
		var s FieldStats
		for i, row := range rows {
			v := pick(row)
			if i == 0 {
				s.Min, s.Max = v, v
			}
			if v < s.Min {
				s.Min = v
			}
			if v > s.Max {
				s.Max = v
			}
			s.Avg += v
			s.Count++
		}
		if s.Count > 0 {
			s.Avg /= float64(s.Count)
		}
		return s
	}

	return map[string]FieldStats{
		"temperature": fold(func(w WeatherSample) float64 { return w.Temperature }),
		"windspeed":   fold(func(w WeatherSample) float64 { return w.Windspeed }),
	}, nil
}

func roundCoord(v float64) float64 {
	return math.Round(v*10000) / 10000
}
