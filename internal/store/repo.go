package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var ErrNotFound = gorm.ErrRecordNotFound

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Sensor{}, &Reading{}, &WeatherSample{}, &User{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// --- Sensors ---

func (r *Repo) CreateSensor(ctx context.Context, s *Sensor) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.SensorID = strings.TrimSpace(s.SensorID)
	s.Name = strings.TrimSpace(s.Name)
	if s.SensorID == "" || s.Name == "" {
		return errors.New("sensor.sensor_id and sensor.name are required")
	}
	if !ValidSensorType(s.Type) {
		return fmt.Errorf("invalid sensor type %q", s.Type)
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return errors.New("sensor.latitude out of range")
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return errors.New("sensor.longitude out of range")
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSensor(ctx context.Context, sensorID string) (*Sensor, error) {
	var row Sensor
	if err := r.db.WithContext(ctx).First(&row, "sensor_id = ?", sensorID).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repo) ListSensors(ctx context.Context) ([]Sensor, error) {
	var rows []Sensor
	if err := r.db.WithContext(ctx).Order("sensor_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) UpdateSensor(ctx context.Context, sensorID string, patch map[string]any) (*Sensor, error) {
	// sensor_id is immutable after creation.
	delete(patch, "sensor_id")
	delete(patch, "id")
	if v, ok := patch["name"].(string); ok {
		patch["name"] = strings.TrimSpace(v)
	}
	if v, ok := patch["type"].(string); ok {
		if !ValidSensorType(v) {
			return nil, fmt.Errorf("invalid sensor type %q", v)
		}
	}
	if v, ok := patch["latitude"].(float64); ok && (v < -90 || v > 90) {
		return nil, errors.New("sensor.latitude out of range")
	}
	if v, ok := patch["longitude"].(float64); ok && (v < -180 || v > 180) {
		return nil, errors.New("sensor.longitude out of range")
	}
	if len(patch) > 0 {
		res := r.db.WithContext(ctx).Model(&Sensor{}).Where("sensor_id = ?", sensorID).Updates(patch)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, gorm.ErrRecordNotFound
		}
	}
	return r.GetSensor(ctx, sensorID)
}

// DeleteSensor removes the sensor and cascades deletion of its readings.
func (r *Repo) DeleteSensor(ctx context.Context, sensorID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Sensor{}, "sensor_id = ?", sensorID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("sensor_id = ?", sensorID).Delete(&Reading{}).Error
	})
}

// TouchLastReading advances last_reading_at, never moving it backwards.
func (r *Repo) TouchLastReading(ctx context.Context, sensorID string, ts time.Time) error {
	return r.db.WithContext(ctx).Model(&Sensor{}).
		Where("sensor_id = ? AND (last_reading_at IS NULL OR last_reading_at <= ?)", sensorID, ts).
		Update("last_reading_at", ts).Error
}
