package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SensorTypeTemperature = "temperature"
	SensorTypeHumidity    = "humidity"
	SensorTypePressure    = "pressure"
	SensorTypeWind        = "wind"
	SensorTypeCombined    = "combined"
)

const (
	QualityGood = "good"
	QualityFair = "fair"
	QualityPoor = "poor"
)

const (
	WeatherSourceAPI        = "api"
	WeatherSourceIoT        = "iot"
	WeatherSourceSimulation = "simulation"
)

// Sensor is a registered telemetry source. SensorID is the external,
// stable identifier used on bus topics; it never changes after creation.
type Sensor struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SensorID      string         `gorm:"uniqueIndex" json:"sensor_id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	LocationName  string         `json:"location_name"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	Altitude      *float64       `json:"altitude,omitempty"`
	IsActive      bool           `json:"is_active"`
	LastReadingAt *time.Time     `json:"last_reading_at,omitempty"`
	Configuration datatypes.JSON `gorm:"type:jsonb" json:"configuration,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Reading is one telemetry sample. The integer primary key doubles as the
// insertion-order tie-breaker when two readings share a timestamp.
// No foreign key to Sensor: bus-ingested orphan readings are tolerated.
type Reading struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	SensorID   string         `gorm:"index:idx_sensor_ts,priority:1" json:"sensor_id"`
	TS         time.Time      `gorm:"index:idx_sensor_ts,priority:2" json:"ts"`
	Data       datatypes.JSON `gorm:"type:jsonb" json:"data"`
	Quality    string         `json:"quality"`
	IsAnomaly  bool           `json:"is_anomaly"`
	Raw        string         `json:"raw,omitempty"`
	IngestedAt time.Time      `json:"ingested_at"`
}

// WeatherSample is one weather observation, append-only.
type WeatherSample struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TS            time.Time `gorm:"index:idx_weather_loc_ts,priority:3" json:"ts"`
	Latitude      float64   `gorm:"index:idx_weather_loc_ts,priority:1" json:"latitude"`
	Longitude     float64   `gorm:"index:idx_weather_loc_ts,priority:2" json:"longitude"`
	Temperature   float64   `json:"temperature"`
	Windspeed     float64   `json:"windspeed"`
	Winddirection float64   `json:"winddirection"`
	Weathercode   int       `json:"weathercode"`
	IsDay         int       `json:"is_day"`
	Source        string    `json:"source"`
	Timezone      string    `json:"timezone,omitempty"`
	Elevation     *float64  `json:"elevation,omitempty"`
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex" json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func ValidSensorType(t string) bool {
	switch t {
	case SensorTypeTemperature, SensorTypeHumidity, SensorTypePressure, SensorTypeWind, SensorTypeCombined:
		return true
	}
	return false
}

func ValidQuality(q string) bool {
	switch q {
	case QualityGood, QualityFair, QualityPoor:
		return true
	}
	return false
}
