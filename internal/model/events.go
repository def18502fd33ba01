// Package model holds the normalized event shapes shared by the ingest
// pipeline, the realtime hub and the REST API. REST responses and push
// events use the same field names so clients can merge them by sensorId
// without translation.
package model

import "time"

// Push channel topics a client can subscribe to.
const (
	TopicAll     = "all"
	TopicWeather = "weather"
)

// SensorTopic returns the subscription topic for one sensor's events.
func SensorTopic(sensorID string) string { return "sensor:" + sensorID }

// Push channel event types (server to client).
const (
	EventConnected    = "connected"
	EventReading      = "iot:reading"
	EventWeather      = "weather:update"
	EventSensorStatus = "sensor:status"
	EventPong         = "pong"
)

type SensorSummary struct {
	SensorID string `json:"sensorId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

// ReadingEvent is the normalized reading handed to both the store and the
// broadcaster by ingestion, and mirrored by the REST latest-per-sensor view.
type ReadingEvent struct {
	SensorID      string             `json:"sensorId"`
	Timestamp     time.Time          `json:"timestamp"`
	Data          map[string]float64 `json:"data"`
	Quality       string             `json:"quality"`
	IsAnomaly     bool               `json:"isAnomaly,omitempty"`
	SensorSummary *SensorSummary     `json:"sensorSummary,omitempty"`
}

type StatusEvent struct {
	SensorID  string    `json:"sensorId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type WeatherEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Temperature   float64   `json:"temperature"`
	Windspeed     float64   `json:"windspeed"`
	Winddirection float64   `json:"winddirection"`
	Weathercode   int       `json:"weathercode"`
	IsDay         int       `json:"is_day"`
	Source        string    `json:"source"`
}
