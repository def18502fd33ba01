package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"telemetry-hub/internal/model"
	"telemetry-hub/internal/observability"
	"telemetry-hub/internal/store"
)

var ErrNotASensorTopic = errors.New("not a sensor topic")

// Broadcaster is the slice of the realtime hub ingestion needs.
type Broadcaster interface {
	Broadcast(topic, eventType string, payload any)
}

// AnomalyPolicy may flag a reading as anomalous before it is persisted.
// The default policy flags nothing.
type AnomalyPolicy func(sensorID string, data map[string]float64) bool

// Ingestor normalizes inbound bus messages and hands the result to the
// store and the broadcaster side by side. A failure on either path is
// logged and never blocks the other, and a malformed message never stops
// processing of subsequent messages.
type Ingestor struct {
	Repo            *store.Repo
	Hub             Broadcaster
	TopicPrefix     string
	OrphanRetention bool
	Anomaly         AnomalyPolicy
}

// HandleSensorMessage routes one message from {prefix}/sensors/#.
func (i *Ingestor) HandleSensorMessage(ctx context.Context, topic string, payload []byte, receivedAt time.Time) {
	sensorID, kind, err := ParseSensorTopic(i.TopicPrefix, topic)
	if err != nil {
		if !errors.Is(err, ErrNotASensorTopic) {
			slog.Warn("ingest topic parse failed", "topic", topic, "error", err)
		}
		return
	}

	switch kind {
	case "data":
		i.handleData(ctx, sensorID, topic, payload, receivedAt)
	case "status":
		i.handleStatus(sensorID, payload, receivedAt)
	default:
		slog.Debug("ingest ignoring topic", "topic", topic)
	}
}

func (i *Ingestor) handleData(ctx context.Context, sensorID, topic string, payload []byte, receivedAt time.Time) {
	data, ts, err := parseDataPayload(payload, receivedAt)
	if err != nil {
		observability.MessagesIngested.WithLabelValues("data", "parse_error").Inc()
		slog.Warn("ingest dropping malformed payload", "topic", topic, "sensor_id", sensorID, "error", err)
		return
	}

	ev := model.ReadingEvent{
		SensorID:  sensorID,
		Timestamp: ts,
		Data:      data,
		Quality:   store.QualityGood,
	}
	if i.Anomaly != nil {
		ev.IsAnomaly = i.Anomaly(sensorID, data)
	}

	sensor, err := i.Repo.GetSensor(ctx, sensorID)
	switch {
	case err == nil:
		ev.SensorSummary = &model.SensorSummary{
			SensorID: sensor.SensorID,
			Name:     sensor.Name,
			Type:     sensor.Type,
			Location: sensor.LocationName,
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Bus producers are trusted devices: readings for unregistered
		// sensors are still accepted (orphan-tolerant), unless retention
		// for orphans is switched off.
		if !i.OrphanRetention {
			observability.MessagesIngested.WithLabelValues("data", "orphan_dropped").Inc()
			slog.Debug("ingest dropping orphan reading", "sensor_id", sensorID)
			i.broadcastReading(ev)
			return
		}
	default:
		slog.Error("ingest sensor lookup failed", "sensor_id", sensorID, "error", err)
	}

	if err := i.persistReading(ctx, ev, payload); err != nil {
		observability.MessagesIngested.WithLabelValues("data", "storage_error").Inc()
		slog.Error("ingest reading insert failed", "sensor_id", sensorID, "error", err)
	} else {
		observability.MessagesIngested.WithLabelValues("data", "ok").Inc()
		observability.ReadingsPersisted.Inc()
	}

	i.broadcastReading(ev)
}

func (i *Ingestor) persistReading(ctx context.Context, ev model.ReadingEvent, raw []byte) error {
	blob, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	rec := &store.Reading{
		SensorID:  ev.SensorID,
		TS:        ev.Timestamp,
		Data:      datatypes.JSON(blob),
		Quality:   ev.Quality,
		IsAnomaly: ev.IsAnomaly,
		Raw:       string(raw),
	}
	if err := i.Repo.InsertReading(ctx, rec); err != nil {
		return err
	}
	if err := i.Repo.TouchLastReading(ctx, ev.SensorID, ev.Timestamp); err != nil {
		slog.Warn("ingest last_reading_at touch failed", "sensor_id", ev.SensorID, "error", err)
	}
	return nil
}

func (i *Ingestor) broadcastReading(ev model.ReadingEvent) {
	observability.EventsBroadcast.WithLabelValues(model.EventReading).Inc()
	i.Hub.Broadcast(model.SensorTopic(ev.SensorID), model.EventReading, ev)
}

func (i *Ingestor) handleStatus(sensorID string, payload []byte, receivedAt time.Time) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Status == "" {
		body.Status = strings.TrimSpace(string(payload))
	}
	if body.Status == "" {
		observability.MessagesIngested.WithLabelValues("status", "parse_error").Inc()
		return
	}

	// Status events are broadcast-only; unknown sensors are forwarded
	// without any lookup side effects.
	observability.MessagesIngested.WithLabelValues("status", "ok").Inc()
	observability.EventsBroadcast.WithLabelValues(model.EventSensorStatus).Inc()
	i.Hub.Broadcast(model.SensorTopic(sensorID), model.EventSensorStatus, model.StatusEvent{
		SensorID:  sensorID,
		Status:    body.Status,
		Timestamp: receivedAt,
	})
}

// HandleWeatherMessage persists and broadcasts one weather sample from the
// {prefix}/weather/update topic.
func (i *Ingestor) HandleWeatherMessage(ctx context.Context, payload []byte, receivedAt time.Time) {
	var ev model.WeatherEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		observability.MessagesIngested.WithLabelValues("weather", "parse_error").Inc()
		slog.Warn("ingest dropping malformed weather payload", "error", err)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = receivedAt
	}
	if ev.Source == "" {
		ev.Source = store.WeatherSourceIoT
	}

	sample := &store.WeatherSample{
		TS:            ev.Timestamp,
		Latitude:      ev.Latitude,
		Longitude:     ev.Longitude,
		Temperature:   ev.Temperature,
		Windspeed:     ev.Windspeed,
		Winddirection: ev.Winddirection,
		Weathercode:   ev.Weathercode,
		IsDay:         ev.IsDay,
		Source:        ev.Source,
	}
	if err := i.Repo.InsertWeatherSample(ctx, sample); err != nil {
		observability.MessagesIngested.WithLabelValues("weather", "storage_error").Inc()
		slog.Error("ingest weather insert failed", "error", err)
	} else {
		observability.MessagesIngested.WithLabelValues("weather", "ok").Inc()
	}

	observability.EventsBroadcast.WithLabelValues(model.EventWeather).Inc()
	i.Hub.Broadcast(model.TopicWeather, model.EventWeather, ev)
}

// HandleAlert logs operational alerts; they are not consumed beyond that.
func (i *Ingestor) HandleAlert(topic string, payload []byte) {
	observability.MessagesIngested.WithLabelValues("alert", "ok").Inc()
	slog.Warn("system alert", "topic", topic, "payload", string(payload))
}

// ParseSensorTopic splits {prefix}/sensors/{sensorId}/{kind}.
func ParseSensorTopic(prefix, topic string) (sensorID, kind string, err error) {
	if prefix == "" {
		prefix = "iot"
	}
	rest, ok := strings.CutPrefix(topic, prefix+"/sensors/")
	if !ok {
		return "", "", ErrNotASensorTopic
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", errors.New("malformed sensor topic")
	}
	return parts[0], parts[1], nil
}

// parseDataPayload extracts the numeric measurement map. Extra numeric
// fields pass through verbatim; non-numeric values are skipped. An optional
// "timestamp" field (RFC3339) overrides the receive time.
func parseDataPayload(payload []byte, receivedAt time.Time) (map[string]float64, time.Time, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, time.Time{}, err
	}

	ts := receivedAt
	data := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			data[k] = val
		case string:
			if k == "timestamp" {
				if t, err := time.Parse(time.RFC3339, val); err == nil {
					ts = t.UTC()
				}
			}
		}
	}
	if len(data) == 0 {
		return nil, time.Time{}, errors.New("payload has no numeric measurements")
	}
	return data, ts, nil
}
