package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"telemetry-hub/internal/model"
	"telemetry-hub/internal/observability"
	"telemetry-hub/internal/store"
)

func (s *Server) handleReadingsList(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensor_id")
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	res, err := s.repo.ListReadings(r.Context(), sensorID, from, to, page, limit)
	if err != nil {
		slog.Error("reading list failed", "sensor_id", sensorID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not query readings")
		return
	}
	writePage(w, http.StatusOK, res.Readings, res.Pagination)
}

type readingRequest struct {
	Timestamp *time.Time         `json:"timestamp,omitempty"`
	Data      map[string]float64 `json:"data"`
	Quality   string             `json:"quality,omitempty"`
}

// handleReadingsCreate is the REST submission path. Unlike bus ingestion it
// is strict: the sensor must exist and be active, otherwise nothing is
// persisted and nothing is broadcast.
func (s *Server) handleReadingsCreate(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensor_id")

	var body readingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data must contain at least one measurement")
		return
	}
	if body.Quality == "" {
		body.Quality = store.QualityGood
	}
	if !store.ValidQuality(body.Quality) {
		writeError(w, http.StatusBadRequest, "invalid quality")
		return
	}

	sensor, err := s.repo.GetSensor(r.Context(), sensorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "sensor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load sensor")
		return
	}
	if !sensor.IsActive {
		writeError(w, http.StatusBadRequest, "sensor is inactive")
		return
	}

	ts := time.Now().UTC()
	if body.Timestamp != nil {
		ts = body.Timestamp.UTC()
	}

	blob, err := json.Marshal(body.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data")
		return
	}
	rec := &store.Reading{
		SensorID: sensorID,
		TS:       ts,
		Data:     datatypes.JSON(blob),
		Quality:  body.Quality,
	}
	if err := s.repo.InsertReading(r.Context(), rec); err != nil {
		slog.Error("reading insert failed", "sensor_id", sensorID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store reading")
		return
	}
	if err := s.repo.TouchLastReading(r.Context(), sensorID, ts); err != nil {
		slog.Warn("last_reading_at touch failed", "sensor_id", sensorID, "error", err)
	}

	ev := model.ReadingEvent{
		SensorID:  sensorID,
		Timestamp: ts,
		Data:      body.Data,
		Quality:   body.Quality,
		SensorSummary: &model.SensorSummary{
			SensorID: sensor.SensorID,
			Name:     sensor.Name,
			Type:     sensor.Type,
			Location: sensor.LocationName,
		},
	}
	if s.hub != nil {
		observability.EventsBroadcast.WithLabelValues(model.EventReading).Inc()
		s.hub.Broadcast(model.SensorTopic(sensorID), model.EventReading, ev)
	}
	writeData(w, http.StatusCreated, rec)
}

func (s *Server) handleLatestPerSensor(w http.ResponseWriter, r *http.Request) {
	events, err := s.latestEvents(r)
	if err != nil {
		slog.Error("latest per sensor failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not query latest readings")
		return
	}
	writeData(w, http.StatusOK, events)
}

// latestEvents projects the latest stored reading per sensor into the same
// shape the broadcaster emits for iot:reading.
func (s *Server) latestEvents(r *http.Request) ([]model.ReadingEvent, error) {
	rows, err := s.repo.LatestPerSensor(r.Context())
	if err != nil {
		return nil, err
	}
	sensors, err := s.repo.ListSensors(r.Context())
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Sensor, len(sensors))
	for _, sr := range sensors {
		byID[sr.SensorID] = sr
	}

	events := make([]model.ReadingEvent, 0, len(rows))
	for _, row := range rows {
		var data map[string]float64
		if err := json.Unmarshal(row.Data, &data); err != nil {
			continue
		}
		ev := model.ReadingEvent{
			SensorID:  row.SensorID,
			Timestamp: row.TS,
			Data:      data,
			Quality:   row.Quality,
			IsAnomaly: row.IsAnomaly,
		}
		if sensor, ok := byID[row.SensorID]; ok {
			ev.SensorSummary = &model.SensorSummary{
				SensorID: sensor.SensorID,
				Name:     sensor.Name,
				Type:     sensor.Type,
				Location: sensor.LocationName,
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Server) handleReadingStats(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensor_id")
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	var fields []string
	if v := r.URL.Query().Get("fields"); v != "" {
		fields = splitCSV(v)
	}

	stats, err := s.repo.AggregateReadingStats(r.Context(), sensorID, from, to, fields)
	if err != nil {
		slog.Error("reading stats failed", "sensor_id", sensorID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not aggregate readings")
		return
	}
	writeData(w, http.StatusOK, stats)
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
