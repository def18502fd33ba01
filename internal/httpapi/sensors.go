package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"telemetry-hub/internal/store"
)

type sensorRequest struct {
	SensorID      string          `json:"sensor_id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	LocationName  string          `json:"location_name"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	Altitude      *float64        `json:"altitude,omitempty"`
	IsActive      *bool           `json:"is_active,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

func (s *Server) handleSensorsList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListSensors(r.Context())
	if err != nil {
		slog.Error("sensor list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list sensors")
		return
	}
	writeData(w, http.StatusOK, rows)
}

func (s *Server) handleSensorsCreate(w http.ResponseWriter, r *http.Request) {
	var body sensorRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	active := true
	if body.IsActive != nil {
		active = *body.IsActive
	}
	sensor := &store.Sensor{
		SensorID:     body.SensorID,
		Name:         body.Name,
		Type:         body.Type,
		LocationName: body.LocationName,
		Latitude:     body.Latitude,
		Longitude:    body.Longitude,
		Altitude:     body.Altitude,
		IsActive:     active,
	}
	if len(body.Configuration) > 0 {
		sensor.Configuration = datatypes.JSON(body.Configuration)
	}

	if err := s.repo.CreateSensor(r.Context(), sensor); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate") {
			writeError(w, http.StatusConflict, "sensor_id already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusCreated, sensor)
}

func (s *Server) handleSensorsGet(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensor_id")
	sensor, err := s.repo.GetSensor(r.Context(), sensorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "sensor not found")
			return
		}
		slog.Error("sensor get failed", "sensor_id", sensorID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load sensor")
		return
	}
	writeData(w, http.StatusOK, sensor)
}

func (s *Server) handleSensorsPatch(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensor_id")
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sensor, err := s.repo.UpdateSensor(r.Context(), sensorID, patch)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "sensor not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, sensor)
}

func (s *Server) handleSensorsDelete(w http.ResponseWriter, r *http.Request) {
	sensorID := chi.URLParam(r, "sensor_id")
	if err := s.repo.DeleteSensor(r.Context(), sensorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "sensor not found")
			return
		}
		slog.Error("sensor delete failed", "sensor_id", sensorID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete sensor")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"sensor_id": sensorID})
}
