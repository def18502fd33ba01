package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"telemetry-hub/internal/weather"
)

// handleWeatherCurrent pulls the upstream API (through the TTL cache). The
// pull gets a single bounded attempt; a timeout surfaces to the caller
// rather than being retried here.
func (s *Server) handleWeatherCurrent(w http.ResponseWriter, r *http.Request) {
	lat := queryFloat(r, "lat", s.defaultLat)
	lon := queryFloat(r, "lon", s.defaultLon)
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)

	if s.wcache != nil {
		if ev, ok := s.wcache.Get(key); ok {
			writeData(w, http.StatusOK, ev)
			return
		}
	}

	ev, err := s.weather.Current(r.Context(), lat, lon)
	if err != nil {
		if errors.Is(err, weather.ErrUpstreamTimeout) {
			writeError(w, http.StatusGatewayTimeout, "weather upstream timed out")
			return
		}
		slog.Error("weather pull failed", "error", err)
		writeError(w, http.StatusBadGateway, "weather upstream unavailable")
		return
	}
	if s.wcache != nil {
		s.wcache.Set(key, ev)
	}
	writeData(w, http.StatusOK, ev)
}

func (s *Server) handleWeatherHistory(w http.ResponseWriter, r *http.Request) {
	lat := queryFloat(r, "lat", s.defaultLat)
	lon := queryFloat(r, "lon", s.defaultLon)
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
	limit := queryInt(r, "limit", 0)

	rows, err := s.repo.ListWeather(r.Context(), lat, lon, from, to, limit)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeData(w, http.StatusOK, []any{})
			return
		}
		slog.Error("weather history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not query weather history")
		return
	}
	writeData(w, http.StatusOK, rows)
}

func (s *Server) handleWeatherStats(w http.ResponseWriter, r *http.Request) {
	lat := queryFloat(r, "lat", s.defaultLat)
	lon := queryFloat(r, "lon", s.defaultLon)
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

	stats, err := s.repo.WeatherStats(r.Context(), lat, lon, from, to)
	if err != nil {
		slog.Error("weather stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not aggregate weather")
		return
	}
	writeData(w, http.StatusOK, stats)
}
