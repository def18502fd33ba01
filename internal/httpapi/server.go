package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"telemetry-hub/internal/auth"
	"telemetry-hub/internal/store"
	"telemetry-hub/internal/weather"
)

// Broadcaster is the slice of the realtime hub the API needs for
// REST-submitted readings.
type Broadcaster interface {
	Broadcast(topic, eventType string, payload any)
}

type Server struct {
	repo    *store.Repo
	hub     Broadcaster
	ws      http.Handler
	weather *weather.Client
	wcache  *weather.Cache
	authsvc *auth.Service

	defaultLat float64
	defaultLon float64

	jwtSecret   string
	metrics     http.Handler
	extraWrap   []func(http.Handler) http.Handler
	submitLimit func(http.Handler) http.Handler
}

type Options struct {
	Repo          *store.Repo
	Hub           Broadcaster
	WSHandler     http.Handler
	Weather       *weather.Client
	WeatherCache  *weather.Cache
	Auth          *auth.Service
	JWTSecret     string
	DefaultLat    float64
	DefaultLon    float64
	Metrics       http.Handler
	Middleware    []func(http.Handler) http.Handler
	SubmitLimiter func(http.Handler) http.Handler
}

func NewServer(opts Options) *Server {
	return &Server{
		repo:        opts.Repo,
		hub:         opts.Hub,
		ws:          opts.WSHandler,
		weather:     opts.Weather,
		wcache:      opts.WeatherCache,
		authsvc:     opts.Auth,
		jwtSecret:   opts.JWTSecret,
		defaultLat:  opts.DefaultLat,
		defaultLon:  opts.DefaultLon,
		metrics:     opts.Metrics,
		extraWrap:   opts.Middleware,
		submitLimit: opts.SubmitLimiter,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	for _, mw := range s.extraWrap {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}
	if s.authsvc != nil {
		r.Post("/api/auth/login", s.handleLogin)
	}

	admin := func(next http.Handler) http.Handler { return next }
	if s.jwtSecret != "" {
		jwtMW := auth.Middleware(s.jwtSecret)
		admin = func(next http.Handler) http.Handler {
			return jwtMW(auth.RequireAdmin(next))
		}
	}

	r.Route("/api/iot", func(r chi.Router) {
		r.Get("/sensors", s.handleSensorsList)
		r.With(admin).Post("/sensors", s.handleSensorsCreate)
		r.Get("/sensors/{sensor_id}", s.handleSensorsGet)
		r.With(admin).Patch("/sensors/{sensor_id}", s.handleSensorsPatch)
		r.With(admin).Delete("/sensors/{sensor_id}", s.handleSensorsDelete)

		r.Get("/sensors/{sensor_id}/readings", s.handleReadingsList)
		if s.submitLimit != nil {
			r.With(s.submitLimit).Post("/sensors/{sensor_id}/readings", s.handleReadingsCreate)
		} else {
			r.Post("/sensors/{sensor_id}/readings", s.handleReadingsCreate)
		}
		r.Get("/sensors/{sensor_id}/stats", s.handleReadingStats)

		r.Get("/readings/latest", s.handleLatestPerSensor)
		r.Get("/tree", s.handleTree)
	})

	r.Route("/api/weather", func(r chi.Router) {
		r.Get("/current", s.handleWeatherCurrent)
		r.Get("/history", s.handleWeatherHistory)
		r.Get("/stats", s.handleWeatherStats)
	})

	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.authsvc.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": token})
}

// --- response envelope ---

type envelope struct {
	Success    bool              `json:"success"`
	Data       any               `json:"data,omitempty"`
	Pagination *store.Pagination `json:"pagination,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, status int, data any, p store.Pagination) {
	writeJSON(w, status, envelope{Success: true, Data: data, Pagination: &p})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// --- query helpers ---

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}
