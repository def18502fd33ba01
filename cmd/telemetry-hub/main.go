package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"telemetry-hub/internal/auth"
	"telemetry-hub/internal/config"
	"telemetry-hub/internal/httpapi"
	"telemetry-hub/internal/ingest"
	"telemetry-hub/internal/mqtt"
	"telemetry-hub/internal/observability"
	"telemetry-hub/internal/ratelimit"
	"telemetry-hub/internal/realtime"
	"telemetry-hub/internal/simulator"
	"telemetry-hub/internal/store"
	"telemetry-hub/internal/weather"
)

func main() {
	configPath := os.Getenv("TELEMETRY_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if strings.TrimSpace(cfg.Postgres.User) == "" || strings.TrimSpace(cfg.Postgres.DBName) == "" || strings.TrimSpace(cfg.Postgres.Host) == "" {
		slog.Error("missing required postgres config")
		os.Exit(1)
	}

	db, err := store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Admin.Password != "" {
		if err := repo.EnsureUser(ctx, cfg.Admin.Email, cfg.Admin.Password, "admin"); err != nil {
			slog.Error("admin seed failed", "error", err)
		}
	}

	obsShutdown, metricsHandler, tracer := observability.Setup("telemetry-hub", cfg.OTLPEndpoint)
	defer obsShutdown()

	hub := realtime.NewHub()
	observability.RegisterClientGauge(hub.ClientCount)

	bus, err := mqtt.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	ing := &ingest.Ingestor{
		Repo:            repo,
		Hub:             hub,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		OrphanRetention: cfg.Ingest.OrphanRetention,
	}
	if err := bus.Subscribe(mqtt.SensorsFilter(cfg.MQTT.TopicPrefix), func(m mqtt.Message) {
		ing.HandleSensorMessage(ctx, m.Topic(), m.Payload(), time.Now().UTC())
	}); err != nil {
		slog.Error("mqtt subscribe failed", "error", err)
		os.Exit(1)
	}
	if err := bus.Subscribe(mqtt.WeatherTopic(cfg.MQTT.TopicPrefix), func(m mqtt.Message) {
		ing.HandleWeatherMessage(ctx, m.Payload(), time.Now().UTC())
	}); err != nil {
		slog.Error("mqtt subscribe failed", "error", err)
		os.Exit(1)
	}
	if err := bus.Subscribe(mqtt.AlertsTopic(cfg.MQTT.TopicPrefix), func(m mqtt.Message) {
		ing.HandleAlert(m.Topic(), m.Payload())
	}); err != nil {
		slog.Error("mqtt subscribe failed", "error", err)
		os.Exit(1)
	}

	weatherClient := weather.NewClient(cfg.Weather.BaseURL)
	poller := &weather.Poller{
		Client:      weatherClient,
		Bus:         bus,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Latitude:    cfg.Weather.Latitude,
		Longitude:   cfg.Weather.Longitude,
	}
	if err := poller.Start(ctx, cfg.Weather.PollSpec); err != nil {
		slog.Error("weather poller start failed", "error", err)
		os.Exit(1)
	}
	defer poller.Stop()

	var gen *simulator.Generator
	if cfg.Simulator.Enabled {
		gen = &simulator.Generator{
			Bus:         bus,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Sensors:     seedSimSensors(ctx, repo, cfg.Simulator),
		}
		gen.Start(ctx)
		defer gen.Stop()
	}

	var submitLimiter func(http.Handler) http.Handler
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		rl := ratelimit.New(rdb, "telemetry-hub", ratelimit.LimiterConfig{RPS: cfg.Redis.RPS, Burst: cfg.Redis.Burst})
		submitLimiter = rl.Middleware(ratelimit.KeyByIP)
	}

	api := httpapi.NewServer(httpapi.Options{
		Repo:         repo,
		Hub:          hub,
		WSHandler:    hub,
		Weather:      weatherClient,
		WeatherCache: weather.NewCache(cfg.Weather.CacheTTL),
		Auth:         &auth.Service{Repo: repo, Secret: cfg.JWTSecret},
		JWTSecret:    cfg.JWTSecret,
		DefaultLat:   cfg.Weather.Latitude,
		DefaultLon:   cfg.Weather.Longitude,
		Metrics:      metricsHandler,
		Middleware: []func(http.Handler) http.Handler{
			observability.Middleware(tracer),
		},
		SubmitLimiter: submitLimiter,
	})

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("telemetry-hub listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}
	slog.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancel()
}

// seedSimSensors registers the simulated sensors so REST reads and the
// dashboard tree see them like any admin-created sensor.
func seedSimSensors(ctx context.Context, repo *store.Repo, cfg config.SimulatorConfig) []simulator.SimSensor {
	types := []string{
		store.SensorTypeTemperature,
		store.SensorTypeHumidity,
		store.SensorTypePressure,
		store.SensorTypeWind,
		store.SensorTypeCombined,
	}
	out := make([]simulator.SimSensor, 0, cfg.Sensors)
	for i := 0; i < cfg.Sensors; i++ {
		sensorType := types[i%len(types)]
		sensorID := fmt.Sprintf("sim-%s-%02d", sensorType, i+1)
		if _, err := repo.GetSensor(ctx, sensorID); errors.Is(err, gorm.ErrRecordNotFound) {
			s := &store.Sensor{
				SensorID:     sensorID,
				Name:         fmt.Sprintf("Simulated %s %02d", sensorType, i+1),
				Type:         sensorType,
				LocationName: "simulation",
				IsActive:     true,
			}
			if err := repo.CreateSensor(ctx, s); err != nil {
				slog.Warn("simulated sensor seed failed", "sensor_id", sensorID, "error", err)
			}
		}
		out = append(out, simulator.SimSensor{SensorID: sensorID, Type: sensorType, Interval: cfg.Interval})
	}
	return out
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
