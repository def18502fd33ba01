// Package simulator produces synthetic sensor telemetry on the bus. It is
// a pure producer: real devices and the simulator are indistinguishable to
// the ingestion side.
package simulator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"telemetry-hub/internal/mqtt"
	"telemetry-hub/internal/store"
)

type SimSensor struct {
	SensorID string
	Type     string
	Interval time.Duration
}

type Generator struct {
	Bus         mqtt.ClientAPI
	TopicPrefix string
	Sensors     []SimSensor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (g *Generator) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	for _, s := range g.Sensors {
		if s.Interval <= 0 {
			s.Interval = 10 * time.Second
		}
		g.wg.Add(1)
		go g.run(ctx, s)
	}
	slog.Info("simulator started", "sensors", len(g.Sensors))
}

func (g *Generator) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Generator) run(ctx context.Context, s SimSensor) {
	defer g.wg.Done()

	g.publishStatus(s.SensorID, "online")
	defer g.publishStatus(s.SensorID, "offline")

	// Per-sensor random walk state keeps consecutive readings plausible.
	w := newWalk(s.Type)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := w.next()
			payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
			b, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			// Data is high-rate and disposable; QoS 0 like real devices.
			_ = g.Bus.Publish(mqtt.DataTopic(g.TopicPrefix, s.SensorID), b, 0)
		}
	}
}

func (g *Generator) publishStatus(sensorID, status string) {
	b, _ := json.Marshal(map[string]string{"status": status})
	_ = g.Bus.Publish(mqtt.StatusTopic(g.TopicPrefix, sensorID), b, 1)
}

type walk struct {
	sensorType string
	values     map[string]float64
}

func newWalk(sensorType string) *walk {
	w := &walk{sensorType: sensorType, values: map[string]float64{
		"temperature":   15 + rand.Float64()*10,
		"humidity":      40 + rand.Float64()*30,
		"pressure":      1000 + rand.Float64()*25,
		"windspeed":     rand.Float64() * 20,
		"winddirection": rand.Float64() * 360,
		"battery":       80 + rand.Float64()*20,
		"signal":        -80 + rand.Float64()*30,
	}}
	return w
}

func (w *walk) next() map[string]any {
	step := func(key string, delta, min, max float64) float64 {
		v := w.values[key] + (rand.Float64()*2-1)*delta
		if v < min {
			v = min
		}
		if v > max {
			v = max
		}
		w.values[key] = v
		return round1(v)
	}

	out := map[string]any{
		"battery": step("battery", 0.1, 0, 100),
		"signal":  step("signal", 1, -100, -40),
	}
	switch w.sensorType {
	case store.SensorTypeTemperature:
		out["temperature"] = step("temperature", 0.4, -30, 45)
	case store.SensorTypeHumidity:
		out["humidity"] = step("humidity", 1.5, 0, 100)
	case store.SensorTypePressure:
		out["pressure"] = step("pressure", 0.8, 950, 1050)
	case store.SensorTypeWind:
		out["windspeed"] = step("windspeed", 2, 0, 120)
		out["winddirection"] = step("winddirection", 15, 0, 360)
	default: // combined
		out["temperature"] = step("temperature", 0.4, -30, 45)
		out["humidity"] = step("humidity", 1.5, 0, 100)
		out["pressure"] = step("pressure", 0.8, 950, 1050)
		out["windspeed"] = step("windspeed", 2, 0, 120)
		out["winddirection"] = step("winddirection", 15, 0, 360)
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
