package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"telemetry-hub/internal/mqtt"
	"telemetry-hub/internal/store"
)

type fakeBus struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	qos      []byte
}

func (f *fakeBus) Subscribe(string, func(mqtt.Message)) error { return nil }
func (f *fakeBus) Close()                                     {}

func (f *fakeBus) Publish(topic string, payload []byte, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	f.qos = append(f.qos, qos)
	return nil
}

func (f *fakeBus) snapshot() ([]string, [][]byte, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...), append([][]byte(nil), f.payloads...), append([]byte(nil), f.qos...)
}

func TestGeneratorPublishesStatusAndData(t *testing.T) {
	bus := &fakeBus{}
	gen := &Generator{
		Bus:         bus,
		TopicPrefix: "iot",
		Sensors:     []SimSensor{{SensorID: "sim-1", Type: store.SensorTypeTemperature, Interval: 5 * time.Millisecond}},
	}

	gen.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		topics, _, _ := bus.snapshot()
		if len(topics) >= 4 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	gen.Stop()

	topics, payloads, qos := bus.snapshot()
	if len(topics) < 4 {
		t.Fatalf("only %d messages published", len(topics))
	}

	if topics[0] != "iot/sensors/sim-1/status" {
		t.Fatalf("first topic = %q", topics[0])
	}
	if qos[0] != 1 {
		t.Fatalf("status qos = %d", qos[0])
	}
	var status map[string]string
	if err := json.Unmarshal(payloads[0], &status); err != nil || status["status"] != "online" {
		t.Fatalf("online status payload = %s", payloads[0])
	}

	// Last message is the offline status from Stop.
	last := len(topics) - 1
	if topics[last] != "iot/sensors/sim-1/status" {
		t.Fatalf("last topic = %q", topics[last])
	}
	if err := json.Unmarshal(payloads[last], &status); err != nil || status["status"] != "offline" {
		t.Fatalf("offline status payload = %s", payloads[last])
	}

	// Everything in between is data for this sensor.
	for i := 1; i < last; i++ {
		if topics[i] != "iot/sensors/sim-1/data" {
			t.Fatalf("topic[%d] = %q", i, topics[i])
		}
		if qos[i] != 0 {
			t.Fatalf("data qos[%d] = %d", i, qos[i])
		}
		var body map[string]any
		if err := json.Unmarshal(payloads[i], &body); err != nil {
			t.Fatalf("payload[%d]: %v", i, err)
		}
		temp, ok := body["temperature"].(float64)
		if !ok || temp < -30 || temp > 45 {
			t.Fatalf("temperature = %v", body["temperature"])
		}
		if _, ok := body["battery"].(float64); !ok {
			t.Fatalf("payload missing battery: %s", payloads[i])
		}
		ts, _ := body["timestamp"].(string)
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			t.Fatalf("timestamp %q: %v", ts, err)
		}
	}
}

func TestWalkStaysInBounds(t *testing.T) {
	w := newWalk(store.SensorTypeWind)
	for i := 0; i < 500; i++ {
		out := w.next()
		speed := out["windspeed"].(float64)
		if speed < 0 || speed > 120 {
			t.Fatalf("windspeed escaped bounds: %v", speed)
		}
		dir := out["winddirection"].(float64)
		if dir < 0 || dir > 360 {
			t.Fatalf("winddirection escaped bounds: %v", dir)
		}
	}
}
