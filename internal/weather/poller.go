package weather

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"telemetry-hub/internal/mqtt"
)

// Poller pulls the upstream API on a schedule and republishes each sample
// on the weather bus topic, so ingestion persists and broadcasts it the
// same way as device-originated weather events.
type Poller struct {
	Client      *Client
	Bus         mqtt.ClientAPI
	TopicPrefix string
	Latitude    float64
	Longitude   float64

	cron *cron.Cron
}

// Start schedules the poll. spec is a cron expression such as "@every 5m".
func (p *Poller) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = "@every 5m"
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() { p.poll(ctx) })
	if err != nil {
		return err
	}
	p.cron = c
	c.Start()
	// Prime immediately so the dashboard has data before the first tick.
	go p.poll(ctx)
	return nil
}

func (p *Poller) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

func (p *Poller) poll(ctx context.Context) {
	ev, err := p.Client.Current(ctx, p.Latitude, p.Longitude)
	if err != nil {
		slog.Warn("weather poll failed", "error", err)
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.Bus.Publish(mqtt.WeatherTopic(p.TopicPrefix), b, 1); err != nil {
		return
	}
	slog.Debug("weather sample published", "ts", ev.Timestamp.Format(time.RFC3339))
}
