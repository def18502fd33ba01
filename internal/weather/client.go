package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"telemetry-hub/internal/model"
	"telemetry-hub/internal/store"
)

// ErrUpstreamTimeout marks a weather pull that exceeded the request budget.
// The caller gets exactly one bounded attempt; no automatic retry.
var ErrUpstreamTimeout = errors.New("weather upstream timed out")

const requestTimeout = 5 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type currentWeatherResponse struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Elevation      float64 `json:"elevation"`
	Timezone       string  `json:"timezone"`
	CurrentWeather struct {
		Temperature   float64 `json:"temperature"`
		Windspeed     float64 `json:"windspeed"`
		Winddirection float64 `json:"winddirection"`
		Weathercode   int     `json:"weathercode"`
		IsDay         int     `json:"is_day"`
		Time          string  `json:"time"`
	} `json:"current_weather"`
}

// Current fetches the current weather for a location. The upstream returns
// a fixed JSON shape; anything else is an error.
func (c *Client) Current(ctx context.Context, lat, lon float64) (model.WeatherEvent, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("current_weather", "true")
	q.Set("timezone", "auto")
	u := c.baseURL + "/v1/forecast?" + q.Encode()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.WeatherEvent{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return model.WeatherEvent{}, ErrUpstreamTimeout
		}
		return model.WeatherEvent{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.WeatherEvent{}, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}

	var body currentWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.WeatherEvent{}, err
	}

	ts := time.Now().UTC()
	if t, err := time.Parse("2006-01-02T15:04", body.CurrentWeather.Time); err == nil {
		ts = t.UTC()
	}

	return model.WeatherEvent{
		Timestamp:     ts,
		Latitude:      body.Latitude,
		Longitude:     body.Longitude,
		Temperature:   body.CurrentWeather.Temperature,
		Windspeed:     body.CurrentWeather.Windspeed,
		Winddirection: body.CurrentWeather.Winddirection,
		Weathercode:   body.CurrentWeather.Weathercode,
		IsDay:         body.CurrentWeather.IsDay,
		Source:        store.WeatherSourceAPI,
	}, nil
}
