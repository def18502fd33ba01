package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func mustInsertReading(t *testing.T, repo *Repo, sensorID string, ts time.Time, data string) *Reading {
	t.Helper()
	p := &Reading{SensorID: sensorID, TS: ts, Data: []byte(data)}
	if err := repo.InsertReading(context.Background(), p); err != nil {
		t.Fatalf("insert reading: %v", err)
	}
	return p
}

func TestLatestPerSensor(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mustInsertReading(t, repo, "s1", base.Add(1*time.Second), `{"temperature":20}`)
	mustInsertReading(t, repo, "s1", base.Add(3*time.Second), `{"temperature":21}`)
	mustInsertReading(t, repo, "s2", base.Add(2*time.Second), `{"humidity":50}`)
	// Two s3 readings share a timestamp: insertion order breaks the tie.
	mustInsertReading(t, repo, "s3", base.Add(2*time.Second), `{"pressure":1000}`)
	last := mustInsertReading(t, repo, "s3", base.Add(2*time.Second), `{"pressure":1001}`)

	rows, err := repo.LatestPerSensor(context.Background())
	if err != nil {
		t.Fatalf("latest per sensor: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	byID := map[string]Reading{}
	for _, r := range rows {
		if _, dup := byID[r.SensorID]; dup {
			t.Fatalf("duplicate sensor %q in latest set", r.SensorID)
		}
		byID[r.SensorID] = r
	}
	if got := byID["s1"].TS; !got.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("s1 latest ts = %v", got)
	}
	if got := byID["s3"].ID; got != last.ID {
		t.Fatalf("s3 tie-break: got id %d, want %d", got, last.ID)
	}
}

func TestLatestPerSensorIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mustInsertReading(t, repo, "s1", base, `{"temperature":20}`)

	first, err := repo.LatestPerSensor(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	second, err := repo.LatestPerSensor(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(first) != len(second) || first[0].ID != second[0].ID || !first[0].TS.Equal(second[0].TS) {
		t.Fatalf("latest per sensor not idempotent: %v vs %v", first, second)
	}
}

func TestListReadingsPagination(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		mustInsertReading(t, repo, "s1", base.Add(time.Duration(i)*time.Minute), `{"temperature":20}`)
	}

	page, err := repo.ListReadings(context.Background(), "s1", time.Time{}, time.Time{}, 2, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Total != 25 || page.Pagination.Pages != 3 {
		t.Fatalf("pagination = %+v", page.Pagination)
	}
	if len(page.Readings) != 10 {
		t.Fatalf("expected 10 readings, got %d", len(page.Readings))
	}
	// Descending order: page 2 holds readings 15..6 (0-based minutes 14..5).
	if got := page.Readings[0].TS; !got.Equal(base.Add(14 * time.Minute)) {
		t.Fatalf("page 2 first ts = %v", got)
	}
	if got := page.Readings[9].TS; !got.Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("page 2 last ts = %v", got)
	}
}

func TestListReadingsLimitCap(t *testing.T) {
	repo := openTestRepo(t)
	page, err := repo.ListReadings(context.Background(), "s1", time.Time{}, time.Time{}, 1, 10_000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Limit != MaxPageLimit {
		t.Fatalf("limit not capped: %d", page.Pagination.Limit)
	}
}

func TestAggregateReadingStatsSkipsSparseFields(t *testing.T) {
	repo := openTestRepo(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mustInsertReading(t, repo, "s1", base.Add(1*time.Minute), `{"temperature":20,"humidity":40}`)
	mustInsertReading(t, repo, "s1", base.Add(2*time.Minute), `{"temperature":22}`)
	mustInsertReading(t, repo, "s1", base.Add(3*time.Minute), `{"temperature":"broken","humidity":60}`)

	stats, err := repo.AggregateReadingStats(context.Background(), "s1", time.Time{}, time.Time{}, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	temp := stats["temperature"]
	if temp.Count != 2 || temp.Min != 20 || temp.Max != 22 || temp.Avg != 21 {
		t.Fatalf("temperature stats = %+v", temp)
	}
	hum := stats["humidity"]
	if hum.Count != 2 || hum.Avg != 50 {
		t.Fatalf("humidity stats = %+v", hum)
	}
}

func TestDeleteSensorCascadesReadings(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	sensor := &Sensor{SensorID: "s1", Name: "Temp", Type: SensorTypeTemperature, IsActive: true}
	if err := repo.CreateSensor(ctx, sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}
	mustInsertReading(t, repo, "s1", time.Now().UTC(), `{"temperature":20}`)

	if err := repo.DeleteSensor(ctx, "s1"); err != nil {
		t.Fatalf("delete sensor: %v", err)
	}
	page, err := repo.ListReadings(ctx, "s1", time.Time{}, time.Time{}, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Total != 0 {
		t.Fatalf("readings survived cascade: %d", page.Pagination.Total)
	}
	if _, err := repo.GetSensor(ctx, "s1"); err == nil {
		t.Fatal("sensor survived delete")
	}
}

func TestTouchLastReadingMonotonic(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	sensor := &Sensor{SensorID: "s1", Name: "Temp", Type: SensorTypeTemperature, IsActive: true}
	if err := repo.CreateSensor(ctx, sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}

	newer := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	if err := repo.TouchLastReading(ctx, "s1", newer); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := repo.TouchLastReading(ctx, "s1", older); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := repo.GetSensor(ctx, "s1")
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if got.LastReadingAt == nil || !got.LastReadingAt.Equal(newer) {
		t.Fatalf("last_reading_at moved backwards: %v", got.LastReadingAt)
	}
}

func TestCreateSensorValidation(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateSensor(ctx, &Sensor{SensorID: "s1", Name: "X", Type: "volcano"}); err == nil {
		t.Fatal("expected invalid type to be rejected")
	}
	if err := repo.CreateSensor(ctx, &Sensor{SensorID: "s1", Name: "X", Type: SensorTypeWind, Latitude: 120}); err == nil {
		t.Fatal("expected out-of-range latitude to be rejected")
	}
}

func TestUpdateSensorIgnoresSensorID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	sensor := &Sensor{SensorID: "s1", Name: "Temp", Type: SensorTypeTemperature, IsActive: true}
	if err := repo.CreateSensor(ctx, sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}

	got, err := repo.UpdateSensor(ctx, "s1", map[string]any{"sensor_id": "evil", "name": "Renamed"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.SensorID != "s1" || got.Name != "Renamed" {
		t.Fatalf("unexpected sensor after update: %+v", got)
	}
}

func TestUpdateSensorValidatesCoordinates(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	sensor := &Sensor{SensorID: "s1", Name: "Temp", Type: SensorTypeTemperature, IsActive: true}
	if err := repo.CreateSensor(ctx, sensor); err != nil {
		t.Fatalf("create sensor: %v", err)
	}

	if _, err := repo.UpdateSensor(ctx, "s1", map[string]any{"latitude": 500.0}); err == nil {
		t.Fatal("expected out-of-range latitude patch to be rejected")
	}
	if _, err := repo.UpdateSensor(ctx, "s1", map[string]any{"longitude": -181.0}); err == nil {
		t.Fatal("expected out-of-range longitude patch to be rejected")
	}

	got, err := repo.GetSensor(ctx, "s1")
	if err != nil {
		t.Fatalf("get sensor: %v", err)
	}
	if got.Latitude != 0 || got.Longitude != 0 {
		t.Fatalf("rejected patch was applied: %+v", got)
	}

	if _, err := repo.UpdateSensor(ctx, "s1", map[string]any{"latitude": 47.4979, "longitude": 19.0402}); err != nil {
		t.Fatalf("valid coordinate patch rejected: %v", err)
	}
}

func TestWeatherLatestAndHistory(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s := &WeatherSample{TS: base.Add(time.Duration(i) * time.Hour), Latitude: 47.4979, Longitude: 19.0402, Temperature: 20 + float64(i)}
		if err := repo.InsertWeatherSample(ctx, s); err != nil {
			t.Fatalf("insert weather: %v", err)
		}
	}

	latest, err := repo.LatestWeather(ctx, 47.4979, 19.0402)
	if err != nil {
		t.Fatalf("latest weather: %v", err)
	}
	if latest.Temperature != 22 {
		t.Fatalf("latest temperature = %v", latest.Temperature)
	}

	rows, err := repo.ListWeather(ctx, 47.4979, 19.0402, time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("list weather: %v", err)
	}
	if len(rows) != 2 || rows[0].Temperature != 22 {
		t.Fatalf("history rows = %+v", rows)
	}

	stats, err := repo.WeatherStats(ctx, 47.4979, 19.0402, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("weather stats: %v", err)
	}
	if stats["temperature"].Count != 3 || stats["temperature"].Avg != 21 {
		t.Fatalf("weather stats = %+v", stats["temperature"])
	}
}
