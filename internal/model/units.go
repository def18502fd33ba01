package model

// fieldUnits maps the known measurement fields to their display units.
// The reading data map is open, so unknown fields resolve to an empty unit
// rather than an error.
var fieldUnits = map[string]string{
	"temperature":   "°C",
	"humidity":      "%",
	"pressure":      "hPa",
	"windspeed":     "km/h",
	"winddirection": "°",
	"battery":       "%",
	"signal":        "dBm",
}

// UnitFor returns the display unit for a measurement field, or "" for
// fields outside the known set.
func UnitFor(field string) string { return fieldUnits[field] }

// KnownFields lists the measurement fields ingestion recognizes by name.
// Extra numeric payload fields still pass through into the data map.
func KnownFields() []string {
	return []string{"temperature", "humidity", "pressure", "windspeed", "winddirection", "battery", "signal"}
}
