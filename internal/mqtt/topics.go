package mqtt

// Topic layout under the configurable prefix (default "iot"):
//
//	{prefix}/sensors/{sensorId}/data    one reading
//	{prefix}/sensors/{sensorId}/status  liveness/status event
//	{prefix}/weather/update             weather sample
//	{prefix}/system/alerts              operational alerts (logged only)

func DataTopic(prefix, sensorID string) string   { return prefix + "/sensors/" + sensorID + "/data" }
func StatusTopic(prefix, sensorID string) string { return prefix + "/sensors/" + sensorID + "/status" }
func WeatherTopic(prefix string) string          { return prefix + "/weather/update" }
func AlertsTopic(prefix string) string           { return prefix + "/system/alerts" }

// SensorsFilter matches every sensor data and status topic.
func SensorsFilter(prefix string) string { return prefix + "/sensors/#" }
