package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicHeartRate string
	MQTTTopicControl   string
	MQTTTopicStatus    string

	// ClickHouse Configuration
	ClickHouseEnabled bool
	ClickHouseAddr    string
	ClickHouseDB      string
	ClickHouseUser    string
	ClickHousePass    string

	// Heart-rate relay
	HRRelayURL string
	HRDevice   string

	// Capture
	FFmpegPath       string
	CaptureFormat    string
	CaptureInput     string
	AudioFormat      string
	AudioInput       string
	CaptureFrameRate int
	CaptureTimeslice time.Duration
	VideoBitrate     string
	AudioBitrate     string

	// Export
	OutputDir        string
	ExportMP4        bool
	ExportDeviceOnly bool

	// Service
	MetricsAddr          string
	LogLevel             string
	LogFormat            string
	HeartRateChannelSize int

	// Warnings lists values that failed to parse and fell back to defaults.
	// The logger does not exist yet while configuration loads.
	Warnings []string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.MQTTBroker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTTClientID = getEnv("MQTT_CLIENT_ID", "screen-hr-sync")
	cfg.MQTTUsername = getEnv("MQTT_USERNAME", "")
	cfg.MQTTPassword = getEnv("MQTT_PASSWORD", "")

	cfg.MQTTTopicHeartRate = getEnv("MQTT_TOPIC_HEART_RATE", "sensor/+/heartrate")
	cfg.MQTTTopicControl = getEnv("MQTT_TOPIC_CONTROL", "recording/control")
	cfg.MQTTTopicStatus = getEnv("MQTT_TOPIC_STATUS", "recording/{device_id}/status")

	cfg.ClickHouseEnabled = cfg.getEnvBool("CLICKHOUSE_ENABLED", true)
	cfg.ClickHouseAddr = getEnv("CLICKHOUSE_ADDR", "localhost:9000")
	cfg.ClickHouseDB = getEnv("CLICKHOUSE_DB", "hrsync")
	cfg.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	cfg.ClickHousePass = getEnv("CLICKHOUSE_PASS", "")

	cfg.HRRelayURL = getEnv("HR_RELAY_URL", "")
	cfg.HRDevice = getEnv("HR_DEVICE", "Polar Verity Sense")

	cfg.FFmpegPath = getEnv("FFMPEG_PATH", "ffmpeg")
	cfg.CaptureFormat = getEnv("CAPTURE_FORMAT", "x11grab")
	cfg.CaptureInput = getEnv("CAPTURE_INPUT", ":0.0")
	cfg.AudioFormat = getEnv("CAPTURE_AUDIO_FORMAT", "")
	cfg.AudioInput = getEnv("CAPTURE_AUDIO_INPUT", "")
	cfg.CaptureFrameRate = cfg.getEnvInt("CAPTURE_FRAME_RATE", 30)
	cfg.CaptureTimeslice = cfg.getEnvDuration("CAPTURE_TIMESLICE", time.Second)
	cfg.VideoBitrate = getEnv("VIDEO_BITRATE", "2500k")
	cfg.AudioBitrate = getEnv("AUDIO_BITRATE", "128k")

	cfg.OutputDir = getEnv("OUTPUT_DIR", "./recordings")
	cfg.ExportMP4 = cfg.getEnvBool("EXPORT_MP4", false)
	cfg.ExportDeviceOnly = cfg.getEnvBool("EXPORT_DEVICE_ONLY", false)

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9102")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.HeartRateChannelSize = cfg.getEnvInt("HEART_RATE_CHANNEL_SIZE", 100)

	return cfg
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (c *Config) warn(key, kind string, err error) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("failed to parse %s as %s, using default: %v", key, kind, err))
}

func (c *Config) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		c.warn(key, "int", err)
		return defaultValue
	}
	return intValue
}

func (c *Config) getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		c.warn(key, "bool", err)
		return defaultValue
	}
	return boolValue
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		c.warn(key, "duration", err)
		return defaultValue
	}
	if d <= 0 {
		c.warn(key, "duration", fmt.Errorf("%s is not positive", value))
		return defaultValue
	}
	return d
}
