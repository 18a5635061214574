package database

// SQL schemas for all ClickHouse tables

const (
	// HeartRateSamplesTableSQL creates the heart_rate_samples table
	HeartRateSamplesTableSQL = `
		CREATE TABLE IF NOT EXISTS heart_rate_samples (
			timestamp DateTime64(3),
			device_name String,
			heart_rate Float64,
			source LowCardinality(String)
		) ENGINE = MergeTree()
		ORDER BY (device_name, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// RecordingSessionsTableSQL creates the recording_sessions table
	RecordingSessionsTableSQL = `
		CREATE TABLE IF NOT EXISTS recording_sessions (
			session_id String,
			device_name String,
			started_at DateTime64(3),
			stopped_at DateTime64(3),
			chunk_count UInt32,
			total_bytes UInt64,
			mime_type String,
			video_file String,
			data_file String,
			hr_count UInt32,
			hr_min Float64,
			hr_max Float64,
			hr_mean Float64
		) ENGINE = MergeTree()
		ORDER BY (started_at, session_id)
		PARTITION BY toYYYYMM(started_at)
	`

	// SyncedHeartRateTableSQL creates the synced_heart_rate table
	SyncedHeartRateTableSQL = `
		CREATE TABLE IF NOT EXISTS synced_heart_rate (
			session_id String,
			offset_ms Int64,
			heart_rate Float64
		) ENGINE = MergeTree()
		ORDER BY (session_id, offset_ms)
	`

	// DeviceRegistryTableSQL creates the device_registry table
	DeviceRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_registry (
			device_name String,
			source LowCardinality(String),
			first_seen DateTime64(3),
			last_seen DateTime64(3),
			last_value Float64
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY device_name
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		HeartRateSamplesTableSQL,
		RecordingSessionsTableSQL,
		SyncedHeartRateTableSQL,
		DeviceRegistryTableSQL,
	}
}
