package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig             RedisStorageConfig
	HttpPort                int
	StorageType             StorageType
	LockTTLMillis           int
	LockRetryCount          int
	LockRetryDelayMillis    int
	WebhookTimeoutMillis    int
	WebhookMaxRetries       int
	WebhookRetryDelayMillis int
	WebhookPollIntervalSecs int
	IdempotencyTTLHours     int
	IdempotencyCleanupSecs  int
	LogLevel                string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
