// Package config loads the gateway's runtime configuration from
// environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the scalar tunables every component in the data plane reads
// at startup. Structured resource/capability/federation-peer profiles are
// loaded separately via LoadResourceProfile/LoadFederationProfile.
type Config struct {
	SessionTimeout        time.Duration
	RememberMeMultiplier  int
	RateLimitRPS          float64
	CircuitFailureThresh  int
	CircuitRecovery       time.Duration
	RetryMaxAttempts      int
	StdioMaxMemoryMB      int
	StdioMaxFDs           int
	StdioHeartbeat        time.Duration
	StdioHungTimeout      time.Duration
	StdioMaxRestarts      int
	SIEMBatchSize         int
	SIEMBatchTimeout      time.Duration
	SIEMQueueMax          int
	SIEMRetryAttempts     int
	SIEMFallbackDir       string
	FederationPeerTimeout time.Duration
	FederationHealthTO    time.Duration
	ConfigPath            string
}

// Load reads Config from the process environment, falling back to
// documented defaults for every var it doesn't find set.
func Load() *Config {
	return &Config{
		SessionTimeout:        getDuration("SESSION_TIMEOUT_SECONDS", 86400*time.Second),
		RememberMeMultiplier:  getInt("REMEMBER_ME_MULTIPLIER", 30),
		RateLimitRPS:          getFloat("RATE_LIMIT_RPS", 10),
		CircuitFailureThresh:  getInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitRecovery:       getDuration("CIRCUIT_RECOVERY_SECONDS", 60*time.Second),
		RetryMaxAttempts:      getInt("RETRY_MAX_ATTEMPTS", 3),
		StdioMaxMemoryMB:      getInt("STDIO_MAX_MEMORY_MB", 1024),
		StdioMaxFDs:           getInt("STDIO_MAX_FDS", 1000),
		StdioHeartbeat:        getDuration("STDIO_HEARTBEAT_S", 10*time.Second),
		StdioHungTimeout:      getDuration("STDIO_HUNG_S", 15*time.Second),
		StdioMaxRestarts:      getInt("STDIO_MAX_RESTARTS", 3),
		SIEMBatchSize:         getInt("SIEM_BATCH_SIZE", 100),
		SIEMBatchTimeout:      getDuration("SIEM_BATCH_TIMEOUT_S", 3*time.Second),
		SIEMQueueMax:          getInt("SIEM_QUEUE_MAX", 10000),
		SIEMRetryAttempts:     getInt("SIEM_RETRY", 3),
		SIEMFallbackDir:       getString("SIEM_FALLBACK_DIR", "./siem-fallback"),
		FederationPeerTimeout: getDuration("FEDERATION_PEER_TIMEOUT_S", 30*time.Second),
		FederationHealthTO:    getDuration("FEDERATION_HEALTH_TIMEOUT_S", 5*time.Second),
		ConfigPath:            getString("GOVERN_CONFIG_PATH", ""),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}
