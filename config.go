package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the server's runtime tunables. All fields have sane
// defaults; every one can be overridden by an environment variable, and
// every environment variable can in turn be overridden by its matching
// flag, mirroring the precedence alejzeis-vic2-multi-proxy's main.go uses
// for SERVER_CONFIG.
type Config struct {
	Addr             string
	TokenIdleTTL     time.Duration
	RoomReconnectTTL time.Duration
	RoomHardCap      time.Duration
	PresenceCoalesce time.Duration
	RelayRateLimit   int64
	LogLevel         string
}

func defaultConfig() Config {
	return Config{
		Addr:             ":8080",
		TokenIdleTTL:     5 * time.Minute,
		RoomReconnectTTL: 2 * time.Minute,
		RoomHardCap:      10 * time.Minute,
		PresenceCoalesce: 1 * time.Second,
		RelayRateLimit:   256 * 1024, // signaling payloads are tiny JSON; generous headroom
		LogLevel:         "info",
	}
}

// LoadConfig parses flags, falling back to environment variables, falling
// back to the defaults above.
func LoadConfig() Config {
	cfg := defaultConfig()

	addr := flag.String("addr", envOr("ADDR", cfg.Addr), "HTTP listen address")
	tokenTTL := flag.Duration("token-idle-ttl", envDurationOr("TOKEN_IDLE_TTL", cfg.TokenIdleTTL), "token reaper delay after full detach")
	roomTTL := flag.Duration("room-reconnect-ttl", envDurationOr("ROOM_RECONNECT_TTL", cfg.RoomReconnectTTL), "room reaper delay after both members absent")
	hardCap := flag.Duration("room-hard-cap", envDurationOr("ROOM_HARD_CAP", cfg.RoomHardCap), "forced room deletion regardless of member state")
	coalesce := flag.Duration("presence-coalesce", envDurationOr("PRESENCE_COALESCE", cfg.PresenceCoalesce), "minimum interval between user_count broadcasts")
	rateLimit := flag.Int64("relay-rate-limit", envInt64Or("RELAY_RATE_LIMIT", cfg.RelayRateLimit), "relay rate limit in bytes/sec of signaling payload")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", cfg.LogLevel), "structured logger level")
	flag.Parse()

	return Config{
		Addr:             *addr,
		TokenIdleTTL:     *tokenTTL,
		RoomReconnectTTL: *roomTTL,
		RoomHardCap:      *hardCap,
		PresenceCoalesce: *coalesce,
		RelayRateLimit:   *rateLimit,
		LogLevel:         *logLevel,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
