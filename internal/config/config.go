package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBFile          string
	ListenAddr      string
	Rooms           []string
	ReservedWords   []string
	RoomCapacity    int
	MaxConnsPerIP   int
	MessageInterval time.Duration
	NameCheckLimit  int
	SweepInterval   time.Duration
	SweepMaxAge     time.Duration
}

func Load() (*Config, error) {
	messageInterval, err := time.ParseDuration(getEnv("MESSAGE_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("MESSAGE_INTERVAL: %w", err)
	}

	sweepInterval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("SWEEP_INTERVAL: %w", err)
	}

	sweepMaxAge, err := time.ParseDuration(getEnv("SWEEP_MAX_AGE", "24h"))
	if err != nil {
		return nil, fmt.Errorf("SWEEP_MAX_AGE: %w", err)
	}

	roomCapacity, err := getEnvInt("ROOM_CAPACITY", 50)
	if err != nil {
		return nil, err
	}

	maxConns, err := getEnvInt("MAX_CONNS_PER_IP", 5)
	if err != nil {
		return nil, err
	}

	nameCheckLimit, err := getEnvInt("NAME_CHECK_LIMIT", 20)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:          getEnv("PARLEY_DB", "parley.db"),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		Rooms:           parseList(getEnv("ROOMS", "general,random,tech,games,music,help")),
		ReservedWords:   parseList(getEnv("RESERVED_WORDS", "")),
		RoomCapacity:    roomCapacity,
		MaxConnsPerIP:   maxConns,
		MessageInterval: messageInterval,
		NameCheckLimit:  nameCheckLimit,
		SweepInterval:   sweepInterval,
		SweepMaxAge:     sweepMaxAge,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("ROOMS must name at least one room")
	}

	seen := make(map[string]bool, len(c.Rooms))
	for _, room := range c.Rooms {
		if seen[room] {
			return fmt.Errorf("duplicate room %q in ROOMS", room)
		}
		seen[room] = true
	}

	if c.RoomCapacity < 1 {
		return fmt.Errorf("ROOM_CAPACITY must be at least 1")
	}

	if c.MaxConnsPerIP < 1 {
		return fmt.Errorf("MAX_CONNS_PER_IP must be at least 1")
	}

	if c.MessageInterval <= 0 {
		return fmt.Errorf("MESSAGE_INTERVAL must be greater than 0")
	}

	if c.NameCheckLimit < 1 {
		return fmt.Errorf("NAME_CHECK_LIMIT must be at least 1")
	}

	if c.SweepInterval <= 0 || c.SweepMaxAge <= 0 {
		return fmt.Errorf("sweep interval and max age must be greater than 0")
	}

	return nil
}

// parseList normalizes a comma-separated value: trimmed, lowercased, empty
// entries dropped.
func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		item := strings.ToLower(strings.TrimSpace(part))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
