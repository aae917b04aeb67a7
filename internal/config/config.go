package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"qms/token-service/internal/hours"
)

type Config struct {
	Port        string
	DatabaseURL string

	Counters   []string
	DailyLimit int

	// Location is the facility's timezone. The working hour bounds
	// below are wall-clock times in this location.
	Location *time.Location

	OpenFrom   hours.TimeOfDay
	OpenUntil  hours.TimeOfDay
	BreakFrom  hours.TimeOfDay
	BreakUntil hours.TimeOfDay

	StatsSampleSize       int
	DefaultServiceMinutes float64
	TrendThreshold        time.Duration

	SequenceRetryAttempts int
	SequenceRetryBackoff  time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		Counters:              readList("COUNTERS", []string{"A", "B"}),
		DailyLimit:            readInt("DAILY_LIMIT", 50),
		Location:              readLocation("TIMEZONE", time.UTC),
		OpenFrom:              readTime("OPEN_FROM", hours.TimeOfDay{Hour: 9, Minute: 20}),
		OpenUntil:             readTime("OPEN_UNTIL", hours.TimeOfDay{Hour: 16, Minute: 30}),
		BreakFrom:             readTime("BREAK_FROM", hours.TimeOfDay{Hour: 14, Minute: 0}),
		BreakUntil:            readTime("BREAK_UNTIL", hours.TimeOfDay{Hour: 14, Minute: 45}),
		StatsSampleSize:       readInt("STATS_SAMPLE_SIZE", 10),
		DefaultServiceMinutes: readFloat("DEFAULT_SERVICE_MINUTES", 5.0),
		TrendThreshold:        readDurationSeconds("TREND_THRESHOLD_SECONDS", 30),
		SequenceRetryAttempts: readInt("SEQUENCE_RETRY_ATTEMPTS", 3),
		SequenceRetryBackoff:  readDurationMillis("SEQUENCE_RETRY_BACKOFF_MS", 20),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
	}
}

// HoursPolicy assembles the working-hours window from the loaded
// bounds.
func (c Config) HoursPolicy() hours.Policy {
	return hours.Policy{
		OpenFrom:   c.OpenFrom,
		OpenUntil:  c.OpenUntil,
		BreakFrom:  c.BreakFrom,
		BreakUntil: c.BreakUntil,
	}
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

// readLocation parses an IANA timezone name, e.g. "Asia/Jakarta".
func readLocation(key string, fallback *time.Location) *time.Location {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		log.Printf("invalid %s value %q, using %s: %v", key, raw, fallback, err)
		return fallback
	}
	return loc
}

// readTime parses "HH:MM".
func readTime(key string, fallback hours.TimeOfDay) hours.TimeOfDay {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return fallback
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return fallback
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minute < 0 || minute > 59 {
		return fallback
	}
	return hours.TimeOfDay{Hour: hour, Minute: minute}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
