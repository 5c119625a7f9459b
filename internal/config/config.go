package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	ScheduleFile string `validate:"required_without=DatabaseURL"`
	City         string

	NATSURL         string `validate:"omitempty,url"`
	PlanSubject     string `validate:"required"`
	RefreshSubject  string `validate:"required"`
	EventsSubject   string
	QueueGroup      string
	LogNATSSubjects bool

	WalkSpeed         float64       `validate:"gt=0,lte=10"`
	SearchTimeout     time.Duration `validate:"gte=0"`
	RefreshTimeout    time.Duration `validate:"gt=0"`
	RefreshMaxRetries int           `validate:"gte=0,lte=20"`
	DBWatchInterval   time.Duration `validate:"gte=0"`

	MetricsAddr  string
	OTLPEndpoint string
	LogLevel     string

	ProfilingEnabled  bool
	PyroscopeServer   string `validate:"omitempty,url"`
	PyroscopeApp      string
	PyroscopeUser     string
	PyroscopePassword string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.ScheduleFile = strings.TrimSpace(os.Getenv("SCHEDULE_FILE"))
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))

	// Database URL (cluster DSN): prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// A schedule file replaces the database entirely.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && cfg.ScheduleFile == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
		if db == "" && cfg.City != "" {
			db = "postgres"
		}
		if db != "" {
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	if cfg.ScheduleFile == "" {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.PlanSubject = getenvDefault("NATS_PLAN_SUBJECT", "planner.plan")
	cfg.RefreshSubject = getenvDefault("NATS_REFRESH_SUBJECT", "planner.snapshot.refresh")
	cfg.EventsSubject = getenvDefault("NATS_EVENTS_SUBJECT", "planner.snapshot.events")
	cfg.QueueGroup = getenvDefault("NATS_QUEUE_GROUP", "planner")
	cfg.LogNATSSubjects = isTrue(os.Getenv("LOG_NATS_SUBJECTS"))

	var err error
	if v := os.Getenv("WALK_SPEED_MPS"); v != "" {
		cfg.WalkSpeed, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid WALK_SPEED_MPS: %q", v)
		}
	} else {
		cfg.WalkSpeed = 1.2
	}

	ms, err := envInt("SEARCH_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	cfg.SearchTimeout = time.Duration(ms) * time.Millisecond

	sec, err := envInt("REFRESH_TIMEOUT_SEC", 120)
	if err != nil {
		return nil, err
	}
	cfg.RefreshTimeout = time.Duration(sec) * time.Second

	if cfg.RefreshMaxRetries, err = envInt("REFRESH_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	sec, err = envInt("DB_WATCH_INTERVAL_SEC", 1800)
	if err != nil {
		return nil, err
	}
	cfg.DBWatchInterval = time.Duration(sec) * time.Second

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.ProfilingEnabled = isTrue(os.Getenv("PYROSCOPE_PROFILING_ENABLED"))
	cfg.PyroscopeServer = getenvDefault("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040")
	cfg.PyroscopeApp = getenvDefault("PYROSCOPE_APPLICATION_NAME", "transit-planner")
	cfg.PyroscopeUser = os.Getenv("PYROSCOPE_BASIC_AUTH_USER")
	cfg.PyroscopePassword = os.Getenv("PYROSCOPE_BASIC_AUTH_PASSWORD")

	if err := validator.New().Struct(cfg); err != nil {
		if cfg.ScheduleFile == "" && cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("SCHEDULE_FILE, PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY): %w", err)
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// UsesDatabase reports whether the schedule comes from Postgres.
func (c *Config) UsesDatabase() bool { return c.ScheduleFile == "" }

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
