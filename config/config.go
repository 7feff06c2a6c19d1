/*
Package config loads server configuration.

PURPOSE:
  Values are layered, each layer overriding the previous one:

    1. Defaults()
    2. .env in the working directory (exported into the environment)
    3. the TOML file, when present
    4. SCHED_* environment variables, e.g. SCHED_HTTP_ADDR,
       SCHED_DATABASE_PATH, SCHED_AMQP_URL

EXAMPLE:
  [http]
  addr = ":8080"
  cors_origins = ["http://localhost:3000"]

  [database]
  driver = "sqlite"
  path = "schedule.db"

  [schedule]
  horizon_days = 365
  shift_start = "09:00"
  shift_end = "17:00"
  workdays = ["mon", "tue", "wed", "thu", "fri"]
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/warp/schedule-engine/generic"
	"github.com/warp/schedule-engine/schedule"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCHED"

type Config struct {
	HTTP     HTTP     `toml:"http"`
	Database Database `toml:"database"`
	Schedule Schedule `toml:"schedule"`
	Auth     Auth     `toml:"auth"`
	AMQP     AMQP     `toml:"amqp"`
	Metrics  Metrics  `toml:"metrics"`
	Log      Log      `toml:"log"`
}

type HTTP struct {
	Addr            string   `toml:"addr"`
	CORSOrigins     []string `toml:"cors_origins" split_words:"true"`
	ReadTimeout     Duration `toml:"read_timeout" split_words:"true"`
	WriteTimeout    Duration `toml:"write_timeout" split_words:"true"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" split_words:"true"`
}

type Database struct {
	Driver string `toml:"driver"` // memory | sqlite
	Path   string `toml:"path"`
}

type Schedule struct {
	HorizonDays     int               `toml:"horizon_days" split_words:"true"`
	ShiftStart      generic.ClockTime `toml:"shift_start" split_words:"true"`
	ShiftEnd        generic.ClockTime `toml:"shift_end" split_words:"true"`
	Workdays        []string          `toml:"workdays"`
	DefaultLocation string            `toml:"default_location" split_words:"true"`
	SeedCatalogs    bool              `toml:"seed_catalogs" split_words:"true"`
}

type Auth struct {
	JWTSecret string   `toml:"jwt_secret" split_words:"true"`
	Issuer    string   `toml:"issuer"`
	TokenTTL  Duration `toml:"token_ttl" split_words:"true"`

	// AllowHeaderActor trusts X-Actor-* headers when no bearer token is sent.
	// Development only.
	AllowHeaderActor bool `toml:"allow_header_actor" split_words:"true"`
}

type AMQP struct {
	Enabled   bool   `toml:"enabled"`
	URL       string `toml:"url"`
	Exchange  string `toml:"exchange"`
	SyncQueue string `toml:"sync_queue" split_words:"true"`
}

type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Path      string `toml:"path"`
	Namespace string `toml:"namespace"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | text
}

// Duration reads "30s"-style strings from TOML and the environment.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func Defaults() *Config {
	return &Config{
		HTTP: HTTP{
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: Database{Driver: "sqlite", Path: "schedule.db"},
		Schedule: Schedule{
			HorizonDays:  generic.DefaultHorizonDays,
			ShiftStart:   generic.NewClockTime(9, 0),
			ShiftEnd:     generic.NewClockTime(17, 0),
			Workdays:     []string{"mon", "tue", "wed", "thu", "fri"},
			SeedCatalogs: true,
		},
		Auth:    Auth{Issuer: "schedule-engine", TokenTTL: Duration{12 * time.Hour}},
		AMQP:    AMQP{Exchange: "schedule.events", SyncQueue: "schedule.sync"},
		Metrics: Metrics{Enabled: true, Path: "/metrics", Namespace: "schedule"},
		Log:     Log{Level: "info", Format: "json"},
	}
}

// Load layers defaults, .env, the TOML file at path and SCHED_* variables.
// A missing .env or TOML file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want memory or sqlite", c.Database.Driver))
	}
	if c.Schedule.HorizonDays <= 0 {
		errs = append(errs, errors.New("schedule.horizon_days must be positive"))
	}
	if c.Schedule.ShiftEnd <= c.Schedule.ShiftStart {
		errs = append(errs, errors.New("schedule.shift_end must be after shift_start"))
	}
	if _, err := c.Schedule.WorkWeek(); err != nil {
		errs = append(errs, err)
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		errs = append(errs, errors.New("amqp.url is required when amqp is enabled"))
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowHeaderActor {
		errs = append(errs, errors.New("auth.jwt_secret is required unless allow_header_actor is set"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	return errors.Join(errs...)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// WorkWeek is the default shift applied to staff without their own schedule.
func (s Schedule) WorkWeek() (schedule.WeeklySchedule, error) {
	days := make([]time.Weekday, 0, len(s.Workdays))
	for _, name := range s.Workdays {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return schedule.WeeklySchedule{}, fmt.Errorf("schedule.workdays: unknown day %q", name)
		}
		days = append(days, wd)
	}
	return schedule.StandardWeek(s.ShiftStart, s.ShiftEnd, days...), nil
}
