// Package config loads service and batch settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/JonPisek/PyBEP/internal/decomposition"
	apperrors "github.com/JonPisek/PyBEP/internal/errors"
	"github.com/JonPisek/PyBEP/internal/logging"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Jobs struct {
		Retention   time.Duration `env:"JOB_RETENTION" envDefault:"1h"`
		MaxFinished int           `env:"JOB_MAX_FINISHED" envDefault:"100"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Data struct {
		CathodeDir  string `env:"DATA_CATHODE_DIR" envDefault:"data/cathode_data"`
		AnodeDir    string `env:"DATA_ANODE_DIR" envDefault:"data/anode_data"`
		BatteryFile string `env:"DATA_BATTERY_FILE" envDefault:"data/battery_data.txt"`
		ResultsDir  string `env:"DATA_RESULTS_DIR" envDefault:"results"`
	}
	Optimization struct {
		WorkerCount    int           `env:"OPT_WORKER_COUNT" envDefault:"0"`
		Iterations     int           `env:"OPT_ITERATIONS" envDefault:"1"`
		PopulationSize int           `env:"OPT_POPULATION" envDefault:"15"`
		MaxGenerations int           `env:"OPT_MAX_GENERATIONS" envDefault:"1000"`
		Tolerance      float64       `env:"OPT_TOLERANCE" envDefault:"0.01"`
		Seed           int64         `env:"OPT_SEED" envDefault:"0"`
		Polish         bool          `env:"OPT_POLISH" envDefault:"true"`
		Stretch        bool          `env:"OPT_STRETCH" envDefault:"false"`
		GridPoints     int           `env:"OPT_GRID_POINTS" envDefault:"1001"`
		PairTimeout    time.Duration `env:"OPT_PAIR_TIMEOUT" envDefault:"0s"`
	}
	Weights struct {
		Battery           float64 `env:"WEIGHT_BATTERY" envDefault:"1"`
		DerivativeInverse float64 `env:"WEIGHT_DERIVATIVE_INVERSE" envDefault:"0"`
		Anode             float64 `env:"WEIGHT_ANODE" envDefault:"0"`
		Cathode           float64 `env:"WEIGHT_CATHODE" envDefault:"0"`
	}
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads the configuration from vars instead of the process
// environment. Unset keys take their defaults.
func LoadFrom(vars map[string]string) (*Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, apperrors.Wrap(err, "parse environment").
			WithKind(apperrors.KindInvalidInput).
			WithComponent("config")
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no search can run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return apperrors.Errorf(format, args...).
			WithKind(apperrors.KindInvalidInput).
			WithOperation("validate").
			WithComponent("config")
	}

	switch {
	case c.HTTP.Port < 0 || c.HTTP.Port > 65535:
		return invalid("HTTP_PORT %d out of range", c.HTTP.Port)
	case c.Jobs.Retention < 0:
		return invalid("JOB_RETENTION must not be negative, got %s", c.Jobs.Retention)
	case c.Jobs.MaxFinished < 0:
		return invalid("JOB_MAX_FINISHED must not be negative, got %d", c.Jobs.MaxFinished)
	case c.Optimization.Iterations < 1:
		return invalid("OPT_ITERATIONS must be positive, got %d", c.Optimization.Iterations)
	case c.Optimization.WorkerCount < 0:
		return invalid("OPT_WORKER_COUNT must not be negative, got %d", c.Optimization.WorkerCount)
	case c.Optimization.GridPoints < 4:
		return invalid("OPT_GRID_POINTS must be at least 4, got %d", c.Optimization.GridPoints)
	case c.Optimization.PopulationSize < 1 || c.Optimization.MaxGenerations < 1:
		return invalid("OPT_POPULATION and OPT_MAX_GENERATIONS must be positive")
	case c.Optimization.Tolerance < 0:
		return invalid("OPT_TOLERANCE must not be negative, got %v", c.Optimization.Tolerance)
	case c.Optimization.PairTimeout < 0:
		return invalid("OPT_PAIR_TIMEOUT must not be negative, got %s", c.Optimization.PairTimeout)
	}

	if err := c.SearchWeights().Validate(); err != nil {
		return apperrors.Wrap(err, "WEIGHT_*").WithOperation("validate").WithComponent("config")
	}
	return nil
}

// SearchWeights returns the objective weights.
func (c *Config) SearchWeights() decomposition.Weights {
	return decomposition.Weights{
		Battery:           c.Weights.Battery,
		DerivativeInverse: c.Weights.DerivativeInverse,
		Anode:             c.Weights.Anode,
		Cathode:           c.Weights.Cathode,
	}
}

// SearchOptions maps the optimization settings onto search options. Logger,
// metrics and progress are left for the caller.
func (c *Config) SearchOptions() decomposition.Options {
	opts := decomposition.DefaultOptions()
	opts.Iterations = c.Optimization.Iterations
	opts.Workers = c.Optimization.WorkerCount
	opts.Weights = c.SearchWeights()
	opts.Stretch = c.Optimization.Stretch
	opts.GridPoints = c.Optimization.GridPoints
	opts.PopulationSize = c.Optimization.PopulationSize
	opts.MaxGenerations = c.Optimization.MaxGenerations
	opts.Tolerance = c.Optimization.Tolerance
	opts.Polish = c.Optimization.Polish
	opts.Seed = c.Optimization.Seed
	opts.PairTimeout = c.Optimization.PairTimeout
	return opts
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
