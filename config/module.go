package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sqlmodule/sqlmodule/logging"
	"github.com/sqlmodule/sqlmodule/redis"
)

// ModuleConfig is sqlmoduled's top-level configuration: the Redis connection it serves commands over,
// logging, and the module-specific tunables spec.md leaves as implementation choices (default command
// deadline, queue capacity, stream yield batch size, and where on-disk databases are stored).
type ModuleConfig struct {
	Redis            redis.Config   `yaml:"redis"`
	Logging          logging.Config `yaml:"logging"`
	DefaultDeadline  time.Duration  `yaml:"default_deadline" env:"DEFAULT_DEADLINE" default:"10s"`
	QueueCapacity    int            `yaml:"queue_capacity" env:"QUEUE_CAPACITY" default:"256"`
	StreamYieldEvery int            `yaml:"stream_yield_every" env:"STREAM_YIELD_EVERY" default:"256"`
	DataDir          string         `yaml:"data_dir" env:"DATA_DIR" default:"./data"`
}

// Validate checks constraints on ModuleConfig and its nested sections, in the same style as the
// teacher's database.Options.Validate.
func (c *ModuleConfig) Validate() error {
	if err := c.Redis.Validate(); err != nil {
		return errors.Wrap(err, "invalid redis configuration")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "invalid logging configuration")
	}
	if c.DefaultDeadline <= 0 {
		return errors.New("default_deadline must be positive")
	}
	if c.QueueCapacity < 1 {
		return errors.New("queue_capacity must be at least 1")
	}
	if c.StreamYieldEvery < 1 {
		return errors.New("stream_yield_every must be at least 1")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}

	return nil
}
