package runner

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Mode selects how load is generated.
type Mode string

const (
	// ModeRPS is open-loop: requests are scheduled at a target rate.
	ModeRPS Mode = "rps"
	// ModeUsers is closed-loop: a fixed pool of virtual users.
	ModeUsers Mode = "users"
)

var ErrInvalidConfig = errors.New("runner: invalid config")

type Config struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Label names every sample; defaults to "<METHOD> <path>".
	Label       string `json:"label,omitempty"`
	ThreadGroup string `json:"thread_group"`

	TargetRPS  int `json:"target_rps"`
	SteadyDur  int `json:"steady_sec"`
	RampUp     int `json:"ramp_up_sec"`
	RampDown   int `json:"ramp_down_sec"`
	TimeoutSec int `json:"timeout_sec"`

	Mode      Mode          `json:"mode"`
	NumUsers  int           `json:"users"`
	ThinkTime time.Duration `json:"think_time"`

	// A batch is handed off when it reaches BatchSize samples or every
	// FlushInterval, whichever comes first.
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`

	// MaxBody caps how much of each response body is kept.
	MaxBody int64 `json:"max_body"`
}

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultMaxBody       = 1 << 20
	DefaultThreadGroup   = "Thread Group"
)

func (c *Config) applyDefaults() {
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Mode == "" {
		c.Mode = ModeRPS
	}
	if c.ThreadGroup == "" {
		c.ThreadGroup = DefaultThreadGroup
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxBody <= 0 {
		c.MaxBody = DefaultMaxBody
	}
	if c.TimeoutSec <= 0 {
		c.TimeoutSec = 10
	}
}

// Validate checks the load shape after defaults are applied.
func (c *Config) Validate() error {
	c.applyDefaults()
	switch {
	case c.URL == "":
		return errors.Wrap(ErrInvalidConfig, "url is required")
	case c.Mode != ModeRPS && c.Mode != ModeUsers:
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %q", c.Mode)
	case c.Mode == ModeRPS && c.TargetRPS <= 0:
		return errors.Wrap(ErrInvalidConfig, "rps mode needs a positive target rps")
	case c.Mode == ModeUsers && c.NumUsers <= 0:
		return errors.Wrap(ErrInvalidConfig, "users mode needs at least one user")
	case c.TotalDuration() <= 0:
		return errors.Wrap(ErrInvalidConfig, "test duration must be positive")
	}
	return nil
}

// TotalDuration is ramp up plus steady state plus ramp down.
func (c Config) TotalDuration() time.Duration {
	return time.Duration(c.RampUp+c.SteadyDur+c.RampDown) * time.Second
}
