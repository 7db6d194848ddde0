package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Backend names understood by the transport factory.
const (
	BackendAWS    = "aws"
	BackendMemory = "memory"
)

// Defaults applied by WithDefaults. The visibility timeout is the only
// redelivery throttle, so it is always set explicitly rather than left to
// whatever the backend would pick.
const (
	DefaultVisibilityTimeoutSeconds = 30
	DefaultRetentionSeconds         = 300
	DefaultWaitTimeSeconds          = 20
	DefaultDelaySeconds             = 0
	DefaultReceiveBackoffInitial    = 500 * time.Millisecond
	DefaultReceiveBackoffMax        = 30 * time.Second
)

// SQS limits.
const (
	MaxVisibilityTimeoutSeconds = 12 * 60 * 60
	MinRetentionSeconds         = 60
	MaxRetentionSeconds         = 14 * 24 * 60 * 60
	MaxWaitTimeSeconds          = 20
	MaxDelaySeconds             = 15 * 60
)

// Config groups the settings required to provision the topic/queue pair and
// run consumers against it.
type Config struct {
	// Backend selects the messaging backend: "aws" (SNS/SQS) or "memory".
	Backend string `envconfig:"BACKEND" default:"aws"`

	// AWS (SNS/SQS) configuration.
	AWSRegion          string `envconfig:"AWS_REGION"`
	AWSAccountID       string `envconfig:"AWS_ACCOUNT_ID"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	// AWSEndpoint optionally points to a custom endpoint (for example, LocalStack
	// in local development).
	AWSEndpoint string `envconfig:"AWS_ENDPOINT"`

	TopicName string `envconfig:"TOPIC_NAME"`
	QueueName string `envconfig:"QUEUE_NAME"`

	// Queue attributes, in seconds.
	VisibilityTimeoutSeconds int `envconfig:"VISIBILITY_TIMEOUT_SECONDS" default:"30"`
	RetentionSeconds         int `envconfig:"RETENTION_SECONDS" default:"300"`
	DelaySeconds             int `envconfig:"DELAY_SECONDS" default:"0"`

	// WaitTimeSeconds bounds each long-poll receive call.
	WaitTimeSeconds int `envconfig:"WAIT_TIME_SECONDS" default:"20"`

	// Backoff applied between failed receive calls. Zero values fall back to
	// the defaults above.
	ReceiveBackoffInitial time.Duration `envconfig:"RECEIVE_BACKOFF_INITIAL"`
	ReceiveBackoffMax     time.Duration `envconfig:"RECEIVE_BACKOFF_MAX"`

	// Metrics configuration.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED"`
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int `envconfig:"METRICS_PORT"`

	// Admin API listing resources and consumer state.
	AdminEnabled            bool     `envconfig:"ADMIN_ENABLED"`
	AdminPort               int      `envconfig:"ADMIN_PORT"`
	AdminCORSAllowedOrigins []string `envconfig:"ADMIN_CORS_ALLOWED_ORIGINS"`
}

// Load reads the configuration from environment variables carrying the given
// prefix (for example SNSBRIDGE_TOPIC_NAME) and applies defaults.
func Load(prefix string) (*Config, error) {
	var c Config
	if err := envconfig.Process(prefix, &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// WithDefaults returns a copy of the config with zero-valued tuning fields
// replaced by their defaults. VisibilityTimeoutSeconds and DelaySeconds are
// never rewritten: zero is a meaningful value for both. Load sets the
// visibility timeout to DefaultVisibilityTimeoutSeconds unless the
// environment overrides it.
func (c Config) WithDefaults() Config {
	copy := c
	copy.applyDefaults()
	return copy
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendAWS
	}
	if c.RetentionSeconds == 0 {
		c.RetentionSeconds = DefaultRetentionSeconds
	}
	if c.WaitTimeSeconds == 0 {
		c.WaitTimeSeconds = DefaultWaitTimeSeconds
	}
	if c.ReceiveBackoffInitial <= 0 {
		c.ReceiveBackoffInitial = DefaultReceiveBackoffInitial
	}
	if c.ReceiveBackoffMax <= 0 {
		c.ReceiveBackoffMax = DefaultReceiveBackoffMax
	}
}

func (c Config) String() string {
	copy := c
	if copy.AWSSecretAccessKey != "" {
		copy.AWSSecretAccessKey = "***REDACTED***"
	}
	if copy.AWSAccessKeyID != "" {
		copy.AWSAccessKeyID = "***REDACTED***"
	}
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// Validate checks that the configuration has all required fields for the
// selected backend and that queue attributes are within SQS limits.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateBackend()...)
	errs = append(errs, c.validateQueueAttributes()...)
	errs = append(errs, c.validateBackoff()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateBackend() []error {
	switch strings.ToLower(c.Backend) {
	case BackendAWS:
		if c.AWSRegion == "" {
			return []error{errors.New("aws: region is required")}
		}
	case BackendMemory, "":
	default:
		return []error{fmt.Errorf("backend: unsupported value %q", c.Backend)}
	}
	return nil
}

func (c *Config) validateQueueAttributes() []error {
	var errs []error
	if c.VisibilityTimeoutSeconds < 0 || c.VisibilityTimeoutSeconds > MaxVisibilityTimeoutSeconds {
		errs = append(errs, fmt.Errorf("queue: visibility timeout %ds out of range [0, %d]", c.VisibilityTimeoutSeconds, MaxVisibilityTimeoutSeconds))
	}
	if c.RetentionSeconds != 0 && (c.RetentionSeconds < MinRetentionSeconds || c.RetentionSeconds > MaxRetentionSeconds) {
		errs = append(errs, fmt.Errorf("queue: retention %ds out of range [%d, %d]", c.RetentionSeconds, MinRetentionSeconds, MaxRetentionSeconds))
	}
	if c.DelaySeconds < 0 || c.DelaySeconds > MaxDelaySeconds {
		errs = append(errs, fmt.Errorf("queue: delay %ds out of range [0, %d]", c.DelaySeconds, MaxDelaySeconds))
	}
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > MaxWaitTimeSeconds {
		errs = append(errs, fmt.Errorf("receive: wait time %ds out of range [0, %d]", c.WaitTimeSeconds, MaxWaitTimeSeconds))
	}
	return errs
}

func (c *Config) validateBackoff() []error {
	var errs []error
	if c.ReceiveBackoffInitial < 0 {
		errs = append(errs, errors.New("backoff: initial interval cannot be negative"))
	}
	if c.ReceiveBackoffMax < 0 {
		errs = append(errs, errors.New("backoff: max interval cannot be negative"))
	}
	if c.ReceiveBackoffMax > 0 && c.ReceiveBackoffInitial > c.ReceiveBackoffMax {
		errs = append(errs, errors.New("backoff: initial interval cannot exceed max interval"))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("admin: invalid port %d", c.AdminPort))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
