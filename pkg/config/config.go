package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halo-iot/halo-go/pkg/backoff"
	"github.com/halo-iot/halo-go/pkg/credential"
)

// Config is the parsed device configuration.
type Config struct {
	// DeviceID is the device's registry identity.
	DeviceID string `yaml:"device_id"`

	// HubHost is the hub hostname the device connects to.
	HubHost string `yaml:"hub_host"`

	// Credentials is the ordered rotation list. The first entry is
	// tried first; later entries are fallbacks for key rollover.
	Credentials []CredentialConfig `yaml:"credentials"`

	// Retry tunes the backoff policy. Zero values take the defaults.
	Retry RetryConfig `yaml:"retry"`

	// TelemetryInterval is how often the device sends telemetry.
	TelemetryInterval Duration `yaml:"telemetry_interval"`

	// StateFile is where runtime state is persisted. Empty disables
	// persistence.
	StateFile string `yaml:"state_file"`

	// EventLog is where the CBOR event log is written. Empty disables
	// file logging.
	EventLog string `yaml:"event_log"`
}

// CredentialConfig is one credential in the rotation list.
type CredentialConfig struct {
	// Label names the credential for logs ("primary", "secondary").
	Label string `yaml:"label"`

	// Key is the base64-encoded shared access key.
	Key string `yaml:"key"`
}

// Duration is a time.Duration that unmarshals from YAML duration
// strings like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RetryConfig tunes the backoff policy.
type RetryConfig struct {
	// MaxRetries caps retry attempts per operation. Zero means
	// effectively unbounded.
	MaxRetries int `yaml:"max_retries"`

	// ExponentClamp caps the backoff exponent. Zero takes the default.
	ExponentClamp int `yaml:"exponent_clamp"`
}

// LoadError describes a configuration loading failure.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.File != "" {
		if e.Cause != nil {
			return fmt.Sprintf("config %s: %s: %v", e.File, e.Message, e.Cause)
		}
		return fmt.Sprintf("config %s: %s", e.File, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("config: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Parse parses a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	// Validate required fields
	if cfg.DeviceID == "" {
		return nil, &LoadError{
			Message: "device_id is required",
		}
	}

	if cfg.HubHost == "" {
		return nil, &LoadError{
			Message: "hub_host is required",
		}
	}

	if len(cfg.Credentials) == 0 {
		return nil, &LoadError{
			Message: "at least one credential is required",
		}
	}
	for i, c := range cfg.Credentials {
		if c.Key == "" {
			return nil, &LoadError{
				Message: fmt.Sprintf("credential %d has no key", i),
			}
		}
	}

	if cfg.TelemetryInterval == 0 {
		cfg.TelemetryInterval = Duration(30 * time.Second)
	}

	return &cfg, nil
}

// Load loads a configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	return cfg, nil
}

// CredentialSet builds the rotation set from the configured credentials.
func (c *Config) CredentialSet() (*credential.Set, error) {
	creds := make([]credential.Credential, 0, len(c.Credentials))
	for i, cc := range c.Credentials {
		label := cc.Label
		if label == "" {
			label = fmt.Sprintf("credential-%d", i)
		}
		creds = append(creds, credential.Credential{
			DeviceID: c.DeviceID,
			HubHost:  c.HubHost,
			Key:      cc.Key,
			Label:    label,
		})
	}
	return credential.NewSet(creds...)
}

// BackoffPolicy builds the retry policy from the configured tuning.
func (c *Config) BackoffPolicy() *backoff.Policy {
	pc := backoff.Config{}
	if c.Retry.MaxRetries > 0 {
		pc.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.ExponentClamp > 0 {
		pc.ExponentClamp = c.Retry.ExponentClamp
	}
	return backoff.NewPolicyWithConfig(pc)
}
