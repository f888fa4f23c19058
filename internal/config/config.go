// Package config loads service configuration from a yaml file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mindhaven/crisisflow/internal/crisis"
)

// Config holds the full service configuration.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
	DB struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"db"`
	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`
	NATS struct {
		URL           string        `mapstructure:"url"`
		ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
		MaxReconnects int           `mapstructure:"max_reconnects"`
	} `mapstructure:"nats"`
	Influx struct {
		URL    string `mapstructure:"url"`
		Token  string `mapstructure:"token"`
		Org    string `mapstructure:"org"`
		Bucket string `mapstructure:"bucket"`
	} `mapstructure:"influx"`
	Profile struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"profile"`
	Orchestrator struct {
		MailboxSize int `mapstructure:"mailbox_size"`
	} `mapstructure:"orchestrator"`
	Scheduler SchedulerPolicy `mapstructure:"scheduler"`
	Policy    SeverityPolicy  `mapstructure:"policy"`
}

// SchedulerPolicy configures the periodic tick.
type SchedulerPolicy struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// SeverityPolicy configures time-driven escalation and checkpoint cadence.
// Missing sections are fatal at startup: running a crisis orchestrator
// without a severity policy is a configuration error, not a degraded mode.
type SeverityPolicy struct {
	StepTimeouts        map[string]time.Duration `mapstructure:"step_timeouts"`
	FirstSafetyCheck    time.Duration            `mapstructure:"first_safety_check"`
	SafetyCheckInterval time.Duration            `mapstructure:"safety_check_interval"`
	ProgressReviewAfter time.Duration            `mapstructure:"progress_review_after"`
	ReassessmentAfter   time.Duration            `mapstructure:"reassessment_after"`
	FirstContactWindow  time.Duration            `mapstructure:"first_contact_window"`
	StabilizeWindow     time.Duration            `mapstructure:"stabilize_window"`
	Roster              map[string]string        `mapstructure:"roster"`
}

// StepTimeoutsByType converts the string-keyed yaml map to step types.
func (p SeverityPolicy) StepTimeoutsByType() map[crisis.StepType]time.Duration {
	out := make(map[crisis.StepType]time.Duration, len(p.StepTimeouts))
	for k, v := range p.StepTimeouts {
		out[crisis.StepType(k)] = v
	}
	return out
}

// Load reads configuration from config.yaml (working directory or ./config)
// and the environment. CRISISFLOW_DB_URL overrides db.url, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("CRISISFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is acceptable; defaults plus env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("nats.reconnect_wait", time.Second)
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("profile.timeout", 5*time.Second)
	v.SetDefault("orchestrator.mailbox_size", 64)
	v.SetDefault("scheduler.tick_interval", 30*time.Second)
	v.SetDefault("scheduler.max_concurrency", 16)
	v.SetDefault("policy.first_safety_check", 15*time.Minute)
	v.SetDefault("policy.safety_check_interval", time.Hour)
	v.SetDefault("policy.progress_review_after", 2*time.Hour)
	v.SetDefault("policy.reassessment_after", 4*time.Hour)
	v.SetDefault("policy.first_contact_window", 5*time.Minute)
	v.SetDefault("policy.stabilize_window", 24*time.Hour)
	v.SetDefault("policy.step_timeouts", map[string]time.Duration{
		string(crisis.StepImmediateSafety):    15 * time.Minute,
		string(crisis.StepRiskAssessment):     30 * time.Minute,
		string(crisis.StepStabilization):      time.Hour,
		string(crisis.StepResourceConnection): 2 * time.Hour,
		string(crisis.StepSafetyPlanning):     4 * time.Hour,
		string(crisis.StepFollowUp):           24 * time.Hour,
	})
}

func (c *Config) validate() error {
	if len(c.Policy.StepTimeouts) == 0 {
		return fmt.Errorf("no severity policy loaded: policy.step_timeouts is empty")
	}
	if c.Policy.FirstSafetyCheck <= 0 {
		return fmt.Errorf("no severity policy loaded: policy.first_safety_check must be positive")
	}
	return nil
}
