package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration accepts either a Go duration string ("90s") or a bare number of
// seconds in the yaml file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type GatewayConfig struct {
	BaseURL      string   `yaml:"base_url" validate:"required,url"`
	ExchangeType string   `yaml:"exchange_type" validate:"required"`
	DataType     int      `yaml:"data_type" validate:"required"`
	Timeout      Duration `yaml:"timeout"`
	Credential   string   `yaml:"-"` // from GATEWAY_CREDENTIAL, never from the file
}

type SessionConfig struct {
	Timezone         string `yaml:"timezone" validate:"required"`
	Open             string `yaml:"open" validate:"required"`
	Close            string `yaml:"close" validate:"required"`
	CloseLeadMinutes int    `yaml:"close_lead_minutes" validate:"required,gt=0"`
}

type SchedulerConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	KillSwitch   bool     `yaml:"kill_switch"`
}

type PathsConfig struct {
	DataDir         string `yaml:"data_dir" validate:"required"`
	StrategyFile    string `yaml:"strategy_file" validate:"required"`
	EvaluationsPath string `yaml:"evaluations_path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Session   SessionConfig   `yaml:"session"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Paths     PathsConfig     `yaml:"paths"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads the yaml config named by --config, with .env and environment
// overlays for credentials. Trading thresholds live in the strategy file, not
// here, and are never defaulted.
func Load() (Config, error) {
	var path string
	flag.StringVar(&path, "config", "config.yaml", "path to config file")
	flag.Parse()

	// .env is optional and never overrides a real environment variable.
	_ = godotenv.Load()

	return loadFile(path)
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.Gateway.Credential = os.Getenv("GATEWAY_CREDENTIAL")
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = Duration(10 * time.Second)
	}
	if cfg.Scheduler.PollInterval <= 0 {
		cfg.Scheduler.PollInterval = Duration(60 * time.Second)
	}
	if cfg.Paths.EvaluationsPath == "" {
		cfg.Paths.EvaluationsPath = "evaluations.ndjson"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.FileName == "" {
		cfg.Log.FileName = "trading.log"
	}
	if cfg.Log.MaxSize <= 0 {
		cfg.Log.MaxSize = 100
	}
}

func validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Gateway.Credential == "" {
		return fmt.Errorf("GATEWAY_CREDENTIAL must be set")
	}
	return nil
}
