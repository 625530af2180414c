package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Server struct {
	Bind       string `mapstructure:"bind"`
	AuthSecret string `mapstructure:"auth_secret"`
}

type Recognizer struct {
	Endpoint       string   `mapstructure:"endpoint"`
	APIToken       string   `mapstructure:"api_token"`
	Regions        []string `mapstructure:"regions"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

type Camera struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	SnapshotURL string `mapstructure:"snapshot_url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type Capture struct {
	ConsecutiveCaptures int     `mapstructure:"consecutive_captures"`
	CaptureInterval     float64 `mapstructure:"capture_interval"`
	TolerateOneMistake  bool    `mapstructure:"tolerate_one_mistake"`
	SnapshotTimeout     int     `mapstructure:"snapshot_timeout_seconds"`
}

type Retention struct {
	SaveFileFolder       string `mapstructure:"save_file_folder"`
	SaveTimestampedFile  bool   `mapstructure:"save_timestamped_file"`
	AlwaysSaveLatestFile bool   `mapstructure:"always_save_latest_file"`
	MaxImages            int    `mapstructure:"max_images"`
}

type Notify struct {
	CameraClearSeconds int `mapstructure:"camera_clear_seconds"`
	PulseClearSeconds  int `mapstructure:"pulse_clear_seconds"`
}

type Registry struct {
	PlatesFile string `mapstructure:"plates_file"`
}

type Config struct {
	Server     Server     `mapstructure:"server"`
	Recognizer Recognizer `mapstructure:"recognizer"`
	Cameras    []Camera   `mapstructure:"cameras"`
	Capture    Capture    `mapstructure:"capture"`
	Retention  Retention  `mapstructure:"retention"`
	Notify     Notify     `mapstructure:"notify"`
	Registry   Registry   `mapstructure:"registry"`
	LogLevel   string     `mapstructure:"log_level"`
}

// Load reads configuration from the given file (or ./config.yaml when empty)
// with PLATEWATCH_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.bind", ":8080")
	v.SetDefault("recognizer.endpoint", "https://api.platerecognizer.com/v1/plate-reader/")
	v.SetDefault("recognizer.timeout_seconds", 60)
	v.SetDefault("capture.consecutive_captures", 1)
	v.SetDefault("capture.capture_interval", 1.2)
	v.SetDefault("capture.tolerate_one_mistake", false)
	v.SetDefault("capture.snapshot_timeout_seconds", 15)
	v.SetDefault("retention.save_timestamped_file", true)
	v.SetDefault("retention.always_save_latest_file", true)
	v.SetDefault("retention.max_images", 10)
	v.SetDefault("notify.camera_clear_seconds", 20)
	v.SetDefault("notify.pulse_clear_seconds", 10)
	v.SetDefault("registry.plates_file", "plates.yaml")
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/platewatch")
	}

	v.SetEnvPrefix("PLATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Recognizer.APIToken == "" {
		return fmt.Errorf("recognizer.api_token is required")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera must be configured")
	}
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("cameras[%d].id is required", i)
		}
		if cam.SnapshotURL == "" {
			return fmt.Errorf("cameras[%d].snapshot_url is required", i)
		}
	}
	if c.Capture.ConsecutiveCaptures < 1 || c.Capture.ConsecutiveCaptures > 5 {
		return fmt.Errorf("capture.consecutive_captures must be between 1 and 5")
	}
	return nil
}

func (c *Config) RecognizerTimeout() time.Duration {
	return time.Duration(c.Recognizer.TimeoutSeconds) * time.Second
}

func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Capture.CaptureInterval * float64(time.Second))
}

func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Capture.SnapshotTimeout) * time.Second
}

func (c *Config) CameraClearWindow() time.Duration {
	return time.Duration(c.Notify.CameraClearSeconds) * time.Second
}

func (c *Config) PulseClearWindow() time.Duration {
	return time.Duration(c.Notify.PulseClearSeconds) * time.Second
}
