package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PARBENCH_SERVER_ADDR
const EnvPrefix = "PARBENCH"

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Compile   CompileConfig   `mapstructure:"compile" yaml:"compile"`
	Run       RunConfig       `mapstructure:"run" yaml:"run"`
	Convert   ConvertConfig   `mapstructure:"convert" yaml:"convert"`
	Jobs      JobsConfig      `mapstructure:"jobs" yaml:"jobs"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown" yaml:"shutdown"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	CORSOrigin     string        `mapstructure:"cors_origin" yaml:"cors_origin"`
	TLS            TLSConfig     `mapstructure:"tls" yaml:"tls"`
}

// TLSConfig enables HTTPS on the API listener
type TLSConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	CertFile   string   `mapstructure:"cert_file" yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile    string   `mapstructure:"key_file" yaml:"key_file" validate:"required_if=Enabled true"`
	SelfSigned bool     `mapstructure:"self_signed" yaml:"self_signed"`
	Hosts      []string `mapstructure:"hosts" yaml:"hosts"`
}

type PathsConfig struct {
	ProjectRoot      string `mapstructure:"project_root" yaml:"project_root" validate:"required"`
	BuildDir         string `mapstructure:"build_dir" yaml:"build_dir" validate:"required"`
	UploadDir        string `mapstructure:"upload_dir" yaml:"upload_dir" validate:"required"`
	OutputDir        string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
	ExecutableSuffix string `mapstructure:"executable_suffix" yaml:"executable_suffix"`
}

// CompileConfig describes the optional build step. {program} in Command is
// replaced with the variant program name, e.g. grayscale_pthread.
type CompileConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Command []string      `mapstructure:"command" yaml:"command" validate:"required_if=Enabled true"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type RunConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type ConvertConfig struct {
	FFmpeg         string        `mapstructure:"ffmpeg" yaml:"ffmpeg" validate:"required"`
	FFprobe        string        `mapstructure:"ffprobe" yaml:"ffprobe"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	FallbackCodecs []string      `mapstructure:"fallback_codecs" yaml:"fallback_codecs"`
}

type JobsConfig struct {
	// MaxConcurrent bounds running pipelines; 0 means unbounded.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
}

type StoreConfig struct {
	Type string `mapstructure:"type" yaml:"type" validate:"oneof=memory sqlite postgres postgresql"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
	Path string `mapstructure:"path" yaml:"path"`
}

type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age" validate:"gt=0"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps" validate:"gt=0"`
	Burst   int     `mapstructure:"burst" yaml:"burst" validate:"gt=0"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// SetDefaults registers every key with its default value so env overrides
// are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.max_upload_bytes", int64(500*1024*1024))
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "certs/server.crt")
	v.SetDefault("server.tls.key_file", "certs/server.key")
	v.SetDefault("server.tls.self_signed", false)
	v.SetDefault("server.tls.hosts", []string{})

	v.SetDefault("paths.project_root", ".")
	v.SetDefault("paths.build_dir", "build")
	v.SetDefault("paths.upload_dir", "uploads")
	v.SetDefault("paths.output_dir", "temp_outputs")
	v.SetDefault("paths.executable_suffix", "")

	v.SetDefault("compile.enabled", false)
	v.SetDefault("compile.command", []string{"./compile.sh", "-Program", "{program}"})
	v.SetDefault("compile.timeout", 600*time.Second)

	v.SetDefault("run.timeout", 600*time.Second)

	v.SetDefault("convert.ffmpeg", "ffmpeg")
	v.SetDefault("convert.ffprobe", "ffprobe")
	v.SetDefault("convert.timeout", 300*time.Second)
	v.SetDefault("convert.fallback_codecs", []string{"libx264", "h264", "libopenh264", "mpeg4"})

	v.SetDefault("jobs.max_concurrent", 0)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "parbench.db")

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.max_age", 24*time.Hour)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "parbench")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.dir", "")

	v.SetDefault("shutdown.timeout", 30*time.Second)
}

// Load reads configuration from file (optional), environment and defaults.
// When file is empty, $HOME/.parbench/config.yaml is used if it exists.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".parbench"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

var validate = validator.New()

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Resolve joins a configured path onto the project root unless it is absolute
func (p PathsConfig) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.ProjectRoot, path)
}
