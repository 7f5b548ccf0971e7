package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration. Values come from defaults, an
// optional config file and environment variables, in increasing precedence.
type Config struct {
	App               AppConfig               `mapstructure:"app"`
	Log               LogConfig               `mapstructure:"log"`
	HTTP              HTTPConfig              `mapstructure:"http"`
	Database          DatabaseConfig          `mapstructure:"database"`
	ConnectionStrings ConnectionStringsConfig `mapstructure:"connectionstrings"`
	CORS              CORSConfig              `mapstructure:"cors"`
	RateLimit         RateLimitConfig         `mapstructure:"ratelimit"`
	Tracing           TracingConfig           `mapstructure:"tracing"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	HTTPSAddr      string        `mapstructure:"https_addr"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite", "postgres" or "memory".
	Driver string `mapstructure:"driver"`
}

type ConnectionStringsConfig struct {
	TodoDb string `mapstructure:"tododb"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type TracingConfig struct {
	// Exporter is "none", "stdout" or "otlp".
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

const EnvProduction = "Production"

// IsProduction reports whether documentation endpoints must stay off.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, EnvProduction)
}

// TLSEnabled reports whether an HTTPS listener should be started.
func (c Config) TLSEnabled() bool {
	return c.HTTP.TLSCertFile != "" && c.HTTP.TLSKeyFile != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "Development")
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.https_addr", ":8443")
	v.SetDefault("http.tls_cert_file", "")
	v.SetDefault("http.tls_key_file", "")
	v.SetDefault("http.request_timeout", "15s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("connectionstrings.tododb", "data/todos.db")
	v.SetDefault("cors.allowed_origins", []string{
		"http://localhost:5173",  // Vite dev server
		"https://localhost:5173", // Vite dev server over TLS
	})
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
}

// Load reads configuration. path may be empty; a missing file is not an
// error, so a bare environment is enough to run the service.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.ConnectionStrings.TodoDb == "" {
		return fmt.Errorf("connectionstrings.tododb is required for driver %q", c.Database.Driver)
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be none, stdout or otlp, got %q", c.Tracing.Exporter)
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be positive, got %v", c.HTTP.RequestTimeout)
	}
	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		return fmt.Errorf("http.tls_cert_file and http.tls_key_file must be set together")
	}
	return nil
}

// splitList accepts both a real list and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
