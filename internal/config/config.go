package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config is the root configuration structure for the application.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger"`
	Browser BrowserConfig `mapstructure:"browser"`
	Network NetworkConfig `mapstructure:"network"`
	Client  ClientConfig  `mapstructure:"client"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
}

// ColorConfig defines console colors per log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// LoggerConfig holds all logger settings.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// BrowserConfig holds settings for the browser collaborator that owns the
// login state and the signing primitives.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	UserDataDir     string   `mapstructure:"user_data_dir"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	// SignScriptFile points at a JavaScript function expression evaluated in
	// the page to combine the raw signing material into the header set. The
	// algorithm itself never lives in this binary.
	SignScriptFile string `mapstructure:"sign_script_file"`
	// StartURL is the page opened to obtain a signing context.
	StartURL string `mapstructure:"start_url"`
}

// NetworkConfig holds settings for outbound HTTP requests.
type NetworkConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	ProxyURL           string        `mapstructure:"proxy_url"`
	UserAgent          string        `mapstructure:"user_agent"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	// MaxRPS caps request throughput across all endpoints. Zero disables
	// the limiter; the per-page crawl delay applies regardless.
	MaxRPS float64 `mapstructure:"max_rps"`
}

// ClientConfig holds the fixed API origins and base request headers.
type ClientConfig struct {
	APIHost    string            `mapstructure:"api_host"`
	UploadHost string            `mapstructure:"upload_host"`
	Headers    map[string]string `mapstructure:"headers"`
}

// CrawlConfig holds pagination settings.
type CrawlConfig struct {
	// PageInterval is the mandatory delay applied after every fetched page,
	// including the last one. Required by the platform's rate limits.
	PageInterval       time.Duration `mapstructure:"page_interval"`
	SubCommentPageSize int           `mapstructure:"sub_comment_page_size"`
}

// SetDefaults installs defaults so the app can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "mediacrawler")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.start_url", "https://www.xiaohongshu.com")

	v.SetDefault("network.timeout", 10*time.Second)
	v.SetDefault("network.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("network.max_rps", 0.0)

	v.SetDefault("client.api_host", "https://edith.xiaohongshu.com")
	v.SetDefault("client.upload_host", "https://ros-upload.xiaohongshu.com")

	v.SetDefault("crawl.page_interval", time.Second)
	v.SetDefault("crawl.sub_comment_page_size", 30)
}

// Validate checks cross-field consistency before components are wired.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"client.api_host":    c.Client.APIHost,
		"client.upload_host": c.Client.UploadHost,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid origin: %q", name, raw)
		}
	}
	if c.Network.ProxyURL != "" {
		if _, err := url.Parse(c.Network.ProxyURL); err != nil {
			return fmt.Errorf("network.proxy_url: %w", err)
		}
	}
	if c.Network.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be positive")
	}
	if c.Network.MaxRPS < 0 {
		return fmt.Errorf("network.max_rps must not be negative")
	}
	if c.Crawl.PageInterval <= 0 {
		return fmt.Errorf("crawl.page_interval must be positive")
	}
	return nil
}

// Set stores the configuration for global access.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("configuration not initialized; call config.Set in the root command")
	}
	return instance
}

// NewDefaultConfig builds a standalone Config populated with defaults.
// Primarily used by tests.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not unmarshal: %v", err))
	}
	return &cfg
}
