// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Target      TargetConfig      `mapstructure:"target" yaml:"target"`
	Obstruction ObstructionConfig `mapstructure:"obstruction" yaml:"obstruction"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	// NavigationTimeout bounds a single Navigate or Reload call.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// PollInterval is how often waits re-evaluate their predicate.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// MaxSessions caps the number of tabs open at once.
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// ViewportConfig is the browser window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// TargetConfig describes the application under test.
type TargetConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// LocatorConfig is the config-file form of schemas.Locator.
type LocatorConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
	Selector string `mapstructure:"selector" yaml:"selector"`
}

// Locator converts the config entry into a validated schemas.Locator.
func (l LocatorConfig) Locator() (schemas.Locator, error) {
	strategy, err := schemas.ParseStrategy(l.Strategy)
	if err != nil {
		return schemas.Locator{}, err
	}
	loc := schemas.Locator{Strategy: strategy, Selector: l.Selector}
	if err := loc.Validate(); err != nil {
		return schemas.Locator{}, err
	}
	return loc, nil
}

// PopupConfig describes a modal popup and the control that dismisses it.
type PopupConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Locator LocatorConfig `mapstructure:"locator" yaml:"locator"`
	Confirm LocatorConfig `mapstructure:"confirm" yaml:"confirm"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ChallengeConfig describes a bot challenge widget and the element that only
// exists once the challenge has been passed.
type ChallengeConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Locator LocatorConfig `mapstructure:"locator" yaml:"locator"`
	Post    LocatorConfig `mapstructure:"post" yaml:"post"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ObstructionConfig configures the interaction controller.
type ObstructionConfig struct {
	Popup     PopupConfig     `mapstructure:"popup" yaml:"popup"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	// ReloadTimeout bounds the wait for document.readyState after a recovery reload.
	ReloadTimeout    time.Duration `mapstructure:"reload_timeout" yaml:"reload_timeout"`
	CaptureOnSuccess bool          `mapstructure:"capture_on_success" yaml:"capture_on_success"`
}

// DiagnosticsConfig controls where snapshots are written.
type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "dishcheck")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36")
	v.SetDefault("browser.viewport.width", 1920)
	v.SetDefault("browser.viewport.height", 1080)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.poll_interval", "250ms")
	v.SetDefault("browser.max_sessions", 4)

	// -- Target --
	v.SetDefault("target.base_url", "https://eda.yandex.ru")

	// -- Obstruction: location confirmation popup --
	v.SetDefault("obstruction.popup.enabled", true)
	v.SetDefault("obstruction.popup.locator.strategy", "css")
	v.SetDefault("obstruction.popup.locator.selector", "div.r1nk4da0")
	v.SetDefault("obstruction.popup.confirm.strategy", "xpath")
	v.SetDefault("obstruction.popup.confirm.selector", "//button[.//span[text()='Да']]")
	v.SetDefault("obstruction.popup.timeout", "10s")

	// -- Obstruction: "I'm not a robot" challenge --
	v.SetDefault("obstruction.challenge.enabled", true)
	v.SetDefault("obstruction.challenge.locator.strategy", "xpath")
	v.SetDefault("obstruction.challenge.locator.selector", `//button[contains(text(), 'Я не робот') or contains(text(), "I'm not a robot")]`)
	v.SetDefault("obstruction.challenge.post.strategy", "id")
	v.SetDefault("obstruction.challenge.post.selector", "passp-field-phone")
	v.SetDefault("obstruction.challenge.timeout", "15s")

	v.SetDefault("obstruction.reload_timeout", "15s")
	v.SetDefault("obstruction.capture_on_success", false)

	// -- Diagnostics --
	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.dir", "artifacts/snapshots")
}

// NewConfigFromViper creates a new, validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.Browser.PollInterval <= 0 {
		return fmt.Errorf("browser.poll_interval must be a positive duration")
	}
	if c.Browser.MaxSessions < 1 {
		return fmt.Errorf("browser.max_sessions must be at least 1")
	}
	if c.Browser.Viewport.Width < 0 || c.Browser.Viewport.Height < 0 {
		return fmt.Errorf("browser.viewport dimensions cannot be negative")
	}
	if c.Target.BaseURL != "" {
		u, err := url.Parse(c.Target.BaseURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("target.base_url must be an absolute URL, got %q", c.Target.BaseURL)
		}
	}
	if err := c.Obstruction.Validate(); err != nil {
		return fmt.Errorf("obstruction configuration invalid: %w", err)
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Dir == "" {
		return fmt.Errorf("diagnostics.dir is required when diagnostics are enabled")
	}
	return nil
}

// Validate checks the obstruction settings. Disabled entries are not checked.
func (o *ObstructionConfig) Validate() error {
	var errs []error
	if o.Popup.Enabled {
		if _, err := o.Popup.Locator.Locator(); err != nil {
			errs = append(errs, fmt.Errorf("popup.locator: %w", err))
		}
		if _, err := o.Popup.Confirm.Locator(); err != nil {
			errs = append(errs, fmt.Errorf("popup.confirm: %w", err))
		}
		if o.Popup.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("popup.timeout must be a positive duration"))
		}
	}
	if o.Challenge.Enabled {
		if _, err := o.Challenge.Locator.Locator(); err != nil {
			errs = append(errs, fmt.Errorf("challenge.locator: %w", err))
		}
		if _, err := o.Challenge.Post.Locator(); err != nil {
			errs = append(errs, fmt.Errorf("challenge.post: %w", err))
		}
		if o.Challenge.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("challenge.timeout must be a positive duration"))
		}
		if o.ReloadTimeout <= 0 {
			errs = append(errs, fmt.Errorf("reload_timeout must be a positive duration"))
		}
	}
	return errors.Join(errs...)
}
