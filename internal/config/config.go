// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Executor() ExecutorConfig
	Agent() AgentConfig
	Dataset() DatasetConfig
	Database() DatabaseConfig

	// CLI flag overrides
	SetBrowserHeadless(bool)
	SetBrowserConnectExisting(bool)
	SetAgentMaxSteps(int)
	SetLLMProvider(LLMProvider)
	SetLLMModel(string)
	SetDatasetDir(string)
}

// Config holds the entire application configuration.
// It uses private fields to enforce access through the Interface's getter methods.
type Config struct {
	logger   LoggerConfig
	browser  BrowserConfig
	network  NetworkConfig
	executor ExecutorConfig
	agent    AgentConfig
	dataset  DatasetConfig
	database DatabaseConfig
}

// fileConfig mirrors Config with exported fields so that viper can decode into it.
type fileConfig struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Dataset  DatasetConfig  `mapstructure:"dataset" yaml:"dataset"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

func (f fileConfig) toConfig() *Config {
	return &Config{
		logger:   f.Logger,
		browser:  f.Browser,
		network:  f.Network,
		executor: f.Executor,
		agent:    f.Agent,
		dataset:  f.Dataset,
		database: f.Database,
	}
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.logger }
func (c *Config) Browser() BrowserConfig   { return c.browser }
func (c *Config) Network() NetworkConfig   { return c.network }
func (c *Config) Executor() ExecutorConfig { return c.executor }
func (c *Config) Agent() AgentConfig       { return c.agent }
func (c *Config) Dataset() DatasetConfig   { return c.dataset }
func (c *Config) Database() DatabaseConfig { return c.database }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.browser.Headless = b }
func (c *Config) SetBrowserConnectExisting(b bool) { c.browser.ConnectExisting = b }
func (c *Config) SetAgentMaxSteps(n int)           { c.agent.MaxSteps = n }
func (c *Config) SetAgentCaptureMode(m string)     { c.agent.CaptureMode = m }
func (c *Config) SetLLMProvider(p LLMProvider)     { c.agent.LLM.Provider = p }
func (c *Config) SetLLMModel(m string)             { c.agent.LLM.Model = m }
func (c *Config) SetDatasetDir(d string)           { c.dataset.Dir = d }

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

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes how the agent obtains a Chrome tab.
type BrowserConfig struct {
	// CDPURL is the HTTP endpoint of a Chrome started with --remote-debugging-port.
	CDPURL string `mapstructure:"cdp_url" yaml:"cdp_url"`
	// ConnectExisting attaches to a running Chrome at CDPURL. When false a
	// managed browser is launched for the lifetime of the process.
	ConnectExisting bool `mapstructure:"connect_existing" yaml:"connect_existing"`
	// AutoLaunch starts Chrome with remote debugging enabled when nothing is
	// listening on CDPURL.
	AutoLaunch     bool          `mapstructure:"auto_launch" yaml:"auto_launch"`
	ExecutablePath string        `mapstructure:"executable_path" yaml:"executable_path"`
	UserDataDir    string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	LaunchWait     time.Duration `mapstructure:"launch_wait" yaml:"launch_wait"`
	ViewportWidth  int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Args           []string      `mapstructure:"args" yaml:"args"`
}

// DebuggingPort extracts the port from CDPURL, falling back to 9222.
func (b BrowserConfig) DebuggingPort() string {
	u, err := url.Parse(b.CDPURL)
	if err != nil || u.Port() == "" {
		return "9222"
	}
	return u.Port()
}

// NetworkConfig holds navigation level timing.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// InitialSettle is the pause after the first navigation of a task.
	InitialSettle time.Duration `mapstructure:"initial_settle" yaml:"initial_settle"`
	// ProbeTimeout bounds each request to the CDP HTTP endpoint.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// ExecutorConfig holds the per-action timeouts and settle delays.
type ExecutorConfig struct {
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ClickSettle       time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	TypeSettle        time.Duration `mapstructure:"type_settle" yaml:"type_settle"`
	SearchSettle      time.Duration `mapstructure:"search_settle" yaml:"search_settle"`
	NavigateSettle    time.Duration `mapstructure:"navigate_settle" yaml:"navigate_settle"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	WaitDuration      time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
	ScrollSettle      time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	ScrollDistance    int           `mapstructure:"scroll_distance" yaml:"scroll_distance"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout" yaml:"screenshot_timeout"`
	EvaluateTimeout   time.Duration `mapstructure:"evaluate_timeout" yaml:"evaluate_timeout"`
}

// AgentConfig holds settings related to the task loop and its components.
type AgentConfig struct {
	MaxSteps      int `mapstructure:"max_steps" yaml:"max_steps"`
	MaxElements   int `mapstructure:"max_elements" yaml:"max_elements"`
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// SimilarityThreshold is the largest Hamming distance at which two
	// screenshots are considered the same UI state.
	SimilarityThreshold int `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	HashSize            int `mapstructure:"hash_size" yaml:"hash_size"`
	// CaptureMode is the default capture policy for decided actions: none, post or both.
	CaptureMode string    `mapstructure:"capture_mode" yaml:"capture_mode"`
	LLM         LLMConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderGroq      LLMProvider = "groq"
	ProviderAnthropic LLMProvider = "anthropic"
)

// DefaultModels maps each provider to the model used when none is configured.
var DefaultModels = map[LLMProvider]string{
	ProviderGemini:    "gemini-2.0-flash-exp",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderGroq:      "llama-3.3-70b-versatile",
	ProviderAnthropic: "claude-3-5-sonnet-latest",
}

// GroqEndpoint is Groq's OpenAI compatible API root.
const GroqEndpoint = "https://api.groq.com/openai/v1"

// ProviderKeys holds one API key per provider, usually sourced from the
// conventional environment variables.
type ProviderKeys struct {
	Gemini    string `mapstructure:"gemini" yaml:"gemini"`
	OpenAI    string `mapstructure:"openai" yaml:"openai"`
	Groq      string `mapstructure:"groq" yaml:"groq"`
	Anthropic string `mapstructure:"anthropic" yaml:"anthropic"`
}

// LLMConfig defines the oracle the agent talks to.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	// RequestsPerMinute caps the request rate. Zero disables limiting.
	RequestsPerMinute float64      `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Keys              ProviderKeys `mapstructure:"keys" yaml:"keys"`
}

// ResolvedModel returns the configured model or the provider default.
func (l LLMConfig) ResolvedModel() string {
	if l.Model != "" {
		return l.Model
	}
	return DefaultModels[l.Provider]
}

// ResolvedAPIKey returns the explicit API key or the provider specific one.
func (l LLMConfig) ResolvedAPIKey() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	switch l.Provider {
	case ProviderGemini:
		return l.Keys.Gemini
	case ProviderOpenAI:
		return l.Keys.OpenAI
	case ProviderGroq:
		return l.Keys.Groq
	case ProviderAnthropic:
		return l.Keys.Anthropic
	}
	return ""
}

// SupportsVision reports whether screenshots should be attached to prompts.
func (l LLMConfig) SupportsVision() bool {
	return l.Provider != ProviderGroq
}

// DatasetConfig locates the screenshot dataset on disk.
type DatasetConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DatabaseConfig configures the optional run index.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return fc.toConfig()
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webtrail")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.cdp_url", "http://127.0.0.1:9222")
	v.SetDefault("browser.connect_existing", true)
	v.SetDefault("browser.auto_launch", true)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.user_data_dir", "~/chrome-debug-profile")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.launch_wait", "3s")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.args", []string{})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.initial_settle", "3s")
	v.SetDefault("network.probe_timeout", "2s")

	// -- Executor --
	v.SetDefault("executor.visibility_timeout", "10s")
	v.SetDefault("executor.action_timeout", "5s")
	v.SetDefault("executor.click_settle", "1500ms")
	v.SetDefault("executor.type_settle", "500ms")
	v.SetDefault("executor.search_settle", "1500ms")
	v.SetDefault("executor.navigate_settle", "800ms")
	v.SetDefault("executor.wait_timeout", "10s")
	v.SetDefault("executor.wait_duration", "1s")
	v.SetDefault("executor.scroll_settle", "500ms")
	v.SetDefault("executor.scroll_distance", 500)
	v.SetDefault("executor.screenshot_timeout", "15s")
	v.SetDefault("executor.evaluate_timeout", "10s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.max_elements", 50)
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.similarity_threshold", 5)
	v.SetDefault("agent.hash_size", 16)
	v.SetDefault("agent.capture_mode", "post")
	v.SetDefault("agent.llm.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.model", "")
	v.SetDefault("agent.llm.api_key", "")
	v.SetDefault("agent.llm.endpoint", "")
	v.SetDefault("agent.llm.api_timeout", "30s")
	v.SetDefault("agent.llm.temperature", 0.3)
	v.SetDefault("agent.llm.max_tokens", 1024)
	v.SetDefault("agent.llm.max_retries", 2)
	v.SetDefault("agent.llm.requests_per_minute", 0)
	v.SetDefault("agent.llm.keys.gemini", "")
	v.SetDefault("agent.llm.keys.openai", "")
	v.SetDefault("agent.llm.keys.groq", "")
	v.SetDefault("agent.llm.keys.anthropic", "")

	// -- Dataset --
	v.SetDefault("dataset.dir", "dataset")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.connect_timeout", "5s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("WEBTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional variable names take part alongside the prefixed ones.
	_ = v.BindEnv("agent.llm.keys.gemini", "WEBTRAIL_AGENT_LLM_KEYS_GEMINI", "GEMINI_API_KEY")
	_ = v.BindEnv("agent.llm.keys.openai", "WEBTRAIL_AGENT_LLM_KEYS_OPENAI", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.llm.keys.groq", "WEBTRAIL_AGENT_LLM_KEYS_GROQ", "GROQ_API_KEY")
	_ = v.BindEnv("agent.llm.keys.anthropic", "WEBTRAIL_AGENT_LLM_KEYS_ANTHROPIC", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("agent.llm.provider", "WEBTRAIL_AGENT_LLM_PROVIDER", "LLM_PROVIDER")
	_ = v.BindEnv("agent.llm.model", "WEBTRAIL_AGENT_LLM_MODEL", "LLM_MODEL")
	_ = v.BindEnv("dataset.dir", "WEBTRAIL_DATASET_DIR", "SCREENSHOT_DIR")
	_ = v.BindEnv("database.url", "WEBTRAIL_DATABASE_URL", "DATABASE_URL")

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := fc.toConfig()
	cfg.agent.LLM.Provider = LLMProvider(strings.ToLower(string(cfg.agent.LLM.Provider)))

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.browser.UserDataDir, &c.dataset.Dir, &c.logger.LogFile} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.browser.CDPURL); err != nil {
		return fmt.Errorf("browser.cdp_url must be a valid URL: %w", err)
	}
	if c.dataset.Dir == "" {
		return fmt.Errorf("dataset.dir must not be empty")
	}
	if c.network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.executor.ScrollDistance <= 0 {
		return fmt.Errorf("executor.scroll_distance must be a positive integer")
	}
	if err := c.agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be greater than 0")
	}
	if a.MaxElements <= 0 {
		return fmt.Errorf("max_elements must be greater than 0")
	}
	if a.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be greater than 0")
	}
	if a.SimilarityThreshold < 0 {
		return fmt.Errorf("similarity_threshold must not be negative")
	}
	if a.HashSize < 8 || a.HashSize%8 != 0 {
		return fmt.Errorf("hash_size must be a positive multiple of 8")
	}
	switch a.CaptureMode {
	case "none", "post", "both":
	default:
		return fmt.Errorf("capture_mode must be one of none, post, both (got %q)", a.CaptureMode)
	}
	return a.LLM.Validate()
}

// Validate checks the LLMConfig settings.
func (l *LLMConfig) Validate() error {
	if _, ok := DefaultModels[l.Provider]; !ok {
		return fmt.Errorf("llm.provider %q is not supported", l.Provider)
	}
	if l.APITimeout <= 0 {
		return fmt.Errorf("llm.api_timeout must be a positive duration")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}
	return nil
}
