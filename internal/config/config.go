package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ModeThread     = "thread"
	ModeCompletion = "completion"
)

// Keys double as environment variable names.
const (
	KeyAPIKey             = "OPENAI_API_KEY"
	KeyParamPrefix        = "PARAM_PREFIX"
	KeyBaseURL            = "OPENAI_BASE_URL"
	KeyAssistantID        = "ASSISTANT_ID"
	KeyReplyMode          = "REPLY_MODE"
	KeyModel              = "OPENAI_MODEL"
	KeySystemPrompt       = "SYSTEM_PROMPT"
	KeyPollInterval       = "POLL_INTERVAL"
	KeyMaxPollAttempts    = "MAX_POLL_ATTEMPTS"
	KeyPollBackoff        = "POLL_BACKOFF"
	KeyPollMaxInterval    = "POLL_MAX_INTERVAL"
	KeyDeleteThread       = "DELETE_THREAD_ON_EXIT"
	KeyAcceptedRoles      = "ACCEPTED_ROLES"
	KeyRolePolicy         = "ROLE_POLICY"
	KeyRequestTimeout     = "REQUEST_TIMEOUT"
	KeyPort               = "PORT"
	KeyCORSAllowedOrigins = "CORS_ALLOWED_ORIGINS"
	KeyRateLimitRPS       = "RATE_LIMIT_RPS"
	KeyRateLimitBurst     = "RATE_LIMIT_BURST"
	KeyJobTable           = "JOB_TABLE"
	KeyLogLevel           = "LOG_LEVEL"
	KeyLogFormat          = "LOG_FORMAT"
)

var allKeys = []string{
	KeyAPIKey, KeyParamPrefix, KeyBaseURL, KeyAssistantID, KeyReplyMode, KeyModel, KeySystemPrompt,
	KeyPollInterval, KeyMaxPollAttempts, KeyPollBackoff, KeyPollMaxInterval, KeyDeleteThread,
	KeyAcceptedRoles, KeyRolePolicy, KeyRequestTimeout, KeyPort, KeyCORSAllowedOrigins,
	KeyRateLimitRPS, KeyRateLimitBurst, KeyJobTable, KeyLogLevel, KeyLogFormat,
}

// ConfigurationError reports a missing or invalid setting. The caller decides
// whether to exit.
type ConfigurationError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type Config struct {
	APIKey      string
	ParamPrefix string
	BaseURL     string

	Mode         string
	AssistantID  string
	Model        string
	SystemPrompt string

	PollInterval       time.Duration
	MaxPollAttempts    int
	PollBackoff        string
	PollMaxInterval    time.Duration
	DeleteThreadOnExit bool
	AcceptedRoles      []string
	RolePolicy         string

	RequestTimeout     time.Duration
	Port               int
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	JobTable  string
	LogLevel  string
	LogFormat string
}

// Addr is the listen address for serve mode.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

type LoadOptions struct {
	// ConfigFile is an optional YAML/JSON/TOML file read before the environment.
	ConfigFile string
	// EnvFile is loaded into the process environment when present. Existing
	// variables are not overridden.
	EnvFile string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBaseURL, "https://api.openai.com/v1")
	v.SetDefault(KeyReplyMode, ModeThread)
	v.SetDefault(KeyModel, "gpt-4o-mini")
	v.SetDefault(KeyPollInterval, "1s")
	v.SetDefault(KeyMaxPollAttempts, 30)
	v.SetDefault(KeyPollBackoff, "constant")
	v.SetDefault(KeyPollMaxInterval, "5s")
	v.SetDefault(KeyDeleteThread, true)
	v.SetDefault(KeyAcceptedRoles, "user,assistant")
	v.SetDefault(KeyRolePolicy, "drop")
	v.SetDefault(KeyRequestTimeout, "90s")
	v.SetDefault(KeyPort, 10000)
	v.SetDefault(KeyCORSAllowedOrigins, "*")
	v.SetDefault(KeyRateLimitRPS, 0)
	v.SetDefault(KeyRateLimitBurst, 10)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
}

// Load resolves configuration from defaults, an optional config file, the
// environment (after an optional .env) and any flags already bound to v.
func Load(v *viper.Viper, opts LoadOptions) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, &ConfigurationError{Key: "env-file", Reason: "cannot load " + opts.EnvFile, Err: err}
		}
	}

	SetDefaults(v)
	for _, k := range allKeys {
		if err := v.BindEnv(k); err != nil {
			return Config{}, &ConfigurationError{Key: k, Reason: "cannot bind environment", Err: err}
		}
	}
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &ConfigurationError{Key: "config", Reason: "cannot read " + opts.ConfigFile, Err: err}
		}
	}

	cfg := Config{
		APIKey:             strings.TrimSpace(v.GetString(KeyAPIKey)),
		ParamPrefix:        strings.TrimSpace(v.GetString(KeyParamPrefix)),
		BaseURL:            strings.TrimSpace(v.GetString(KeyBaseURL)),
		Mode:               strings.ToLower(strings.TrimSpace(v.GetString(KeyReplyMode))),
		AssistantID:        strings.TrimSpace(v.GetString(KeyAssistantID)),
		Model:              strings.TrimSpace(v.GetString(KeyModel)),
		SystemPrompt:       v.GetString(KeySystemPrompt),
		MaxPollAttempts:    v.GetInt(KeyMaxPollAttempts),
		PollBackoff:        strings.ToLower(strings.TrimSpace(v.GetString(KeyPollBackoff))),
		DeleteThreadOnExit: v.GetBool(KeyDeleteThread),
		AcceptedRoles:      splitList(v.GetString(KeyAcceptedRoles)),
		RolePolicy:         strings.ToLower(strings.TrimSpace(v.GetString(KeyRolePolicy))),
		Port:               v.GetInt(KeyPort),
		CORSAllowedOrigins: splitList(v.GetString(KeyCORSAllowedOrigins)),
		RateLimitRPS:       v.GetFloat64(KeyRateLimitRPS),
		RateLimitBurst:     v.GetInt(KeyRateLimitBurst),
		JobTable:           strings.TrimSpace(v.GetString(KeyJobTable)),
		LogLevel:           strings.TrimSpace(v.GetString(KeyLogLevel)),
		LogFormat:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
	}

	var err error
	if cfg.PollInterval, err = durationValue(v, KeyPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.PollMaxInterval, err = durationValue(v, KeyPollMaxInterval); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = durationValue(v, KeyRequestTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements. It returns the first problem found.
func (c Config) Validate() error {
	if c.APIKey == "" && c.ParamPrefix == "" {
		return &ConfigurationError{Key: KeyAPIKey, Reason: "either " + KeyAPIKey + " or " + KeyParamPrefix + " must be set"}
	}
	switch c.Mode {
	case ModeThread:
		if c.AssistantID == "" {
			return &ConfigurationError{Key: KeyAssistantID, Reason: "required when " + KeyReplyMode + "=thread"}
		}
	case ModeCompletion:
		if c.Model == "" {
			return &ConfigurationError{Key: KeyModel, Reason: "required when " + KeyReplyMode + "=completion"}
		}
	default:
		return &ConfigurationError{Key: KeyReplyMode, Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	if c.PollInterval <= 0 {
		return &ConfigurationError{Key: KeyPollInterval, Reason: "must be positive"}
	}
	if c.MaxPollAttempts < 1 {
		return &ConfigurationError{Key: KeyMaxPollAttempts, Reason: "must be at least 1"}
	}
	if c.PollBackoff != "constant" && c.PollBackoff != "exponential" {
		return &ConfigurationError{Key: KeyPollBackoff, Reason: fmt.Sprintf("unknown strategy %q", c.PollBackoff)}
	}
	if c.PollBackoff == "exponential" && c.PollMaxInterval < c.PollInterval {
		return &ConfigurationError{Key: KeyPollMaxInterval, Reason: "must not be below " + KeyPollInterval}
	}
	if c.RolePolicy != "drop" && c.RolePolicy != "reject" {
		return &ConfigurationError{Key: KeyRolePolicy, Reason: fmt.Sprintf("unknown policy %q", c.RolePolicy)}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigurationError{Key: KeyRequestTimeout, Reason: "must be positive"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigurationError{Key: KeyPort, Reason: fmt.Sprintf("out of range: %d", c.Port)}
	}
	if c.RateLimitRPS < 0 {
		return &ConfigurationError{Key: KeyRateLimitRPS, Reason: "must not be negative"}
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return &ConfigurationError{Key: KeyRateLimitBurst, Reason: "must be at least 1 when rate limiting is on"}
	}
	return nil
}

// durationValue accepts Go duration strings ("1.5s") or a bare integer of
// milliseconds ("1000").
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("invalid duration %q", raw), Err: err}
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
