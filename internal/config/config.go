// Package config loads runtime configuration from defaults, an optional
// config file, and MERITGATE-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "MERITGATE"

	defaultHTTPHost           = "0.0.0.0"
	defaultHTTPPort           = 8080
	defaultDatabasePath       = "meritgate.db"
	defaultDatabaseMaxConns   = 1
	defaultLogLevel           = "info"
	defaultAPIBaseURL         = "https://api.github.com"
	defaultLLMProvider        = "mock"
	defaultMaxConcurrentEvals = 10
	defaultPolicyCacheTTL     = 300
	defaultSessionCookieName  = "meritgate_session"
)

// GitHubConfig holds forge credentials and endpoints.
type GitHubConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	WebhookSecret  string
	APIBaseURL     string
	Token          string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
}

// LLMConfig selects and parameterizes the classifier provider.
type LLMConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MockDefault string
}

// AppConfig captures runtime configuration for the server and CLI.
type AppConfig struct {
	HTTPHost string
	HTTPPort int

	// DatabasePath is the SQLite file path; DatabaseURL, when set, takes
	// precedence as the full DSN.
	DatabasePath     string
	DatabaseURL      string
	DatabaseMaxConns int

	LogLevel string

	GitHub GitHubConfig
	LLM    LLMConfig

	MaxConcurrentEvals    int
	PolicyCacheTTLSeconds int

	SessionSecret     string
	SessionCookieName string
}

// Address returns the host:port the HTTP server binds to.
func (c AppConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. Nested keys map to environment variables with a double underscore:
// MERITGATE_SERVER__PORT, MERITGATE_GITHUB__WEBHOOK_SECRET, and so on.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	configViper.AutomaticEnv()

	configViper.SetDefault("server.host", defaultHTTPHost)
	configViper.SetDefault("server.port", defaultHTTPPort)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.url", "")
	configViper.SetDefault("database.max_connections", defaultDatabaseMaxConns)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("github.api_base_url", defaultAPIBaseURL)

	configViper.SetDefault("llm.provider", defaultLLMProvider)

	configViper.SetDefault("engine.max_concurrent_evals", defaultMaxConcurrentEvals)
	configViper.SetDefault("engine.policy_cache_ttl_seconds", defaultPolicyCacheTTL)

	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPHost:         configViper.GetString("server.host"),
		HTTPPort:         configViper.GetInt("server.port"),
		DatabasePath:     configViper.GetString("database.path"),
		DatabaseURL:      configViper.GetString("database.url"),
		DatabaseMaxConns: configViper.GetInt("database.max_connections"),
		LogLevel:         configViper.GetString("log.level"),
		GitHub: GitHubConfig{
			AppID:             configViper.GetInt64("github.app_id"),
			InstallationID:    configViper.GetInt64("github.installation_id"),
			PrivateKeyPath:    configViper.GetString("github.private_key_path"),
			WebhookSecret:     configViper.GetString("github.webhook_secret"),
			APIBaseURL:        configViper.GetString("github.api_base_url"),
			Token:             configViper.GetString("github.token"),
			OAuthClientID:     configViper.GetString("github.oauth_client_id"),
			OAuthClientSecret: configViper.GetString("github.oauth_client_secret"),
			OAuthRedirectURL:  configViper.GetString("github.oauth_redirect_url"),
		},
		LLM: LLMConfig{
			Provider:    configViper.GetString("llm.provider"),
			APIKey:      configViper.GetString("llm.api_key"),
			Model:       configViper.GetString("llm.model"),
			BaseURL:     configViper.GetString("llm.base_url"),
			MockDefault: configViper.GetString("llm.mock_default"),
		},
		MaxConcurrentEvals:    configViper.GetInt("engine.max_concurrent_evals"),
		PolicyCacheTTLSeconds: configViper.GetInt("engine.policy_cache_ttl_seconds"),
		SessionSecret:         configViper.GetString("session.secret"),
		SessionCookieName:     configViper.GetString("session.cookie_name"),
	}

	return cfg, nil
}

// DatabaseDSN returns the effective database connection string: the explicit
// URL when configured, the file path otherwise.
func (c AppConfig) DatabaseDSN() string {
	if strings.TrimSpace(c.DatabaseURL) != "" {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

// ValidateServe checks the fields serve mode cannot run without.
func (c AppConfig) ValidateServe() error {
	if strings.TrimSpace(c.GitHub.WebhookSecret) == "" {
		return fmt.Errorf("github.webhook_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN()) == "" {
		return fmt.Errorf("either database.path or database.url is required")
	}
	hasAppAuth := c.GitHub.AppID != 0 && c.GitHub.InstallationID != 0 && strings.TrimSpace(c.GitHub.PrivateKeyPath) != ""
	hasToken := strings.TrimSpace(c.GitHub.Token) != ""
	if !hasAppAuth && !hasToken {
		return fmt.Errorf("either github.token or the github app credentials (app_id, installation_id, private_key_path) are required")
	}
	return nil
}
