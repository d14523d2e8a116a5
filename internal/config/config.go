package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "LEADSCOUT"
	defaultHTTPAddress       = "0.0.0.0:3001"
	defaultDatabasePath      = "leadscout.db"
	defaultLogLevel          = "info"
	defaultRedditUserAgent   = "leadscout/1.0"
	defaultRedditAuthURL     = "https://www.reddit.com/api/v1/access_token"
	defaultRedditAPIURL      = "https://oauth.reddit.com"
	defaultLLMBaseURL        = "https://api.openai.com/v1"
	defaultScoreModel        = "gpt-4o"
	defaultGenerateModel     = "gpt-3.5-turbo"
	defaultLLMTimeoutSeconds = 30
	defaultSimilarityTimeout = 5
	defaultSimilarityTopK    = 5
	defaultSimilarityCutoff  = 0.6
	defaultScanIntervalMin   = 5
	defaultScanPageLimit     = 25
	defaultScanStartupDelayS = 5
)

// AppConfig captures runtime configuration for the leadscout service.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	RedditClientID     string
	RedditClientSecret string
	RedditRefreshToken string
	RedditUserAgent    string
	RedditAuthURL      string
	RedditAPIURL       string

	LLMAPIKey        string
	LLMBaseURL       string
	LLMScoreModel    string
	LLMGenerateModel string
	LLMTimeout       time.Duration

	SimilarityBaseURL   string
	SimilarityTimeout   time.Duration
	SimilarityThreshold float64
	SimilarityTopK      int

	ScanInterval     time.Duration
	ScanPageLimit    int
	ScanStartupDelay time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("reddit.user_agent", defaultRedditUserAgent)
	configViper.SetDefault("reddit.auth_url", defaultRedditAuthURL)
	configViper.SetDefault("reddit.api_url", defaultRedditAPIURL)

	configViper.SetDefault("llm.base_url", defaultLLMBaseURL)
	configViper.SetDefault("llm.score_model", defaultScoreModel)
	configViper.SetDefault("llm.generate_model", defaultGenerateModel)
	configViper.SetDefault("llm.timeout_seconds", defaultLLMTimeoutSeconds)

	configViper.SetDefault("similarity.base_url", "")
	configViper.SetDefault("similarity.timeout_seconds", defaultSimilarityTimeout)
	configViper.SetDefault("similarity.threshold", defaultSimilarityCutoff)
	configViper.SetDefault("similarity.top_k", defaultSimilarityTopK)

	configViper.SetDefault("scanner.interval_minutes", defaultScanIntervalMin)
	configViper.SetDefault("scanner.page_limit", defaultScanPageLimit)
	configViper.SetDefault("scanner.startup_delay_seconds", defaultScanStartupDelayS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		RedditClientID:     configViper.GetString("reddit.client_id"),
		RedditClientSecret: configViper.GetString("reddit.client_secret"),
		RedditRefreshToken: configViper.GetString("reddit.refresh_token"),
		RedditUserAgent:    configViper.GetString("reddit.user_agent"),
		RedditAuthURL:      configViper.GetString("reddit.auth_url"),
		RedditAPIURL:       configViper.GetString("reddit.api_url"),

		LLMAPIKey:        configViper.GetString("llm.api_key"),
		LLMBaseURL:       configViper.GetString("llm.base_url"),
		LLMScoreModel:    configViper.GetString("llm.score_model"),
		LLMGenerateModel: configViper.GetString("llm.generate_model"),
		LLMTimeout:       time.Duration(configViper.GetInt("llm.timeout_seconds")) * time.Second,

		SimilarityBaseURL:   configViper.GetString("similarity.base_url"),
		SimilarityTimeout:   time.Duration(configViper.GetInt("similarity.timeout_seconds")) * time.Second,
		SimilarityThreshold: configViper.GetFloat64("similarity.threshold"),
		SimilarityTopK:      configViper.GetInt("similarity.top_k"),

		ScanInterval:     time.Duration(configViper.GetInt("scanner.interval_minutes")) * time.Minute,
		ScanPageLimit:    configViper.GetInt("scanner.page_limit"),
		ScanStartupDelay: time.Duration(configViper.GetInt("scanner.startup_delay_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RedditClientID) == "" {
		return fmt.Errorf("reddit.client_id is required")
	}
	if strings.TrimSpace(c.RedditClientSecret) == "" {
		return fmt.Errorf("reddit.client_secret is required")
	}
	if strings.TrimSpace(c.RedditRefreshToken) == "" {
		return fmt.Errorf("reddit.refresh_token is required")
	}
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity.threshold must be within [0,1]")
	}
	if c.ScanPageLimit <= 0 || c.ScanPageLimit > 100 {
		return fmt.Errorf("scanner.page_limit must be within (0,100]")
	}
	if c.ScanInterval < time.Minute {
		return fmt.Errorf("scanner.interval_minutes must be at least 1")
	}
	return nil
}
