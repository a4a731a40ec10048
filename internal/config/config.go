package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                    = "UNITREVIEWS"
	defaultHTTPAddress           = "0.0.0.0:8080"
	defaultDatabaseDriver        = DriverSQLite
	defaultDatabasePath          = "unitreviews.db"
	defaultLogLevel              = "info"
	defaultCookieName            = "app_session"
	defaultSessionIssuer         = "tauth"
	defaultMongoDatabase         = "unitreviews"
	defaultAIBaseURL             = "https://api.openai.com"
	defaultAIModel               = "gpt-4o-mini"
	defaultAIFreshnessDays       = 120
	defaultAIRequestDelay        = 2 * time.Second
	defaultAIMaxReviews          = 40
	defaultAIMaxSeasons          = 4
	defaultAIReviewCharBudget    = 600
	defaultTagRefreshInterval    = 6 * time.Hour
	defaultOverviewSweepInterval = 24 * time.Hour
	defaultJobLockTTL            = 30 * time.Minute
	defaultMostReviewsThreshold  = 10
	DriverSQLite                 = "sqlite"
	DriverPostgres               = "postgres"
)

// AppConfig captures runtime configuration for the API server and job commands.
type AppConfig struct {
	HTTPAddress string
	// HTTPAllowedOrigins lists the browser origins allowed to send
	// credentialed requests. Empty means any origin, without credentials.
	HTTPAllowedOrigins []string
	LogLevel           string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string

	AssetsBucket          string
	AssetsCredentialsFile string
	AssetsPublicBaseURL   string

	RedisURL string

	SetuMongoURI      string
	SetuMongoDatabase string

	AI AIConfig

	JobsEnabled           bool
	TagRefreshInterval    time.Duration
	OverviewSweepInterval time.Duration
	JobLockTTL            time.Duration

	MostReviewsThreshold int64
}

// AIConfig configures the overview summarizer. An empty APIKey disables it.
type AIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	FreshnessWindow  time.Duration
	RequestDelay     time.Duration
	MaxReviews       int
	MaxSeasons       int
	ReviewCharBudget int
}

// Enabled reports whether summaries can be generated.
func (c AIConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// LoadDotEnv reads a .env file into the process environment when one exists.
// Variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("assets.gcs_bucket", "")
	configViper.SetDefault("assets.credentials_file", "")
	configViper.SetDefault("assets.public_base_url", "")
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("setu.mongo_uri", "")
	configViper.SetDefault("setu.mongo_database", defaultMongoDatabase)
	configViper.SetDefault("ai.api_key", "")
	configViper.SetDefault("ai.base_url", defaultAIBaseURL)
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("ai.freshness_days", defaultAIFreshnessDays)
	configViper.SetDefault("ai.request_delay", defaultAIRequestDelay)
	configViper.SetDefault("ai.max_reviews", defaultAIMaxReviews)
	configViper.SetDefault("ai.max_seasons", defaultAIMaxSeasons)
	configViper.SetDefault("ai.review_char_budget", defaultAIReviewCharBudget)
	configViper.SetDefault("jobs.enabled", true)
	configViper.SetDefault("jobs.tag_refresh_interval", defaultTagRefreshInterval)
	configViper.SetDefault("jobs.overview_sweep_interval", defaultOverviewSweepInterval)
	configViper.SetDefault("jobs.lock_ttl", defaultJobLockTTL)
	configViper.SetDefault("tags.most_reviews_threshold", defaultMostReviewsThreshold)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		HTTPAllowedOrigins:    splitList(configViper.GetStringSlice("http.allowed_origins")),
		LogLevel:              configViper.GetString("log.level"),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		AuthSigningSecret:     configViper.GetString("auth.signing_secret"),
		AuthIssuer:            configViper.GetString("auth.issuer"),
		AuthCookieName:        configViper.GetString("auth.cookie_name"),
		AssetsBucket:          configViper.GetString("assets.gcs_bucket"),
		AssetsCredentialsFile: configViper.GetString("assets.credentials_file"),
		AssetsPublicBaseURL:   configViper.GetString("assets.public_base_url"),
		RedisURL:              configViper.GetString("redis.url"),
		SetuMongoURI:          configViper.GetString("setu.mongo_uri"),
		SetuMongoDatabase:     configViper.GetString("setu.mongo_database"),
		AI: AIConfig{
			APIKey:           configViper.GetString("ai.api_key"),
			BaseURL:          configViper.GetString("ai.base_url"),
			Model:            configViper.GetString("ai.model"),
			FreshnessWindow:  time.Duration(configViper.GetInt("ai.freshness_days")) * 24 * time.Hour,
			RequestDelay:     configViper.GetDuration("ai.request_delay"),
			MaxReviews:       configViper.GetInt("ai.max_reviews"),
			MaxSeasons:       configViper.GetInt("ai.max_seasons"),
			ReviewCharBudget: configViper.GetInt("ai.review_char_budget"),
		},
		JobsEnabled:           configViper.GetBool("jobs.enabled"),
		TagRefreshInterval:    configViper.GetDuration("jobs.tag_refresh_interval"),
		OverviewSweepInterval: configViper.GetDuration("jobs.overview_sweep_interval"),
		JobLockTTL:            configViper.GetDuration("jobs.lock_ttl"),
		MostReviewsThreshold:  configViper.GetInt64("tags.most_reviews_threshold"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitList accepts both list values and comma separated strings, which is
// how a list arrives from an environment variable.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, strings.TrimRight(part, "/"))
			}
		}
	}
	return out
}

func validateOrigin(origin string) error {
	parsed, err := url.Parse(origin)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("http.allowed_origins: %q is not an http(s) origin", origin)
	}
	if parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("http.allowed_origins: %q must not carry a path", origin)
	}
	return nil
}

func (c AppConfig) validate() error {
	for _, origin := range c.HTTPAllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.SetuMongoURI != "" && strings.TrimSpace(c.SetuMongoDatabase) == "" {
		return fmt.Errorf("setu.mongo_database is required with setu.mongo_uri")
	}
	if c.AI.Enabled() && strings.TrimSpace(c.AI.Model) == "" {
		return fmt.Errorf("ai.model is required with ai.api_key")
	}
	if c.JobsEnabled && (c.TagRefreshInterval <= 0 || c.OverviewSweepInterval <= 0) {
		return fmt.Errorf("job intervals must be positive")
	}
	if c.MostReviewsThreshold < 1 {
		return fmt.Errorf("tags.most_reviews_threshold must be at least 1")
	}
	return nil
}
