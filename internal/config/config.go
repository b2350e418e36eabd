package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"paig-gateway/internal/logger"
	"paig-gateway/internal/models"
	"paig-gateway/internal/store"
)

const (
	defaultPort             = 8080
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
	defaultDSN              = "paig-gateway.db"
	defaultCacheTTL         = 5 * time.Minute
)

// Environment variables that override file values.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvDatabaseDSN  = "PAIG_DATABASE_DSN"
	EnvRedisAddr    = "PAIG_REDIS_ADDR"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logger.Config   `yaml:"logging"`
	Database  store.Config    `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Providers ProvidersConfig `yaml:"providers"`
	Models    []ModelConfig   `yaml:"models" validate:"dive"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys" validate:"dive"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// CacheConfig enables the Redis model-descriptor cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl" validate:"min=0"`
}

// ProvidersConfig catalogues configured upstream providers.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url" validate:"omitempty,url"`
	Headers Headers `yaml:"headers"`
	// Version is sent as anthropic-version; ignored by OpenAI.
	Version string `yaml:"version"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ModelConfig describes a model to upsert into the model table at startup.
type ModelConfig struct {
	ID              string `yaml:"id" validate:"required"`
	Provider        string `yaml:"provider" validate:"required"`
	MaxOutputTokens *int   `yaml:"max_output_tokens" validate:"omitempty,min=1"`
}

// APIKeyConfig maps a static key to a verified identity.
type APIKeyConfig struct {
	Key    string `yaml:"key" validate:"required"`
	Owner  string `yaml:"owner" validate:"required"`
	Access string `yaml:"access" validate:"omitempty,oneof=ui api ui-access api-access"`
	Admin  bool   `yaml:"admin"`
}

// DefaultsConfig is the bucket template handed to new owners by the seed command.
type DefaultsConfig struct {
	WindowMinutes int      `yaml:"window_minutes" validate:"min=0"`
	MaxTokens     int      `yaml:"max_tokens" validate:"min=0"`
	Access        string   `yaml:"access" validate:"omitempty,oneof=ui api ui-access api-access"`
	Models        []string `yaml:"models"`
}

// Bucket converts the template into a TokenBucket without an owner.
func (d DefaultsConfig) Bucket() (models.TokenBucket, error) {
	bucket := store.DefaultBucket()
	if d.WindowMinutes > 0 {
		bucket.Window = time.Duration(d.WindowMinutes) * time.Minute
	}
	if d.MaxTokens > 0 {
		bucket.MaxTokensInWindow = d.MaxTokens
	}
	if len(d.Models) > 0 {
		bucket.ModelIDs = append([]string(nil), d.Models...)
	}
	if d.Access != "" {
		access, err := models.ParseAccessClass(d.Access)
		if err != nil {
			return models.TokenBucket{}, err
		}
		bucket.Access = access
	}
	return bucket, nil
}

// Descriptors converts the configured models into registry descriptors.
func (c Config) Descriptors() []models.AiModelDescriptor {
	out := make([]models.AiModelDescriptor, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, models.AiModelDescriptor{
			ModelID:         m.ID,
			Provider:        models.ProviderKind(m.Provider),
			MaxOutputTokens: m.MaxOutputTokens,
		})
	}
	return out
}

// Owners lists the distinct identities that appear in api_keys.
func (c Config) Owners() []string {
	seen := make(map[string]struct{}, len(c.APIKeys))
	var owners []string
	for _, k := range c.APIKeys {
		if _, ok := seen[k.Owner]; ok {
			continue
		}
		seen[k.Owner] = struct{}{}
		owners = append(owners, k.Owner)
	}
	return owners
}

// Load reads YAML configuration from disk, applies .env and environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes, applies environment overrides and defaults, and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv(EnvAnthropicKey); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	c.Logging.ApplyDefaults()
	if c.Database.DSN == "" {
		c.Database.DSN = defaultDSN
	}
	c.Database.ApplyDefaults()
	if c.Cache.TTL == 0 {
		c.Cache.TTL = defaultCacheTTL
	}
	if c.Providers.OpenAI.BaseURL == "" {
		c.Providers.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if c.Providers.Anthropic.BaseURL == "" {
		c.Providers.Anthropic.BaseURL = defaultAnthropicBaseURL
	}
	if c.Providers.Anthropic.Version == "" {
		c.Providers.Anthropic.Version = defaultAnthropicVersion
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q validation (value %v)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}

	providers := map[string]ProviderConfig{
		"openai":    c.Providers.OpenAI,
		"anthropic": c.Providers.Anthropic,
	}
	for name, provider := range providers {
		for headerKey := range provider.Headers {
			if !isCanonicalHTTPHeader(headerKey) {
				return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
			}
		}
	}

	for _, model := range c.Models {
		if !models.ProviderKind(model.Provider).Known() {
			return fmt.Errorf("model %s: unknown provider %q", model.ID, model.Provider)
		}
	}

	keys := make(map[string]struct{}, len(c.APIKeys))
	for i, k := range c.APIKeys {
		if _, dup := keys[k.Key]; dup {
			return fmt.Errorf("api_keys[%d]: duplicate key for owner %s", i, k.Owner)
		}
		keys[k.Key] = struct{}{}
	}

	if _, err := c.Defaults.Bucket(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
