package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverFile   = "file"
)

type Config struct {
	Env            string
	HTTPAddr       string
	RequestTimeout time.Duration
	TrustedProxies []string

	SIWE   SIWEConfig
	JWT    JWTConfig
	Store  StoreConfig
	Redis  RedisConfig
	CORS   CORSConfig
	Events EventsConfig
	Log    LogConfig
}

// SIWEConfig controls which sign-in messages are accepted and the account policy.
type SIWEConfig struct {
	NonceTTL       time.Duration
	AllowedDomains []string
	AllowHostLogin bool
	AutoRegister   bool
}

// JWTConfig controls issued session tokens.
type JWTConfig struct {
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RevokeOnLogout  bool
}

// StoreConfig selects the storage backends.
type StoreConfig struct {
	Driver   string
	KeyStore string
	KeyDir   string
}

type RedisConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// EventsConfig toggles publishing of revocation events to Redis streams.
type EventsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.HTTPAddr = v.GetString("HTTP_ADDR")
	cfg.RequestTimeout = parseDuration(v.GetString("REQUEST_TIMEOUT"), 10*time.Second)
	cfg.TrustedProxies = splitAndTrim(v.GetString("TRUSTED_PROXIES"))

	cfg.SIWE = SIWEConfig{
		NonceTTL:       seconds(v.GetInt("NONCE_TTL")),
		AllowedDomains: splitAndTrim(v.GetString("ALLOWED_DOMAINS")),
		AllowHostLogin: v.GetBool("ALLOW_HOST_LOGIN"),
		AutoRegister:   v.GetBool("AUTO_REGISTER"),
	}

	cfg.JWT = JWTConfig{
		Issuer:          strings.TrimRight(v.GetString("JWT_ISSUER"), "/"),
		Audience:        v.GetString("JWT_AUDIENCE"),
		AccessTokenTTL:  seconds(v.GetInt("ACCESS_TOKEN_TTL")),
		RefreshTokenTTL: seconds(v.GetInt("REFRESH_TOKEN_TTL")),
		RevokeOnLogout:  v.GetBool("REVOKE_ON_LOGOUT"),
	}

	cfg.Store = StoreConfig{
		Driver:   strings.ToLower(v.GetString("STORE_DRIVER")),
		KeyStore: strings.ToLower(v.GetString("KEY_STORE")),
		KeyDir:   v.GetString("KEY_DIR"),
	}

	cfg.Redis = RedisConfig{URL: v.GetString("REDIS_URL")}
	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}
	cfg.Events = EventsConfig{Enabled: v.GetBool("EVENTS_ENABLED")}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch {
	case c.SIWE.NonceTTL <= 0:
		return errors.New("NONCE_TTL must be positive")
	case c.JWT.AccessTokenTTL <= 0:
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	case c.JWT.RefreshTokenTTL <= 0:
		return errors.New("REFRESH_TOKEN_TTL must be positive")
	case c.JWT.Audience == "":
		return errors.New("JWT_AUDIENCE must not be empty")
	case c.Store.Driver != DriverMemory && c.Store.Driver != DriverRedis:
		return errors.New("STORE_DRIVER must be memory or redis")
	case c.Store.KeyStore != DriverFile && c.Store.KeyStore != DriverRedis:
		return errors.New("KEY_STORE must be file or redis")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Store.Driver == DriverRedis || c.Store.KeyStore == DriverRedis || c.Events.Enabled
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("HTTP_ADDR", ":9000")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("TRUSTED_PROXIES", "")

	v.SetDefault("NONCE_TTL", 300)
	v.SetDefault("ALLOWED_DOMAINS", "")
	v.SetDefault("ALLOW_HOST_LOGIN", true)
	v.SetDefault("AUTO_REGISTER", true)

	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "drupal-siwe")
	v.SetDefault("ACCESS_TOKEN_TTL", 900)
	v.SetDefault("REFRESH_TOKEN_TTL", 604800)
	v.SetDefault("REVOKE_ON_LOGOUT", false)

	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("KEY_STORE", DriverFile)
	v.SetDefault("KEY_DIR", "./keys")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("EVENTS_ENABLED", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
