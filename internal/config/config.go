package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LoginProvider string

const (
	LoginProviderAzureAD  LoginProvider = "AZURE_AD"
	LoginProviderIDPorten LoginProvider = "ID_PORTEN"
)

const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Auth           AuthConfig           `yaml:"auth"`
	SessionStorage SessionStorageConfig `yaml:"session_storage"`
	Proxies        []ProxyConfig        `yaml:"proxies"`
	CORS           CORSConfig           `yaml:"cors"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type ServerConfig struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	ApplicationURL       string        `yaml:"application_url"`
	ApplicationName      string        `yaml:"application_name"`
	CookieName           string        `yaml:"cookie_name"`
	CookieDomain         string        `yaml:"cookie_domain"`
	CookieSecure         *bool         `yaml:"cookie_secure"`
	CookieHTTPOnly       bool          `yaml:"-"`
	CookieSameSite       string        `yaml:"cookie_same_site"`
	CookieMaxAge         time.Duration `yaml:"cookie_max_age"`
	AllowedRedirectHosts []string      `yaml:"allowed_redirect_hosts"`
}

// IsCookieSecure defaults to true when cookie_secure is not configured.
func (s ServerConfig) IsCookieSecure() bool {
	return s.CookieSecure == nil || *s.CookieSecure
}

type AuthConfig struct {
	LoginProvider        LoginProvider `yaml:"login_provider"`
	DiscoveryURL         string        `yaml:"discovery_url"`
	ClientID             string        `yaml:"client_id"`
	PrivateJWK           string        `yaml:"private_jwk"`
	EnableRefresh        bool          `yaml:"enable_refresh"`
	RefreshAllowedWithin time.Duration `yaml:"refresh_allowed_within"`
	ClockSkew            time.Duration `yaml:"clock_skew"`
	LoginStateTTL        time.Duration `yaml:"login_state_ttl"`
	ProviderTimeout      time.Duration `yaml:"provider_timeout"`
	TokenX               *TokenXConfig `yaml:"token_x,omitempty"`
}

type TokenXConfig struct {
	DiscoveryURL string `yaml:"discovery_url"`
	ClientID     string `yaml:"client_id"`
	PrivateJWK   string `yaml:"private_jwk"`
}

type SessionStorageConfig struct {
	Type  string       `yaml:"type"`
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// ProxyConfig maps /proxy<FromPath> to ToURL, authorizing calls for ToApp.
type ProxyConfig struct {
	FromPath         string   `yaml:"from_path"`
	ToURL            string   `yaml:"to_url"`
	ToApp            ProxyApp `yaml:"to_app"`
	PreserveFromPath bool     `yaml:"preserve_from_path"`
}

type ProxyApp struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	Cluster   string `yaml:"cluster"`
}

type CORSConfig struct {
	Origin         string        `yaml:"origin"`
	Credentials    *bool         `yaml:"credentials"`
	MaxAge         time.Duration `yaml:"max_age"`
	AllowedHeaders []string      `yaml:"allowed_headers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides. A missing file is not an error; the environment alone may carry
// the whole configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.loadFromEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.CookieName == "" && c.Server.ApplicationName != "" {
		c.Server.CookieName = c.Server.ApplicationName + "_session"
	}
	c.Server.CookieHTTPOnly = true
	if c.Server.CookieSameSite == "" {
		c.Server.CookieSameSite = "lax"
	}
	if c.Server.CookieMaxAge == 0 {
		c.Server.CookieMaxAge = 12 * time.Hour
	}
	if len(c.Server.AllowedRedirectHosts) == 0 {
		c.Server.AllowedRedirectHosts = []string{"nav.no", "localhost"}
	}

	if c.Auth.RefreshAllowedWithin == 0 {
		c.Auth.RefreshAllowedWithin = 12 * time.Hour
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = 15 * time.Second
	}
	if c.Auth.LoginStateTTL == 0 {
		c.Auth.LoginStateTTL = time.Hour
	}
	if c.Auth.ProviderTimeout == 0 {
		c.Auth.ProviderTimeout = 10 * time.Second
	}

	if c.SessionStorage.Type == "" {
		c.SessionStorage.Type = StorageTypeMemory
	}
	if c.SessionStorage.Type == StorageTypeRedis && c.SessionStorage.Redis != nil {
		if c.SessionStorage.Redis.PoolSize == 0 {
			c.SessionStorage.Redis.PoolSize = 10
		}
		if c.SessionStorage.Redis.MaxRetries == 0 {
			c.SessionStorage.Redis.MaxRetries = 3
		}
	}

	if c.CORS.Credentials == nil {
		credentials := true
		c.CORS.Credentials = &credentials
	}
	if c.CORS.MaxAge == 0 {
		// Chrome caps preflight caching at 2 hours.
		c.CORS.MaxAge = 2 * time.Hour
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Nav-Consumer-Id"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// loadFromEnv overlays values from the environment on top of the file. The
// provider credentials are taken from the variables the platform injects for
// the selected login provider.
func (c *Config) loadFromEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	setIfPresent(&c.Server.ApplicationURL, getenv("APPLICATION_URL"))
	setIfPresent(&c.Server.ApplicationName, getenv("APPLICATION_NAME"))
	if c.Server.ApplicationName == "" {
		c.Server.ApplicationName = getenv("NAIS_APP_NAME")
	}

	if v := getenv("AUTH_LOGIN_PROVIDER"); v != "" {
		c.Auth.LoginProvider = LoginProvider(strings.ToUpper(v))
	}
	if v := getenv("AUTH_ENABLE_REFRESH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTH_ENABLE_REFRESH %q: %w", v, err)
		}
		c.Auth.EnableRefresh = enabled
	}

	switch c.Auth.LoginProvider {
	case LoginProviderAzureAD:
		setIfPresent(&c.Auth.ClientID, getenv("AZURE_APP_CLIENT_ID"))
		setIfPresent(&c.Auth.DiscoveryURL, getenv("AZURE_APP_WELL_KNOWN_URL"))
		setIfPresent(&c.Auth.PrivateJWK, getenv("AZURE_APP_JWK"))
	case LoginProviderIDPorten:
		setIfPresent(&c.Auth.ClientID, getenv("IDPORTEN_CLIENT_ID"))
		setIfPresent(&c.Auth.DiscoveryURL, getenv("IDPORTEN_WELL_KNOWN_URL"))
		setIfPresent(&c.Auth.PrivateJWK, getenv("IDPORTEN_CLIENT_JWK"))

		if c.Auth.TokenX == nil {
			c.Auth.TokenX = &TokenXConfig{}
		}
		setIfPresent(&c.Auth.TokenX.ClientID, getenv("TOKEN_X_CLIENT_ID"))
		setIfPresent(&c.Auth.TokenX.DiscoveryURL, getenv("TOKEN_X_WELL_KNOWN_URL"))
		setIfPresent(&c.Auth.TokenX.PrivateJWK, getenv("TOKEN_X_PRIVATE_JWK"))
	}

	if v := getenv("SESSION_STORAGE_STORE_TYPE"); v != "" {
		c.SessionStorage.Type = storageTypeFromEnv(v)
	}
	if addr, password := getenv("SESSION_STORAGE_REDIS_ADDRESS"), getenv("SESSION_STORAGE_REDIS_PASSWORD"); addr != "" || password != "" {
		if c.SessionStorage.Redis == nil {
			c.SessionStorage.Redis = &RedisConfig{}
		}
		setIfPresent(&c.SessionStorage.Redis.Address, addr)
		setIfPresent(&c.SessionStorage.Redis.Password, password)
	}

	return nil
}

func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// storageTypeFromEnv maps SESSION_STORAGE_STORE_TYPE values, where the
// deployment manifests spell the in-process store IN_MEMORY.
func storageTypeFromEnv(v string) string {
	switch t := strings.ToLower(v); t {
	case "in_memory", "in-memory", "inmemory":
		return StorageTypeMemory
	default:
		return t
	}
}
