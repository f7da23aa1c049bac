package config

import (
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateAuth(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.validateSessionStorage(); err != nil {
		return fmt.Errorf("session storage config: %w", err)
	}

	if err := c.validateProxies(); err != nil {
		return fmt.Errorf("proxies config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.ApplicationName == "" {
		return fmt.Errorf("application_name is required")
	}

	if err := validateAbsoluteURL(c.Server.ApplicationURL); err != nil {
		return fmt.Errorf("application_url: %w", err)
	}

	sameSite := strings.ToLower(c.Server.CookieSameSite)
	if sameSite != "lax" && sameSite != "strict" && sameSite != "none" {
		return fmt.Errorf("invalid cookie_same_site: %s (must be lax, strict, or none)", c.Server.CookieSameSite)
	}

	if c.Server.CookieMaxAge < 0 {
		return fmt.Errorf("cookie_max_age must be positive")
	}

	return nil
}

func (c *Config) validateAuth() error {
	switch c.Auth.LoginProvider {
	case LoginProviderAzureAD, LoginProviderIDPorten:
	case "":
		return fmt.Errorf("login_provider is required")
	default:
		return fmt.Errorf("invalid login_provider: %s (must be %s or %s)", c.Auth.LoginProvider, LoginProviderAzureAD, LoginProviderIDPorten)
	}

	if err := validateClient("", c.Auth.DiscoveryURL, c.Auth.ClientID, c.Auth.PrivateJWK); err != nil {
		return err
	}

	if c.Auth.LoginProvider == LoginProviderIDPorten {
		if c.Auth.TokenX == nil {
			return fmt.Errorf("token_x is required for %s", LoginProviderIDPorten)
		}
		if err := validateClient("token_x.", c.Auth.TokenX.DiscoveryURL, c.Auth.TokenX.ClientID, c.Auth.TokenX.PrivateJWK); err != nil {
			return err
		}
	}

	if c.Auth.EnableRefresh && c.Auth.RefreshAllowedWithin <= 0 {
		return fmt.Errorf("refresh_allowed_within must be positive when refresh is enabled")
	}

	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("clock_skew must not be negative")
	}

	if c.Auth.LoginStateTTL <= 0 {
		return fmt.Errorf("login_state_ttl must be positive")
	}

	if c.Auth.ProviderTimeout <= 0 {
		return fmt.Errorf("provider_timeout must be positive")
	}

	return nil
}

func validateClient(prefix, discoveryURL, clientID, privateJWK string) error {
	if err := validateAbsoluteURL(discoveryURL); err != nil {
		return fmt.Errorf("%sdiscovery_url: %w", prefix, err)
	}
	if clientID == "" {
		return fmt.Errorf("%sclient_id is required", prefix)
	}
	if privateJWK == "" {
		return fmt.Errorf("%sprivate_jwk is required", prefix)
	}
	return nil
}

func (c *Config) validateSessionStorage() error {
	if c.SessionStorage.Type != StorageTypeMemory && c.SessionStorage.Type != StorageTypeRedis {
		return fmt.Errorf("invalid type: %s (must be memory or redis)", c.SessionStorage.Type)
	}

	if c.SessionStorage.Type == StorageTypeRedis {
		if c.SessionStorage.Redis == nil {
			return fmt.Errorf("redis config is required when type is redis")
		}
		if c.SessionStorage.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

func (c *Config) validateProxies() error {
	seen := make(map[string]bool)

	for i, proxy := range c.Proxies {
		if proxy.FromPath == "" {
			return fmt.Errorf("proxy %d: from_path is required", i)
		}
		if !strings.HasPrefix(proxy.FromPath, "/") {
			return fmt.Errorf("proxy %d: '%s' is not a relative path starting with '/'", i, proxy.FromPath)
		}
		if strings.HasPrefix(proxy.FromPath, "/internal") {
			return fmt.Errorf("proxy %d: '%s' cannot start with '/internal'", i, proxy.FromPath)
		}
		route := strings.TrimSuffix(proxy.FromPath, "/")
		if seen[route] {
			return fmt.Errorf("proxy %d: duplicate from_path: %s", i, proxy.FromPath)
		}
		seen[route] = true

		if err := validateAbsoluteURL(proxy.ToURL); err != nil {
			return fmt.Errorf("proxy %s: to_url: %w", proxy.FromPath, err)
		}

		if proxy.ToApp.Name == "" || proxy.ToApp.Namespace == "" || proxy.ToApp.Cluster == "" {
			return fmt.Errorf("proxy %s: to_app requires name, namespace and cluster", proxy.FromPath)
		}
	}

	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute url: %s", raw)
	}
	return nil
}
