// SPDX-License-Identifier: MIT

package config

import "time"

// Gateway is the API gateway configuration.
type Gateway struct {
	Port               int           `yaml:"port"`
	RadioServiceURL    string        `yaml:"radioServiceUrl"`
	TerminalServiceURL string        `yaml:"terminalServiceUrl"`
	RequestTimeout     time.Duration `yaml:"-"`
	UpstreamTimeout    time.Duration `yaml:"-"`
	PayloadLimitBytes  int           `yaml:"payloadLimitBytes"`
	TrustProxy         bool          `yaml:"trustProxy"`

	AllowOrigins            []string `yaml:"allowOrigins"`
	AllowedServiceHostnames []string `yaml:"allowedServiceHostnames"`

	Session   GatewaySession `yaml:"session"`
	CSRFProof SecretValue    `yaml:"csrfProof"`
	Cache     GatewayCache   `yaml:"cache"`
	Contact   Contact        `yaml:"contact"`
}

// GatewaySession configures the session manager and its store.
type GatewaySession struct {
	CookieName      string        `yaml:"cookieName"`
	Secret          string        `yaml:"secret"`
	SecretGenerated bool          `yaml:"-"`
	MaxAge          time.Duration `yaml:"-"`
	RedisURL        string        `yaml:"redisUrl"`
	RedisKeyPrefix  string        `yaml:"redisKeyPrefix"`
}

// SecretValue is a secret plus whether it was generated at startup.
type SecretValue struct {
	Value     string `yaml:"value"`
	Generated bool   `yaml:"-"`
}

// GatewayCache configures the response cache.
type GatewayCache struct {
	TTL         time.Duration `yaml:"-"`
	MaxEntries  int           `yaml:"maxEntries"`
	RedisURL    string        `yaml:"redisUrl"`
	RedisPrefix string        `yaml:"redisPrefix"`
}

// Contact configures the contact pipeline.
type Contact struct {
	MaxPerIP        int           `yaml:"maxPerIp"`
	Window          time.Duration `yaml:"-"`
	DedupeWindow    time.Duration `yaml:"-"`
	TurnstileSecret string        `yaml:"turnstileSecret"`
	RedisKeyPrefix  string        `yaml:"redisKeyPrefix"`
}

// LoadGateway resolves the gateway configuration.
func LoadGateway(env Env) (Gateway, error) {
	cfg := Gateway{
		Port:               8080,
		RadioServiceURL:    "http://radio-service:3000",
		TerminalServiceURL: "http://terminal-service:3001",
		RequestTimeout:     30 * time.Second,
		UpstreamTimeout:    10 * time.Second,
		PayloadLimitBytes:  1 << 20,
		AllowedServiceHostnames: []string{
			"radio-service", "terminal-service", "localhost", "127.0.0.1",
		},
		Session: GatewaySession{
			CookieName:     "gateway.sid",
			MaxAge:         30 * time.Minute,
			RedisKeyPrefix: "gateway:session:",
		},
		Cache: GatewayCache{
			TTL:         60 * time.Second,
			MaxEntries:  200,
			RedisPrefix: "gateway:cache:",
		},
		Contact: Contact{
			MaxPerIP:       5,
			Window:         time.Hour,
			DedupeWindow:   10 * time.Minute,
			RedisKeyPrefix: "gateway:",
		},
	}
	if err := loadFile(env, &cfg); err != nil {
		return Gateway{}, err
	}

	cfg.Port = envInt(env, "PORT", cfg.Port)
	cfg.RadioServiceURL = envString(env, "RADIO_SERVICE_URL", cfg.RadioServiceURL)
	cfg.TerminalServiceURL = envString(env, "TERMINAL_SERVICE_URL", cfg.TerminalServiceURL)
	cfg.RequestTimeout = envMillis(env, "REQUEST_TIMEOUT_MS", cfg.RequestTimeout)
	cfg.UpstreamTimeout = envMillis(env, "UPSTREAM_TIMEOUT_MS", cfg.UpstreamTimeout)
	cfg.PayloadLimitBytes = envInt(env, "PAYLOAD_LIMIT_BYTES", cfg.PayloadLimitBytes)
	cfg.TrustProxy = envBool(env, "TRUST_PROXY", cfg.TrustProxy)
	cfg.AllowOrigins = envList(env, "ALLOW_ORIGINS", cfg.AllowOrigins)
	cfg.AllowedServiceHostnames = envList(env, "ALLOWED_SERVICE_HOSTNAMES", cfg.AllowedServiceHostnames)

	cfg.Session.CookieName = envString(env, "SESSION_COOKIE_NAME", cfg.Session.CookieName)
	cfg.Session.MaxAge = envSeconds(env, "SESSION_MAX_AGE_SECONDS", cfg.Session.MaxAge)
	cfg.Session.RedisURL = envString(env, "SESSION_REDIS_URL", cfg.Session.RedisURL)
	cfg.Session.RedisKeyPrefix = envString(env, "SESSION_REDIS_KEY_PREFIX", cfg.Session.RedisKeyPrefix)
	cfg.Session.Secret = envString(env, "SESSION_SECRET", cfg.Session.Secret)
	if cfg.Session.Secret == "" {
		cfg.Session.Secret = randomSecret()
		cfg.Session.SecretGenerated = true
	}

	cfg.CSRFProof.Value = envString(env, "CSRF_PROOF_SECRET", cfg.CSRFProof.Value)
	if cfg.CSRFProof.Value == "" {
		cfg.CSRFProof.Generated = true
	}

	cfg.Cache.TTL = envSeconds(env, "CACHE_TTL_SECONDS", cfg.Cache.TTL)
	cfg.Cache.MaxEntries = envInt(env, "CACHE_MEMORY_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.RedisURL = envString(env, "CACHE_REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.RedisPrefix = envString(env, "CACHE_REDIS_PREFIX", cfg.Cache.RedisPrefix)

	cfg.Contact.MaxPerIP = envInt(env, "CONTACT_MAX_PER_IP", cfg.Contact.MaxPerIP)
	cfg.Contact.Window = envSeconds(env, "CONTACT_WINDOW_SECONDS", cfg.Contact.Window)
	cfg.Contact.DedupeWindow = envSeconds(env, "CONTACT_DEDUPE_WINDOW_SECONDS", cfg.Contact.DedupeWindow)
	cfg.Contact.TurnstileSecret = envString(env, "TURNSTILE_SECRET", cfg.Contact.TurnstileSecret)

	return cfg, nil
}
