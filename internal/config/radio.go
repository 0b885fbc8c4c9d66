// SPDX-License-Identifier: MIT

package config

import "time"

// Radio is the radio directory service configuration.
type Radio struct {
	Port         int    `yaml:"port"`
	DatabasePath string `yaml:"databasePath"`
	RedisURL     string `yaml:"redisUrl"`

	RefreshToken             string `yaml:"refreshToken"`
	RefreshLockKey           string `yaml:"refreshLockKey"`
	RefreshLockRetryAttempts int    `yaml:"refreshLockRetryAttempts"`

	MemoryCacheTTL time.Duration `yaml:"-"`

	RateLimitMax    int           `yaml:"rateLimitMax"`
	RateLimitWindow time.Duration `yaml:"-"`

	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`

	EnforceHTTPSStreams     bool `yaml:"enforceHttpsStreams"`
	AllowInsecureTransports bool `yaml:"allowInsecureTransports"`

	Browser    RadioBrowser     `yaml:"browser"`
	Validation StreamValidation `yaml:"validation"`
	Proxy      StreamProxy      `yaml:"proxy"`
}

// RadioBrowser configures the external catalog client.
type RadioBrowser struct {
	Hosts             []string      `yaml:"hosts"`
	Timeout           time.Duration `yaml:"-"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	StationLimit      int           `yaml:"stationLimit"`
	UserAgent         string        `yaml:"userAgent"`
}

// StreamValidation configures the stream validator.
type StreamValidation struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"-"`
	Concurrency     int           `yaml:"concurrency"`
	CacheKey        string        `yaml:"cacheKey"`
	CacheTTL        time.Duration `yaml:"-"`
	FailureCacheTTL time.Duration `yaml:"-"`
}

// StreamProxy configures the HLS/stream proxy handlers.
type StreamProxy struct {
	Timeout time.Duration `yaml:"-"`
}

// LoadRadio resolves the radio service configuration.
func LoadRadio(env Env) (Radio, error) {
	cfg := Radio{
		Port:                     3000,
		DatabasePath:             "radio.db",
		RefreshLockKey:           "radio:stations:refresh",
		RefreshLockRetryAttempts: 30,
		MemoryCacheTTL:           5 * time.Minute,
		RateLimitMax:             120,
		RateLimitWindow:          time.Minute,
		DefaultPageSize:          50,
		MaxPageSize:              200,
		EnforceHTTPSStreams:      true,
		Browser: RadioBrowser{
			Hosts: []string{
				"https://de1.api.radio-browser.info",
				"https://nl1.api.radio-browser.info",
				"https://at1.api.radio-browser.info",
			},
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
			StationLimit:      500,
			UserAgent:         "gitgud.zip radio-service",
		},
		Validation: StreamValidation{
			Enabled:         true,
			Timeout:         4 * time.Second,
			Concurrency:     16,
			CacheKey:        "radio:stream-validation",
			CacheTTL:        6 * time.Hour,
			FailureCacheTTL: 30 * time.Minute,
		},
		Proxy: StreamProxy{
			Timeout: 10 * time.Second,
		},
	}
	if err := loadFile(env, &cfg); err != nil {
		return Radio{}, err
	}

	cfg.Port = envInt(env, "PORT", cfg.Port)
	cfg.DatabasePath = envString(env, "DATABASE_PATH", cfg.DatabasePath)
	cfg.RedisURL = envString(env, "REDIS_URL", cfg.RedisURL)
	cfg.RefreshToken = envString(env, "REFRESH_TOKEN", cfg.RefreshToken)
	cfg.RefreshLockKey = envString(env, "REFRESH_LOCK_KEY", cfg.RefreshLockKey)
	cfg.RefreshLockRetryAttempts = envInt(env, "REFRESH_LOCK_RETRY_ATTEMPTS", cfg.RefreshLockRetryAttempts)
	cfg.MemoryCacheTTL = envSeconds(env, "MEMORY_CACHE_TTL_SECONDS", cfg.MemoryCacheTTL)
	cfg.RateLimitMax = envInt(env, "RATE_LIMIT_MAX", cfg.RateLimitMax)
	cfg.RateLimitWindow = envSeconds(env, "RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimitWindow)
	cfg.DefaultPageSize = envInt(env, "DEFAULT_PAGE_SIZE", cfg.DefaultPageSize)
	cfg.MaxPageSize = envInt(env, "MAX_PAGE_SIZE", cfg.MaxPageSize)
	cfg.EnforceHTTPSStreams = envBool(env, "ENFORCE_HTTPS_STREAMS", cfg.EnforceHTTPSStreams)
	cfg.AllowInsecureTransports = envBool(env, "ALLOW_INSECURE_TRANSPORTS", cfg.AllowInsecureTransports)

	cfg.Browser.Hosts = envList(env, "RADIO_BROWSER_HOSTS", cfg.Browser.Hosts)
	cfg.Browser.Timeout = envMillis(env, "RADIO_BROWSER_TIMEOUT_MS", cfg.Browser.Timeout)
	cfg.Browser.StationLimit = envInt(env, "RADIO_BROWSER_STATION_LIMIT", cfg.Browser.StationLimit)
	cfg.Browser.UserAgent = envString(env, "RADIO_BROWSER_USER_AGENT", cfg.Browser.UserAgent)

	cfg.Validation.Enabled = envBool(env, "STREAM_VALIDATION_ENABLED", cfg.Validation.Enabled)
	cfg.Validation.Timeout = envMillis(env, "STREAM_VALIDATION_TIMEOUT_MS", cfg.Validation.Timeout)
	cfg.Validation.Concurrency = envInt(env, "STREAM_VALIDATION_CONCURRENCY", cfg.Validation.Concurrency)
	cfg.Validation.CacheTTL = envSeconds(env, "STREAM_VALIDATION_CACHE_TTL_SECONDS", cfg.Validation.CacheTTL)
	cfg.Validation.FailureCacheTTL = envSeconds(env, "STREAM_VALIDATION_FAILURE_TTL_SECONDS", cfg.Validation.FailureCacheTTL)

	cfg.Proxy.Timeout = envMillis(env, "STREAM_PROXY_TIMEOUT_MS", cfg.Proxy.Timeout)

	return cfg, nil
}
