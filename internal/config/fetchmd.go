// SPDX-License-Identifier: MIT

package config

import "time"

// FetchMD is the URL-to-markdown service configuration.
type FetchMD struct {
	Port         int           `yaml:"port"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"-"`
	MaxHTMLBytes int           `yaml:"maxHtmlBytes"`
	MaxMDBytes   int           `yaml:"maxMdBytes"`
	Concurrency  int           `yaml:"concurrency"`
	RateLimitRPM int           `yaml:"rateLimitRpm"`
}

// LoadFetchMD resolves the fetch-md service configuration.
func LoadFetchMD(env Env) (FetchMD, error) {
	cfg := FetchMD{
		Port:         3002,
		Timeout:      8 * time.Second,
		MaxHTMLBytes: 2 << 20,
		MaxMDBytes:   1 << 20,
		Concurrency:  8,
		RateLimitRPM: 30,
	}
	if err := loadFile(env, &cfg); err != nil {
		return FetchMD{}, err
	}

	cfg.Port = envInt(env, "PORT", cfg.Port)
	cfg.Token = envString(env, "FMD_TOKEN", cfg.Token)
	cfg.Timeout = envMillis(env, "FETCH_TIMEOUT_MS", cfg.Timeout)
	cfg.MaxHTMLBytes = envInt(env, "MAX_HTML_BYTES", cfg.MaxHTMLBytes)
	cfg.MaxMDBytes = envInt(env, "MAX_MD_BYTES", cfg.MaxMDBytes)
	cfg.Concurrency = envInt(env, "FETCH_CONCURRENCY", cfg.Concurrency)
	cfg.RateLimitRPM = envInt(env, "RATE_LIMIT_RPM", cfg.RateLimitRPM)

	return cfg, nil
}
