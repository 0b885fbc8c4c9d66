// SPDX-License-Identifier: MIT

// Package config loads service configuration: defaults, then an optional YAML
// file named by CONFIG_FILE, then environment variable overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Env abstracts the environment so tests can inject values.
type Env interface {
	Get(key string) string
}

// SystemEnv reads the process environment.
type SystemEnv struct{}

// Get returns the value of key from the process environment.
func (SystemEnv) Get(key string) string { return os.Getenv(key) }

// loadFile unmarshals the YAML file named by CONFIG_FILE into out, if set.
func loadFile(env Env, out any) error {
	path := env.Get("CONFIG_FILE")
	if path == "" {
		return nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(contents, out)
}

func envString(env Env, key, fallback string) string {
	if value := strings.TrimSpace(env.Get(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(env Env, key string, fallback int) int {
	raw := strings.TrimSpace(env.Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envBool(env Env, key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(env.Get(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envSeconds(env Env, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(env.Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}

func envMillis(env Env, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(env.Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Millisecond
}

func envList(env Env, key string, fallback []string) []string {
	raw := strings.TrimSpace(env.Get(key))
	if raw == "" {
		return fallback
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

// randomSecret generates a 32-byte hex secret for deployments that do not
// provide one. The generated flag lets callers warn and synchronize replicas.
func randomSecret() string {
	buffer := make([]byte, 32)
	_, _ = rand.Read(buffer)
	return hex.EncodeToString(buffer)
}
