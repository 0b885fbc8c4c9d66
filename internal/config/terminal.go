// SPDX-License-Identifier: MIT

package config

import "time"

// Terminal is the terminal sandbox service configuration.
type Terminal struct {
	Port               int      `yaml:"port"`
	SandboxRoot        string   `yaml:"sandboxRoot"`
	DefaultVirtualHome string   `yaml:"defaultVirtualHome"`
	MotdVirtualPath    string   `yaml:"motdVirtualPath"`
	LsAllowedFlags     []string `yaml:"lsAllowedFlags"`
	UnameAllowedFlags  []string `yaml:"unameAllowedFlags"`
	HelpText           []string `yaml:"helpText"`

	RateLimitRPM    int           `yaml:"rateLimitRpm"`
	RateLimitWindow time.Duration `yaml:"-"`
}

// LoadTerminal resolves the terminal service configuration.
func LoadTerminal(env Env) (Terminal, error) {
	cfg := Terminal{
		Port:               3001,
		SandboxRoot:        "sandbox",
		DefaultVirtualHome: "/home/demo",
		MotdVirtualPath:    "/etc/motd",
		LsAllowedFlags:     []string{"-a", "-l", "-h", "-la", "-al", "-lh", "-hl", "-lah", "-alh"},
		UnameAllowedFlags:  []string{"-a", "-s", "-r", "-m"},
		HelpText: []string{
			"Available commands:",
			"  help      show this message",
			"  clear     clear the screen",
			"  ls        list directory contents",
			"  pwd       print working directory",
			"  whoami    print the current user",
			"  cat       print a text file",
			"  cd        change directory",
			"  history   command history note",
			"  echo      print arguments",
			"  motd      message of the day",
			"  uname     system information",
		},
		RateLimitRPM:    60,
		RateLimitWindow: time.Minute,
	}
	if err := loadFile(env, &cfg); err != nil {
		return Terminal{}, err
	}

	cfg.Port = envInt(env, "PORT", cfg.Port)
	cfg.SandboxRoot = envString(env, "SANDBOX_ROOT", cfg.SandboxRoot)
	cfg.DefaultVirtualHome = envString(env, "DEFAULT_VIRTUAL_HOME", cfg.DefaultVirtualHome)
	cfg.MotdVirtualPath = envString(env, "MOTD_VIRTUAL_PATH", cfg.MotdVirtualPath)
	cfg.RateLimitRPM = envInt(env, "RATE_LIMIT_RPM", cfg.RateLimitRPM)

	return cfg, nil
}
