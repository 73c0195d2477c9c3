package sshclient

import (
	"time"

	"github.com/tastythames/blast-runner/internal/config"
)

type Config struct {
	Timeout        time.Duration
	Port           int
	KeepAlive      time.Duration
	KnownHostsFile string // empty: accept any host key
}

// FromProfile extracts the transport settings from the loaded profile.
func FromProfile(c config.SSHConfig) Config {
	cfg := Config{
		Timeout:        c.ConnectTimeout,
		Port:           c.Port,
		KeepAlive:      c.KeepAlive,
		KnownHostsFile: c.KnownHostsFile,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	return cfg
}
