package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// durationOr is for fields Validate has already checked.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

const (
	DefaultFireTimeout  = 30 * time.Second
	DefaultPollTimeout  = 10 * time.Second
	DefaultFetchTimeout = 5 * time.Second
	DefaultSendTimeout  = 10 * time.Second
)

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) SendTimeout() time.Duration {
	return durationOr(c.Telegram.SendTimeout, DefaultSendTimeout)
}

func (c *Config) FireTimeout() time.Duration {
	return durationOr(c.Scheduler.FireTimeout, DefaultFireTimeout)
}

func (c *Config) FetchTimeout() time.Duration {
	return durationOr(c.Content.FetchTimeout, DefaultFetchTimeout)
}

// MaxQueueDelay is 0 (disabled) unless set.
func (c *Config) MaxQueueDelay() time.Duration {
	return durationOr(c.TaskEngine.MaxQueueDelay, 0)
}

func (c *Config) BusyTimeout() time.Duration {
	return durationOr(c.Storage.BusyTimeout, 0)
}
