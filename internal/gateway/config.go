package gateway

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	defaultSessions       = 1
	defaultMaxOutstanding = 64
	defaultRelayBuffer    = 32
	defaultRequestTimeout = 5 * time.Minute
	defaultLoadTimeout    = 2 * time.Minute
	defaultHealthInterval = 30 * time.Second
	defaultRestartInitial = 500 * time.Millisecond
	defaultRestartMax     = 30 * time.Second
)

// Config encapsulates all tunables for Gateway construction.
type Config struct {
	// Sessions is the backend's safe concurrency; typically 1 for a
	// single-process local runtime.
	Sessions int
	// MaxOutstanding caps admitted-but-unfinished requests; beyond it
	// submissions are rejected with QueueFull.
	MaxOutstanding int
	// MaxLoadedModels bounds resident models across sessions; 0 disables
	// eviction.
	MaxLoadedModels int
	// RelayBuffer is the bounded chunk buffer between backend read loop and
	// client sink.
	RelayBuffer int
	// RequestTimeout bounds a request end to end (queued through streamed).
	RequestTimeout time.Duration
	// LoadTimeout bounds a model load/unload; on expiry the session is marked
	// unhealthy and restarted.
	LoadTimeout time.Duration
	// FirstTokenTimeout bounds the wait for the first streamed chunk after
	// dispatch; 0 disables the check.
	FirstTokenTimeout time.Duration
	// HealthInterval is the periodic health-check cadence.
	HealthInterval time.Duration
	// RestartBackoffInitial/Max shape the capped exponential restart backoff.
	RestartBackoffInitial time.Duration
	RestartBackoffMax     time.Duration
	// DefaultModel is used when a request omits the model name.
	DefaultModel string
}

func (c Config) withDefaults() Config {
	if c.Sessions <= 0 {
		c.Sessions = defaultSessions
	}
	if c.MaxOutstanding <= 0 {
		c.MaxOutstanding = defaultMaxOutstanding
	}
	if c.RelayBuffer <= 0 {
		c.RelayBuffer = defaultRelayBuffer
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = defaultLoadTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.RestartBackoffInitial <= 0 {
		c.RestartBackoffInitial = defaultRestartInitial
	}
	if c.RestartBackoffMax <= 0 {
		c.RestartBackoffMax = defaultRestartMax
	}
	return c
}
