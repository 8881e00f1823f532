package resilience

import "time"

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxJitter    time.Duration

	BreakerFailureThreshold uint32
	BreakerWindow           time.Duration
	BreakerOpenTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxJitter:    500 * time.Millisecond,

		BreakerFailureThreshold: 5,
		BreakerWindow:           60 * time.Second,
		BreakerOpenTimeout:      5 * time.Minute,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = def.InitialDelay
	}
	if out.MaxDelay < out.InitialDelay {
		out.MaxDelay = def.MaxDelay
	}
	if out.Multiplier < 1.0 {
		out.Multiplier = def.Multiplier
	}
	if out.MaxJitter < 0 {
		out.MaxJitter = def.MaxJitter
	}

	if out.BreakerFailureThreshold == 0 {
		out.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if out.BreakerWindow <= 0 {
		out.BreakerWindow = def.BreakerWindow
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}

	return out
}
