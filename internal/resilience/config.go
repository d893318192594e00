package resilience

import "time"

// Circuit breaker configuration constants
const (
	// Default configuration
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Delivery configuration: chat APIs throttle hard, so back off for
	// minutes and close again on the first delivery that gets through.
	DeliveryThreshold         = 3
	DeliveryResetTimeout      = 5 * time.Minute
	DeliveryHalfOpenSuccesses = 1

	// Store configuration: a database blip should not drop results.
	StoreThreshold         = 10
	StoreResetTimeout      = 15 * time.Second
	StoreHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // used in logs
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns general purpose defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// DeliveryConfig returns settings for notification channels.
func DeliveryConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         DeliveryThreshold,
		ResetTimeout:      DeliveryResetTimeout,
		HalfOpenSuccesses: DeliveryHalfOpenSuccesses,
	}
}

// StoreConfig returns settings for the results database.
func StoreConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         StoreThreshold,
		ResetTimeout:      StoreResetTimeout,
		HalfOpenSuccesses: StoreHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
