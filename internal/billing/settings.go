package billing

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultGuestLimit is the allowance in USD given to a new account
	DefaultGuestLimit = 1.0

	// DefaultGuestRatePerSecond is the USD charged per transcribed second in guest mode
	DefaultGuestRatePerSecond = 0.0005
)

// Settings is the immutable configuration shared by the resolver and the
// settler. It is passed by value; nothing in this package reads globals.
type Settings struct {
	// FallbackCredential is the shared provider key used for guest jobs
	FallbackCredential string

	DefaultGuestLimit  float64
	GuestRatePerSecond float64
}

// DefaultSettings returns the built-in limits without a fallback credential
func DefaultSettings() Settings {
	return Settings{
		DefaultGuestLimit:  DefaultGuestLimit,
		GuestRatePerSecond: DefaultGuestRatePerSecond,
	}
}

// Validate checks the numeric settings. A missing fallback credential is
// allowed here and only fails when a request actually lands on guest.
func (s Settings) Validate() error {
	var errs []error
	if !(s.DefaultGuestLimit > 0) || math.IsInf(s.DefaultGuestLimit, 0) {
		errs = append(errs, fmt.Errorf("default guest limit must be positive, got %v", s.DefaultGuestLimit))
	}
	if !(s.GuestRatePerSecond >= 0) || math.IsInf(s.GuestRatePerSecond, 0) {
		errs = append(errs, fmt.Errorf("guest rate must not be negative, got %v", s.GuestRatePerSecond))
	}
	return errors.Join(errs...)
}

// GuestCost converts transcribed seconds into USD
func (s Settings) GuestCost(seconds float64) float64 {
	return seconds * s.GuestRatePerSecond
}
