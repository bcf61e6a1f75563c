// Package validation provides reusable input validation functions for packet
// tunnel configuration and relay lists. All validators follow a consistent
// pattern: they return nil on success and a descriptive error on failure.
// Errors are safe to show to users (no internal details).
package validation

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Common validation errors. These are sentinel errors that can be checked with errors.Is().
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = errors.New("value exceeds maximum length")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidDuration indicates an invalid duration string.
	ErrInvalidDuration = errors.New("invalid duration")
)

// Constraints for common field types.
const (
	// MaxHostnameLength is the maximum length for relay hostnames.
	MaxHostnameLength = 64

	// MaxProviderLength is the maximum length for hosting provider names.
	MaxProviderLength = 64

	// MinDuration is the minimum duration for time-based settings.
	MinDuration = time.Millisecond

	// MaxDuration is the maximum duration for time-based settings (1 day).
	MaxDuration = 24 * time.Hour
)

// locationPattern matches a country code ("se") or a country and city code
// ("se-got").
var locationPattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]{3})?$`)

// hostnamePattern matches relay hostnames such as "se-got-wg-001".
var hostnamePattern = regexp.MustCompile(`^[a-z]{2}-[a-z]{3}-[a-z0-9]+-[0-9]{3}$`)

// providerPattern matches hosting provider names.
var providerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)

// Result represents a validation result with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxLength validates that a string doesn't exceed the maximum length.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", max), ErrTooLong)
	}
	return nil
}

// IntRange validates that an integer is within the given range (inclusive).
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// Positive validates that an integer is positive (> 0).
func Positive(field string, value int) error {
	if value <= 0 {
		return NewResult(field, "must be positive", ErrOutOfRange)
	}
	return nil
}

// FloatRange validates that a float is within the given range (inclusive).
func FloatRange(field string, value, min, max float64) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %g and %g", min, max), ErrOutOfRange)
	}
	return nil
}

// Duration validates a duration string and returns the parsed duration.
func Duration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil // Empty is valid (will use default)
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewResult(field, "invalid duration format", ErrInvalidDuration)
	}

	if d < 0 {
		return 0, NewResult(field, "duration cannot be negative", ErrOutOfRange)
	}

	return d, nil
}

// DurationBetween checks that a parsed duration is within bounds.
func DurationBetween(field string, d, min, max time.Duration) error {
	if d < min || d > max {
		return NewResult(field,
			fmt.Sprintf("must be between %s and %s", min, max),
			ErrOutOfRange)
	}
	return nil
}

// Location validates a relay location: a country code, a country and city
// code, or a single relay hostname.
func Location(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	if !locationPattern.MatchString(value) && !hostnamePattern.MatchString(value) {
		return NewResult(field, "must be a country (se), a city (se-got) or a relay hostname (se-got-wg-001)", ErrInvalidFormat)
	}

	return nil
}

// Locations validates every entry of a location list. Duplicates are rejected.
func Locations(field string, values []string) error {
	seen := make(map[string]struct{}, len(values))
	for i, v := range values {
		name := fmt.Sprintf("%s[%d]", field, i)
		if err := Location(name, v); err != nil {
			return err
		}
		if _, dup := seen[v]; dup {
			return NewResult(name, fmt.Sprintf("duplicate location %q", v), ErrInvalidFormat)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// RelayHostname validates a relay hostname.
func RelayHostname(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	if err := MaxLength(field, value, MaxHostnameLength); err != nil {
		return err
	}

	if !hostnamePattern.MatchString(value) {
		return NewResult(field, "must look like se-got-wg-001", ErrInvalidFormat)
	}

	return nil
}

// Provider validates a hosting provider name.
func Provider(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	if err := MaxLength(field, value, MaxProviderLength); err != nil {
		return err
	}

	if !providerPattern.MatchString(value) {
		return NewResult(field, "must start with a letter or digit and contain only letters, digits, spaces, dots, dashes and underscores", ErrInvalidFormat)
	}

	return nil
}

// Endpoint validates a relay endpoint. The address must be set and the port
// must not be zero.
func Endpoint(field string, value netip.AddrPort) error {
	if !value.IsValid() {
		return NewResult(field, "is required", ErrRequired)
	}
	if value.Port() == 0 {
		return NewResult(field, "port must be between 1 and 65535", ErrOutOfRange)
	}
	return nil
}

// WireGuardKey validates a base64 encoded WireGuard key and returns it.
func WireGuardKey(field, value string) (wgtypes.Key, error) {
	if err := Required(field, value); err != nil {
		return wgtypes.Key{}, err
	}

	key, err := wgtypes.ParseKey(value)
	if err != nil {
		return wgtypes.Key{}, NewResult(field, "must be a base64 encoded 32 byte key", ErrInvalidFormat)
	}

	return key, nil
}

// Port validates a network port number.
func Port(field string, value int) error {
	if value < 1 || value > 65535 {
		return NewResult(field, "must be between 1 and 65535", ErrOutOfRange)
	}
	return nil
}

// All runs multiple validation functions and returns the first error.
func All(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e Errors) Unwrap() []error {
	return e
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}
