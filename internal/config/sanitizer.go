package config

import "encoding/json"

// Sanitizer redacts secrets before a Config is logged.
type Sanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultSanitizer is the Sanitizer used by the startup diagnostics
// summary; it never mutates the Config it's given.
type DefaultSanitizer struct {
	redactionValue string
}

// NewDefaultSanitizer returns a Sanitizer that redacts with "***REDACTED***".
func NewDefaultSanitizer() Sanitizer {
	return &DefaultSanitizer{redactionValue: "***REDACTED***"}
}

// NewSanitizer returns a Sanitizer using a custom redaction value.
func NewSanitizer(redactionValue string) Sanitizer {
	return &DefaultSanitizer{redactionValue: redactionValue}
}

// Sanitize returns a copy of cfg with every account's Secret redacted,
// safe to pass to the startup diagnostics log line.
func (s *DefaultSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)
	for i := range sanitized.Accounts {
		if sanitized.Accounts[i].Secret != "" {
			sanitized.Accounts[i].Secret = s.redactionValue
		}
	}
	return sanitized
}

func (s *DefaultSanitizer) deepCopy(cfg *Config) *Config {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var cp Config
	if err := json.Unmarshal(raw, &cp); err != nil {
		return cfg
	}
	return &cp
}
