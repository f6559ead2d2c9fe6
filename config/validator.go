package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "configuration validation failed: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks the configuration for inconsistencies. It accumulates all
// problems rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.Cache.validate()...)
	errs = append(errs, c.UserCache.validate()...)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (cc *CacheConfig) validate() ValidationErrors {
	var errs ValidationErrors

	if cc.Enabled && cc.Redis.IsEmpty() {
		errs = append(errs, ValidationError{
			Field:   "cache.redis.url",
			Message: "required when cache is enabled",
		})
	}
	if cc.Redis != nil {
		if cc.Redis.TTLJitter < 0 || cc.Redis.TTLJitter > 1 {
			errs = append(errs, ValidationError{
				Field:   "cache.redis.ttlJitter",
				Message: "must be between 0.0 and 1.0",
			})
		}
		if cc.Redis.PoolSize < 0 {
			errs = append(errs, ValidationError{
				Field:   "cache.redis.poolSize",
				Message: "must not be negative",
			})
		}
	}
	if cc.OpTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.opTimeout",
			Message: "must not be negative",
		})
	}
	if cc.Local.MaxEntries < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.local.maxEntries",
			Message: "must not be negative",
		})
	}
	if cc.Breaker.FailureThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.breaker.failureThreshold",
			Message: "must not be negative",
		})
	}

	return errs
}

func (uc *UserCacheConfig) validate() ValidationErrors {
	var errs ValidationErrors

	if uc.TTL < 0 {
		errs = append(errs, ValidationError{
			Field:   "userCache.ttl",
			Message: "must not be negative",
		})
	}
	if strings.ContainsAny(uc.KeyNamespace, ": \t\n") {
		errs = append(errs, ValidationError{
			Field:   "userCache.keyNamespace",
			Message: "must not contain colons or whitespace",
		})
	}

	return errs
}
