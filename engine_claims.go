package authcore

import (
	"strings"
	"time"
)

// ValidateClaims reports whether verified claims are semantically complete:
// uid, locale and timezone present, locale and timezone supported, and phone,
// when present, matching the configured pattern.
func (e *Engine) ValidateClaims(c *Claims) bool {
	if e == nil || c == nil {
		return false
	}
	if strings.TrimSpace(c.UID) == "" || c.Locale == "" || c.Timezone == "" {
		return false
	}
	if !e.supportedLocale(c.Locale) || !e.supportedTimezone(c.Timezone) {
		return false
	}
	if c.Phone != "" && e.phonePattern != nil && !e.phonePattern.MatchString(c.Phone) {
		return false
	}
	return true
}

func (e *Engine) supportedLocale(locale string) bool {
	_, ok := e.locales[locale]
	return ok
}

// An empty timezone set accepts any zone the runtime can load.
func (e *Engine) supportedTimezone(tz string) bool {
	if len(e.timezones) == 0 {
		if tz == "" {
			return false
		}
		_, err := time.LoadLocation(tz)
		return err == nil
	}
	_, ok := e.timezones[tz]
	return ok
}

// issueLocale picks the locale stamped into new tokens.
func (e *Engine) issueLocale(account *Account) string {
	if e.supportedLocale(account.Locale) {
		return account.Locale
	}
	return e.config.Claims.DefaultLocale
}

func (e *Engine) issueTimezone(account *Account) string {
	if account.Timezone != "" && e.supportedTimezone(account.Timezone) {
		return account.Timezone
	}
	return e.config.Claims.DefaultTimezone
}
