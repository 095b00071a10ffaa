package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"queuectl/internal/backoff"
	"queuectl/internal/logging"
)

// Recognized queue settings.
const (
	SettingMaxRetries  = "max-retries"
	SettingBackoffBase = "backoff-base"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = backoff.DefaultBase
)

var settingDefaults = map[string]string{
	SettingMaxRetries:  strconv.Itoa(defaultMaxRetries),
	SettingBackoffBase: strconv.FormatFloat(defaultBackoffBase, 'f', -1, 64),
}

// SettingKeys returns the recognized settings keys in sorted order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingDefaults))
	for key := range settingDefaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Settings returns every recognized setting, with defaults for keys that were
// never set.
func (e *Engine) Settings(ctx context.Context) (map[string]string, error) {
	stored, err := e.store.StoredSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(settingDefaults))
	for key, value := range settingDefaults {
		out[key] = value
	}
	for key, value := range stored {
		if _, ok := settingDefaults[key]; ok {
			out[key] = value
		}
	}
	return out, nil
}

// Setting returns the value for key, or its default when unset.
func (e *Engine) Setting(ctx context.Context, key string) (string, error) {
	fallback, ok := settingDefaults[key]
	if !ok {
		return "", fmt.Errorf("%w: %q (known: %s)", ErrUnknownSetting, key, strings.Join(SettingKeys(), ", "))
	}
	value, found, err := e.store.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return fallback, nil
	}
	return value, nil
}

// SetSetting validates and persists a setting.
func (e *Engine) SetSetting(ctx context.Context, key, value string) error {
	normalized, err := ValidateSetting(key, value)
	if err != nil {
		return err
	}
	if err := e.store.SetSetting(ctx, key, normalized); err != nil {
		return err
	}
	e.logger.Info("setting updated",
		logging.String("key", key),
		logging.String("value", normalized),
		logging.String(logging.FieldEventType, "setting_updated"),
	)
	return nil
}

// ValidateSetting checks value for key and returns it trimmed.
func ValidateSetting(key, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch key {
	case SettingMaxRetries:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrInvalidSetting, key, value)
		}
		return strconv.Itoa(n), nil
	case SettingBackoffBase:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
			return "", fmt.Errorf("%w: %s must be a number >= 1, got %q", ErrInvalidSetting, key, value)
		}
		return value, nil
	default:
		return "", fmt.Errorf("%w: %q (known: %s)", ErrUnknownSetting, key, strings.Join(SettingKeys(), ", "))
	}
}

// maxRetries reads the default retry budget for new jobs. Unreadable or
// invalid values fall back to the default.
func (e *Engine) maxRetries(ctx context.Context) int {
	raw, err := e.Setting(ctx, SettingMaxRetries)
	if err != nil {
		e.warnSettingFallback(SettingMaxRetries, raw, err)
		return defaultMaxRetries
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		e.warnSettingFallback(SettingMaxRetries, raw, err)
		return defaultMaxRetries
	}
	return n
}

// backoffBase reads the retry delay base. Unreadable or invalid values fall
// back to the default.
func (e *Engine) backoffBase(ctx context.Context) float64 {
	raw, err := e.Setting(ctx, SettingBackoffBase)
	if err != nil {
		e.warnSettingFallback(SettingBackoffBase, raw, err)
		return defaultBackoffBase
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		e.warnSettingFallback(SettingBackoffBase, raw, err)
		return defaultBackoffBase
	}
	return f
}

func (e *Engine) warnSettingFallback(key, raw string, err error) {
	attrs := []logging.Attr{
		logging.String("key", key),
		logging.String("value", raw),
		logging.String(logging.FieldErrorHint, "fix it with 'queuectl config set "+key+" <value>'"),
		logging.String(logging.FieldImpact, "default value used"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(e.logger, "setting unusable; using default", "setting_fallback", attrs...)
}
