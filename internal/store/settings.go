package store

import (
	"context"
	"fmt"
	"strconv"
)

// Settings is the read-only snapshot consumed by the reply policy. It is
// read once per ingestion, never mid-decision.
type Settings struct {
	AutoReplyEnabled    bool
	BusinessHoursStart  int
	BusinessHoursEnd    int
	NotifyBeforeRespond bool
	CustomInstructions  string
}

const (
	settingAutoReplyEnabled    = "auto_reply_enabled"
	settingBusinessHoursStart  = "business_hours_start"
	settingBusinessHoursEnd    = "business_hours_end"
	settingNotifyBeforeRespond = "notify_before_respond"
	settingCustomInstructions  = "custom_instructions"
)

// DefaultSettings returns the values used before any settings row exists:
// auto-reply off, business hours 9-17.
func DefaultSettings() Settings {
	return Settings{
		AutoReplyEnabled:    false,
		BusinessHoursStart:  9,
		BusinessHoursEnd:    17,
		NotifyBeforeRespond: false,
	}
}

// SettingsStore reads and writes the settings key/value table.
type SettingsStore struct {
	pool PgxPool
}

func NewSettingsStore(pool PgxPool) *SettingsStore {
	if pool == nil {
		return nil
	}
	return &SettingsStore{pool: pool}
}

// Snapshot loads all settings in one query. Missing keys keep their
// defaults, so a fresh database behaves like the stock configuration.
func (s *SettingsStore) Snapshot(ctx context.Context) (Settings, error) {
	out := DefaultSettings()

	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return out, fmt.Errorf("store: load settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return out, fmt.Errorf("store: scan setting: %w", err)
		}
		switch key {
		case settingAutoReplyEnabled:
			out.AutoReplyEnabled = value == "true"
		case settingBusinessHoursStart:
			if v, err := strconv.Atoi(value); err == nil && v >= 0 && v <= 23 {
				out.BusinessHoursStart = v
			}
		case settingBusinessHoursEnd:
			if v, err := strconv.Atoi(value); err == nil && v >= 0 && v <= 23 {
				out.BusinessHoursEnd = v
			}
		case settingNotifyBeforeRespond:
			out.NotifyBeforeRespond = value == "true"
		case settingCustomInstructions:
			out.CustomInstructions = value
		}
	}
	return out, rows.Err()
}

// Save upserts the full settings snapshot.
func (s *SettingsStore) Save(ctx context.Context, set Settings) error {
	pairs := map[string]string{
		settingAutoReplyEnabled:    strconv.FormatBool(set.AutoReplyEnabled),
		settingBusinessHoursStart:  strconv.Itoa(set.BusinessHoursStart),
		settingBusinessHoursEnd:    strconv.Itoa(set.BusinessHoursEnd),
		settingNotifyBeforeRespond: strconv.FormatBool(set.NotifyBeforeRespond),
		settingCustomInstructions:  set.CustomInstructions,
	}
	for key, value := range pairs {
		if err := s.put(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SettingsStore) put(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: put setting %s: %w", key, err)
	}
	return nil
}
