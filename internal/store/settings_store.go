package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/assetdash/internal/model"
)

// GetSettings returns the stored preferences, or the defaults when none
// were saved.
func (s *SQLiteStore) GetSettings(ctx context.Context) (model.Settings, error) {
	var data string
	err := s.db.GetContext(ctx, &data, "SELECT data FROM settings WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("reading settings: %w", err)
	}

	var out model.Settings
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return model.Settings{}, fmt.Errorf("unmarshaling settings: %w", err)
	}
	return out, nil
}

// SaveSettings replaces the stored preferences.
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (id, data, updated_at) VALUES (1, ?, ?)",
		string(data), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
