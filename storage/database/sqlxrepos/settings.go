package sqlxrepos

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/settings"
)

type settingsRepository struct {
	db *sqlx.DB
}

var _ settings.Repository = (*settingsRepository)(nil)

func NewSettingsRepository(db *sqlx.DB) settings.Repository {
	return &settingsRepository{db: db}
}

func (repo *settingsRepository) GetSetting(ctx context.Context, key string, dst interface{}) error {
	var raw []byte
	if err := repo.db.GetContext(ctx, &raw, "SELECT value FROM settings WHERE key = $1", key); err != nil {
		return trapNoRowsErr(err, errors.Wrap(core.ErrNotFound, key))
	}
	return errors.Wrap(json.Unmarshal(raw, dst), "decoding setting")
}

func (repo *settingsRepository) SaveSetting(ctx context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encoding setting")
	}
	_, err = repo.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, string(raw),
	)
	return err
}
