package inmemdb

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/settings"
)

type settingsRepository struct {
	db *DB
}

var _ settings.Repository = (*settingsRepository)(nil)

func NewSettingsRepository(db *DB) settings.Repository {
	return &settingsRepository{db: db}
}

func (repo *settingsRepository) GetSetting(_ context.Context, key string, dst interface{}) error {
	repo.db.mu.RLock()
	raw, ok := repo.db.settings[key]
	repo.db.mu.RUnlock()

	if !ok {
		return errors.Wrap(core.ErrNotFound, key)
	}
	return json.Unmarshal(raw, dst)
}

func (repo *settingsRepository) SaveSetting(_ context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encoding setting")
	}
	repo.db.mu.Lock()
	repo.db.settings[key] = raw
	repo.db.mu.Unlock()

	repo.db.publish(settings.Topic, key)
	return nil
}
