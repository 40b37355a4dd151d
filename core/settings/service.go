package settings

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// Topic is the notification topic of settings; keys are setting keys.
const Topic = "settings"

type (
	// Repository stores settings as JSON documents under a key.
	Repository interface {
		// GetSetting decodes the setting stored under key into dst.
		GetSetting(ctx context.Context, key string, dst interface{}) error
		SaveSetting(ctx context.Context, key string, val interface{}) error
	}

	// SecuritySource provides the current security settings.
	SecuritySource interface {
		Security(ctx context.Context) (Security, error)
	}

	Service struct {
		repo     Repository
		notifier core.Notifier
		validate *validator.Validate
	}
)

var _ SecuritySource = (*Service)(nil)

func NewService(repo Repository, notifier core.Notifier, validate *validator.Validate) *Service {
	return &Service{repo: repo, notifier: notifier, validate: validate}
}

// Security returns the stored security settings, or the defaults when there are none.
func (svc *Service) Security(ctx context.Context) (Security, error) {
	sec := DefaultSecurity()
	if err := svc.repo.GetSetting(ctx, KeySecurity, &sec); err != nil {
		if core.IsNotFound(err) {
			return DefaultSecurity(), nil
		}
		return Security{}, errors.Wrap(err, "getting security settings")
	}
	return sec, nil
}

func (svc *Service) UpdateSecurity(ctx context.Context, us UpdateSecurity, by string) (Security, error) {
	if us.RateLimit != nil {
		if err := svc.validate.Struct(us.RateLimit); err != nil {
			return Security{}, err
		}
	}
	sec, err := svc.Security(ctx)
	if err != nil {
		return Security{}, err
	}
	sec = us.apply(sec)
	sec.UpdatedAt = time.Now().UTC()
	sec.UpdatedBy = by

	if err = svc.repo.SaveSetting(ctx, KeySecurity, sec); err != nil {
		return Security{}, errors.Wrap(err, "saving security settings")
	}
	return sec, nil
}

// WatchSecurity streams the security settings; a missing record is reported as the defaults.
func (svc *Service) WatchSecurity(ctx context.Context) (<-chan core.Snapshot[Security], func()) {
	return core.Watch(ctx, svc.notifier, Topic, KeySecurity, svc.Security)
}

func (svc *Service) SEO(ctx context.Context) (SEO, error) {
	seo := DefaultSEO()
	if err := svc.repo.GetSetting(ctx, KeySEO, &seo); err != nil {
		if core.IsNotFound(err) {
			return DefaultSEO(), nil
		}
		return SEO{}, errors.Wrap(err, "getting seo settings")
	}
	return seo, nil
}

func (svc *Service) UpdateSEO(ctx context.Context, seo SEO, by string) (SEO, error) {
	seo.Clean()
	if err := svc.validate.Struct(seo); err != nil {
		return SEO{}, err
	}
	seo.UpdatedAt = time.Now().UTC()
	seo.UpdatedBy = by

	if err := svc.repo.SaveSetting(ctx, KeySEO, seo); err != nil {
		return SEO{}, errors.Wrap(err, "saving seo settings")
	}
	return seo, nil
}

// SecurityCache keeps the latest security settings in memory from a watch.
// Read errors keep the last known settings.
type SecurityCache struct {
	mu      sync.RWMutex
	current Security
	ready   chan struct{}
	once    sync.Once
}

var _ SecuritySource = (*SecurityCache)(nil)

func NewSecurityCache() *SecurityCache {
	return &SecurityCache{current: DefaultSecurity(), ready: make(chan struct{})}
}

// Run feeds the cache until ctx is done.
func (c *SecurityCache) Run(ctx context.Context, svc *Service, logger core.Logger) {
	snaps, cancel := svc.WatchSecurity(ctx)
	defer cancel()
	for snap := range snaps {
		if snap.Err != nil {
			logger.Warn("watching security settings", snap.Err)
			continue
		}
		c.mu.Lock()
		c.current = snap.Value
		c.mu.Unlock()
		c.once.Do(func() { close(c.ready) })
	}
}

// Ready is closed once the first settings are loaded.
func (c *SecurityCache) Ready() <-chan struct{} { return c.ready }

func (c *SecurityCache) Security(context.Context) (Security, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, nil
}
