package settings

import (
	"time"

	"github.com/trezcool/campus/core"
)

// Setting keys
const (
	KeySecurity = "security"
	KeySEO      = "seo"
)

type RateLimit struct {
	MaxRefreshes         int `json:"max_refreshes" validate:"min=1"`
	RefreshWindowSeconds int `json:"refresh_window_seconds" validate:"min=1"`
	BlockDurationMinutes int `json:"block_duration_minutes" validate:"min=1"`
}

func (rl RateLimit) Window() time.Duration {
	return time.Duration(rl.RefreshWindowSeconds) * time.Second
}

func (rl RateLimit) BlockDuration() time.Duration {
	return time.Duration(rl.BlockDurationMinutes) * time.Minute
}

// Security holds the global security settings.
type Security struct {
	IsActive        bool      `json:"is_active"` // login shield
	MigrationMode   bool      `json:"migration_mode"`
	RateLimit       RateLimit `json:"rate_limit"`
	MaintenanceMode bool      `json:"maintenance_mode"`
	UpdatedAt       time.Time `json:"updated_at"`
	UpdatedBy       string    `json:"updated_by"`
}

// DefaultSecurity is used while no security settings are stored.
func DefaultSecurity() Security {
	return Security{
		RateLimit: RateLimit{
			MaxRefreshes:         30,
			RefreshWindowSeconds: 60,
			BlockDurationMinutes: 15,
		},
	}
}

// UpdateSecurity holds the security settings to change; nil fields are kept.
type UpdateSecurity struct {
	IsActive        *bool      `json:"is_active"`
	MigrationMode   *bool      `json:"migration_mode"`
	RateLimit       *RateLimit `json:"rate_limit"`
	MaintenanceMode *bool      `json:"maintenance_mode"`
}

func (us UpdateSecurity) apply(sec Security) Security {
	if us.IsActive != nil {
		sec.IsActive = *us.IsActive
	}
	if us.MigrationMode != nil {
		sec.MigrationMode = *us.MigrationMode
	}
	if us.RateLimit != nil {
		sec.RateLimit = *us.RateLimit
	}
	if us.MaintenanceMode != nil {
		sec.MaintenanceMode = *us.MaintenanceMode
	}
	return sec
}

type SEO struct {
	SiteTitle       string    `json:"site_title" validate:"required,max=70"`
	MetaDescription string    `json:"meta_description" validate:"max=160"`
	Keywords        []string  `json:"keywords" validate:"omitempty,dive,required,max=50"`
	OGImage         string    `json:"og_image" validate:"omitempty,url"`
	CanonicalURL    string    `json:"canonical_url" validate:"omitempty,url"`
	RobotsIndex     bool      `json:"robots_index"`
	UpdatedAt       time.Time `json:"updated_at"`
	UpdatedBy       string    `json:"updated_by"`
}

func DefaultSEO() SEO {
	return SEO{
		SiteTitle:    core.Conf.AppName,
		Keywords:     []string{},
		CanonicalURL: core.Conf.FrontendBaseURL,
		RobotsIndex:  true,
	}
}

func (s *SEO) Clean() {
	s.SiteTitle = core.CleanString(s.SiteTitle)
	s.MetaDescription = core.CleanString(s.MetaDescription)
	s.OGImage = core.CleanString(s.OGImage)
	s.CanonicalURL = core.CleanString(s.CanonicalURL)
	kws := make([]string, 0, len(s.Keywords))
	for _, kw := range s.Keywords {
		if kw = core.CleanString(kw, true /* lower */); kw != "" {
			kws = append(kws, kw)
		}
	}
	s.Keywords = kws
}
