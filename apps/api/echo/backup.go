package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
)

type backupApi struct {
	content  *content.Service
	settings *settings.Service
	sessions *session.Service
}

func registerBackupAPI(admin *echo.Group, opts *Options) {
	api := backupApi{content: opts.ContentSvc, settings: opts.SettingsSvc, sessions: opts.SessionSvc}
	admin.GET("/backup", api.export, gateMiddleware(opts.Table, opts.Security, page(opts.Table.BackupPath)))
}

type (
	Backup struct {
		GeneratedAt time.Time                               `json:"generated_at"`
		Content     map[content.Collection][]content.Document `json:"content"`
		Settings    BackupSettings                          `json:"settings"`
	}

	BackupSettings struct {
		Security settings.Security `json:"security"`
		SEO      settings.SEO      `json:"seo"`
	}
)

func (api *backupApi) export(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	docs, err := api.content.Export(rctx)
	if err != nil {
		return errors.Wrap(err, "exporting content")
	}
	sec, err := api.settings.Security(rctx)
	if err != nil {
		return errors.Wrap(err, "getting security settings")
	}
	seo, err := api.settings.SEO(rctx)
	if err != nil {
		return errors.Wrap(err, "getting seo settings")
	}

	now := time.Now().UTC()
	if actor, err := getActor(ctx); err == nil {
		api.sessions.RecordActivity(rctx, actor.SessionID, session.ActionExport, "backup", now.Format(time.RFC3339))
	}

	filename := fmt.Sprintf("campus-backup-%s.json", now.Format("20060102-150405"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.JSON(http.StatusOK, Backup{
		GeneratedAt: now,
		Content:     docs,
		Settings:    BackupSettings{Security: sec, SEO: seo},
	})
}
