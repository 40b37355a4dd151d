package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/core/settings"
)

type publicApi struct {
	content  *content.Service
	settings *settings.Service
	logger   core.Logger
}

func registerPublicAPI(v1 *echo.Group, opts *Options) {
	api := publicApi{content: opts.ContentSvc, settings: opts.SettingsSvc, logger: opts.Logger}

	pg := v1.Group("/public", maintenanceMiddleware(opts.Security), shieldMiddleware(opts.Shield, opts.Security))
	pg.GET("/seo", api.seo)

	cg := pg.Group("/:collection", collectionMiddleware)
	cg.GET("", api.query)
	cg.GET("/watch", api.watch)
	cg.GET("/:slug", api.retrieve)
}

func (api *publicApi) seo(ctx echo.Context) error {
	seo, err := api.settings.SEO(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting seo settings")
	}
	return ctx.JSON(http.StatusOK, seo)
}

func bindPublicQuery(ctx echo.Context) (content.QueryFilter, []core.DBOrdering, error) {
	var filter content.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return content.QueryFilter{}, nil, errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Published = nil // forced by the service
	ordering := new(Ordering)
	ordering.Bind(ctx)
	return filter, ordering.Orderings, nil
}

func (api *publicApi) query(ctx echo.Context) error {
	filter, ordering, err := bindPublicQuery(ctx)
	if err != nil {
		return err
	}
	docs, err := api.content.ListPublished(ctx.Request().Context(), getContextCollection(ctx), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "listing published documents")
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *publicApi) retrieve(ctx echo.Context) error {
	d, err := api.content.GetPublished(ctx.Request().Context(), getContextCollection(ctx), ctx.Param("slug"))
	if err != nil {
		return errors.Wrap(err, "getting published document")
	}
	return ctx.JSON(http.StatusOK, d)
}

// watch pushes the published list of a collection on every change.
// A failed reload keeps the last list the client got.
func (api *publicApi) watch(ctx echo.Context) error {
	coll := getContextCollection(ctx)
	filter, ordering, err := bindPublicQuery(ctx)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader replied already
	}
	defer conn.Close()

	wctx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	// the client only ever closes the stream
	conn.SetReadLimit(wsMaxMessageBytes)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	snaps, stop := api.content.WatchPublished(wctx, coll, filter, ordering)
	defer stop()
	for snap := range snaps {
		if snap.Err != nil {
			api.logger.Warn("watching published documents", snap.Err, map[string]interface{}{"collection": coll})
			continue
		}
		if err = writeJSON(conn, snap.Value); err != nil {
			return nil
		}
	}
	closeNormally(conn)
	return nil
}
