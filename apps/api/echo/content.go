package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/services/metrics"
)

const contextCollectionKey = "collection"

type contentApi struct {
	svc *content.Service
}

func registerContentAPI(admin *echo.Group, opts *Options) {
	api := contentApi{svc: opts.ContentSvc}

	// each collection is edited from its own admin page
	cg := admin.Group("/content/:collection",
		collectionMiddleware,
		gateMiddleware(opts.Table, opts.Security, func(ctx echo.Context) string {
			return "/admin/" + ctx.Param("collection")
		}),
	)
	cg.GET("", api.query)
	cg.POST("", api.create)
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update)
	cg.DELETE("/:id", api.destroy)
}

// collectionMiddleware resolves the :collection path param; unknown collections are not found.
func collectionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		coll, ok := content.ParseCollection(ctx.Param("collection"))
		if !ok {
			return errHttpNotFound
		}
		ctx.Set(contextCollectionKey, coll)
		return next(ctx)
	}
}

func getContextCollection(ctx echo.Context) content.Collection {
	coll, _ := ctx.Get(contextCollectionKey).(content.Collection)
	return coll
}

func (api *contentApi) query(ctx echo.Context) error {
	var filter content.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []content.Document{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	docs, err := api.svc.List(ctx.Request().Context(), getContextCollection(ctx), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "listing documents")
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *contentApi) retrieve(ctx echo.Context) error {
	d, err := api.svc.Get(ctx.Request().Context(), getContextCollection(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting document")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *contentApi) create(ctx echo.Context) error {
	var data content.DocumentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DocumentInput")
	}
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	coll := getContextCollection(ctx)
	d, err := api.svc.Create(ctx.Request().Context(), coll, data, actor)
	if err != nil {
		return errors.Wrap(err, "creating document")
	}
	metrics.ContentWritesTotal.WithLabelValues(string(coll), "create").Inc()
	return ctx.JSON(http.StatusCreated, d)
}

func (api *contentApi) update(ctx echo.Context) error {
	var data content.DocumentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DocumentInput")
	}
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	coll := getContextCollection(ctx)
	d, err := api.svc.Update(ctx.Request().Context(), coll, ctx.Param("id"), data, actor)
	if err != nil {
		return errors.Wrap(err, "updating document")
	}
	metrics.ContentWritesTotal.WithLabelValues(string(coll), "update").Inc()
	return ctx.JSON(http.StatusOK, d)
}

func (api *contentApi) destroy(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	coll := getContextCollection(ctx)
	if err = api.svc.Delete(ctx.Request().Context(), coll, ctx.Param("id"), actor); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	metrics.ContentWritesTotal.WithLabelValues(string(coll), "delete").Inc()
	return ctx.NoContent(http.StatusNoContent)
}
