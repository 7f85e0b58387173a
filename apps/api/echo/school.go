package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mnada/core/school"
)

var errSchNotFoundInCtx = errors.New("school object not found in echo.Context")

type schoolApi struct {
	svc *school.Service
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := schoolApi{svc: deps.SchoolSvc}

	sg := g.Group("/schools")

	// public: the active school list backing the signup and browsing pages
	sg.GET("", api.listActive)

	// admin endpoints
	ag := sg.Group("", jwt, fullAuthMiddleware(), adminMiddleware())
	ag.GET("/all", api.query)
	ag.POST("", api.create)
	ag.POST("/import", api.importCSV)

	dg := ag.Group("/:id", schoolObjectMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
}

// Handlers

func (api *schoolApi) listActive(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Active(ctx.Request().Context()))
}

func (api *schoolApi) query(ctx echo.Context) error {
	filter := new(school.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []school.School{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	schools, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying schools")
	}
	if schools == nil {
		schools = []school.School{}
	}
	return ctx.JSON(http.StatusOK, schools)
}

func (api *schoolApi) create(ctx echo.Context) error {
	var data school.NewSchool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchool")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	sch, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating school")
	}
	return ctx.JSON(http.StatusCreated, sch)
}

// importCSV bulk-creates schools from an uploaded CSV file
// (multipart field "file", header `name,slug,city,contact_email`).
func (api *schoolApi) importCSV(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing CSV file upload (field \"file\")")
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded CSV")
	}
	defer func() { _ = f.Close() }()

	res, err := api.svc.ImportCSV(ctx.Request().Context(), f)
	if err != nil {
		return errors.Wrap(err, "importing schools")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *schoolApi) retrieve(ctx echo.Context) error {
	sch, ok := ctx.Get("object").(school.School)
	if !ok {
		return errors.Wrap(errSchNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, sch)
}

func (api *schoolApi) update(ctx echo.Context) error {
	sch, ok := ctx.Get("object").(school.School)
	if !ok {
		return errors.Wrap(errSchNotFoundInCtx, "retrieving object from context")
	}

	var data school.UpdateSchool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSchool")
	}
	if err := data.Validate(sch, api.svc); err != nil {
		return err
	}

	sch, err := api.svc.Update(ctx.Request().Context(), sch.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating school")
	}
	return ctx.JSON(http.StatusOK, sch)
}

func (api *schoolApi) destroy(ctx echo.Context) error {
	sch, ok := ctx.Get("object").(school.School)
	if !ok {
		return errors.Wrap(errSchNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), sch.ID); err != nil {
		return errors.Wrap(err, "deleting school")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func schoolObjectMiddleware(svc *school.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sch, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == school.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding school by ID")
			}
			ctx.Set("object", sch)
			return next(ctx)
		}
	}
}
