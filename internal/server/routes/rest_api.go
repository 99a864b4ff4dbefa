package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/usecase"
)

func RegisterRestAPI(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api/deployments")
	outputKey := do.MustInvoke[*orchestrator.Controller](injector).OutputKey()

	// open event streams end when the server starts shutting down
	closing, closeStreams := context.WithCancel(context.Background())
	e.Server.RegisterOnShutdown(closeStreams)

	g.POST("", func(c echo.Context) error {
		type request struct {
			Instructions string            `json:"instructions"`
			Repo         string            `json:"repo"`
			Region       string            `json:"region"`
			TemplateDir  string            `json:"template_dir"`
			Vars         map[string]any    `json:"vars"`
			Tags         map[string]string `json:"tags"`
		}
		var req request
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}

		usecase := do.MustInvoke[usecase.StartDeploymentUsecase](injector)
		d, err := usecase.Execute(c.Request().Context(), entity.Parameters{
			Instructions: req.Instructions,
			Repo:         req.Repo,
			Region:       req.Region,
			TemplateDir:  req.TemplateDir,
			Vars:         req.Vars,
			Tags:         req.Tags,
		})
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			ID     entity.ID               `json:"id"`
			Status entity.DeploymentStatus `json:"status"`
		}
		return c.JSON(http.StatusCreated, &response{ID: d.ID, Status: d.Status})
	})
	g.GET("", func(c echo.Context) error {
		usecase := do.MustInvoke[usecase.ListDeploymentUsecase](injector)
		deployments, err := usecase.Execute(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			Deployments []entity.Snapshot `json:"deployments"`
		}
		return c.JSON(http.StatusOK, &response{
			Deployments: lo.Map(deployments, func(d *entity.Deployment, _ int) entity.Snapshot {
				return d.Snapshot(outputKey)
			}),
		})
	})
	g.GET("/:id", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.GetDeploymentUsecase](injector)
		d, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, d.Snapshot(outputKey))
	})
	g.GET("/:id/outputs", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.GetDeploymentOutputsUsecase](injector)
		outputs, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			ID      entity.ID      `json:"id"`
			Outputs map[string]any `json:"outputs"`
		}
		return c.JSON(http.StatusOK, &response{ID: id, Outputs: outputs})
	})
	g.GET("/:id/events", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		from, err := eventCursor(c)
		if err != nil {
			return respondError(c, err)
		}
		if wantsStream(c) {
			return streamEvents(c, injector, closing, id, from)
		}

		usecase := do.MustInvoke[usecase.ListDeploymentEventsUsecase](injector)
		events, err := usecase.Execute(c.Request().Context(), id, from)
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			Events []*entity.Event `json:"events"`
		}
		result := &response{Events: make([]*entity.Event, len(events))}
		copy(result.Events, events)
		return c.JSON(http.StatusOK, result)
	})
	g.POST("/:id/destroy", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		usecase := do.MustInvoke[usecase.DestroyDeploymentUsecase](injector)
		d, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}

		type response struct {
			ID     entity.ID               `json:"id"`
			Status entity.DeploymentStatus `json:"status"`
		}
		return c.JSON(http.StatusAccepted, &response{ID: d.ID, Status: d.Status})
	})
}

// eventCursor reads the sequence to resume after from Last-Event-ID or the
// from query parameter, in that order.
func eventCursor(c echo.Context) (int64, error) {
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("from")
	}
	if raw == "" {
		return 0, nil
	}
	from, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || from < 0 {
		return 0, errors.Join(entity.ErrInvalid, errors.New("cursor must be a non-negative sequence"))
	}
	return from, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrConflict), errors.Is(err, entity.ErrNotReady):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func respondError(c echo.Context, err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
		return c.JSON(status, errorBody(errors.New(http.StatusText(status))))
	}
	return c.JSON(status, errorBody(err))
}
