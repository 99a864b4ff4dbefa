package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"gorm.io/gorm"
)

// RegisterMisc serves the health check. It fails when the store is
// unreachable, since nothing works without it.
func RegisterMisc(injector *do.Injector, e *echo.Echo) {
	e.GET("/api/health", func(c echo.Context) error {
		ctx := c.Request().Context()
		db, err := do.MustInvoke[*gorm.DB](injector).DB()
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("health check failed")
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
		return c.String(http.StatusOK, "OK")
	})
}
