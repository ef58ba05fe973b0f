package rules

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the admin surface onto e: GET /api/rules,
// POST /api/rules/:id/enable, POST /api/rules/:id/disable,
// GET /api/rules/stats, GET /api/rules/log.
func RegisterRoutes(e *echo.Echo, registry *Registry, engine *Engine) {
	g := e.Group("/api/rules")

	g.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, registry.List())
	})

	g.POST("/:id/enable", func(c echo.Context) error {
		if !registry.Enable(c.Param("id")) {
			return c.NoContent(http.StatusNotFound)
		}
		engine.Unquarantine(c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	})

	g.POST("/:id/disable", func(c echo.Context) error {
		if !registry.Disable(c.Param("id")) {
			return c.NoContent(http.StatusNotFound)
		}
		return c.NoContent(http.StatusNoContent)
	})

	g.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, engine.StatsSnapshot())
	})

	g.GET("/log", func(c echo.Context) error {
		n := 100
		return c.JSON(http.StatusOK, engine.ExecutionLog(n))
	})
}
