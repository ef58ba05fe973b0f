package workflow

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the workflow-inspection HTTP surface onto e:
// GET /api/workflows, POST /api/workflows, GET /api/workflows/runs/:runId,
// POST /api/workflows/runs/:runId/cancel.
func RegisterRoutes(e *echo.Echo, registry *Registry, rt *Runtime) {
	g := e.Group("/api/workflows")

	g.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, registry.List())
	})

	g.POST("", func(c echo.Context) error {
		var body struct {
			WorkflowID string                 `json:"workflowId"`
			Input      map[string]interface{} `json:"input"`
		}
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}
		runID, err := rt.StartRun(c.Request().Context(), body.WorkflowID, body.Input)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, errorBody(err))
		}
		return c.JSON(http.StatusAccepted, map[string]string{"runId": runID})
	})

	g.GET("/runs/:runId", func(c echo.Context) error {
		run, found, err := rt.GetRun(c.Param("runId"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody(err))
		}
		if !found {
			return c.NoContent(http.StatusNotFound)
		}
		return c.JSON(http.StatusOK, run)
	})

	g.POST("/runs/:runId/cancel", func(c echo.Context) error {
		if err := rt.Cancel(c.Param("runId")); err != nil {
			return c.JSON(http.StatusUnprocessableEntity, errorBody(err))
		}
		return c.NoContent(http.StatusNoContent)
	})
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
