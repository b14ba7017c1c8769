package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListTools lists the tools advertised to the model.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools": h.service.Tools(),
	})
}
