// Package http provides the HTTP server of the chat service.
package http

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/xiaot623/gogo/dbchat/internal/service"
	v1 "github.com/xiaot623/gogo/dbchat/internal/transport/http/v1"
)

// NewServer creates and configures the public HTTP server. metrics, when not
// nil, is served at /metrics.
func NewServer(svc *service.Service, metrics http.Handler, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	return e
}
