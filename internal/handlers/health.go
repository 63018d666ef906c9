package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandler reports liveness of a process
type HealthHandler struct {
	service string
}

func NewHealthHandler(service string) *HealthHandler {
	return &HealthHandler{service: service}
}

func (h *HealthHandler) Health(c echo.Context) error {
	return respond(c, http.StatusOK, "ok", map[string]string{"service": h.service})
}

// Metrics exposes the prometheus registry
func Metrics() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
