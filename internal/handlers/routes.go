package handlers

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"sep_psp/internal/middleware"
)

// NewEcho builds an echo instance with the shared error handler and middleware stack
func NewEcho(service string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Metrics())

	health := NewHealthHandler(service)
	e.GET("/health", health.Health)
	e.GET("/metrics", Metrics())
	return e
}

// RegisterPSPRoutes mounts the merchant API and the callback ingress
func RegisterPSPRoutes(e *echo.Echo, payments *PaymentHandler, callbacks *CallbackHandler, apiKey string) {
	api := e.Group("/api")

	api.POST("/payments", payments.CreatePayment)
	api.GET("/payments/:id", payments.GetStatus)
	api.GET("/payments/:id/methods", payments.GetMethods)
	api.POST("/payments/:id/process", payments.ProcessPayment)
	api.POST("/payments/:id/refund", payments.Refund)
	api.POST("/qr/validate", payments.ValidateQR)

	api.POST("/callbacks/:system", callbacks.ServerCallback, middleware.RequireAPIKey(apiKey))
	api.GET("/callbacks/:type/return", callbacks.BrowserReturn)
	api.POST("/callbacks/midtrans/notification", callbacks.MidtransNotification)
	api.POST("/webhooks/crypto", callbacks.CryptoWebhook)
}

// RegisterBankRoutes mounts a bank's internal API; every route requires the internal api key
func RegisterBankRoutes(e *echo.Echo, bank *BankHandler, apiKey string) {
	api := e.Group("/api", middleware.RequireAPIKey(apiKey))

	api.POST("/card-payments", bank.CardPayment)
	api.GET("/payments/:orderId", bank.PaymentStatus)
	api.POST("/payments/:orderId/refund", bank.Refund)
	api.POST("/issuer/authorize", bank.IssuerAuthorize)
	api.POST("/issuer/refund", bank.IssuerRefund)
	api.POST("/qr/generate", bank.GenerateQR)
	api.POST("/qr/pay", bank.PayQR)
}

// RegisterNetworkRoutes mounts the card network API
func RegisterNetworkRoutes(e *echo.Echo, network *NetworkHandler, apiKey string) {
	api := e.Group("/api/network", middleware.RequireAPIKey(apiKey))

	api.POST("/authorize", network.Authorize)
	api.POST("/refund", network.Refund)
}
