package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"sep_psp/internal/bankapi"
	"sep_psp/internal/routing"
)

// NetworkHandler is the card network: it forwards authorizations and refunds to the issuing bank
type NetworkHandler struct {
	forwarder *routing.Forwarder
}

func NewNetworkHandler(forwarder *routing.Forwarder) *NetworkHandler {
	return &NetworkHandler{forwarder: forwarder}
}

func (h *NetworkHandler) Authorize(c echo.Context) error {
	var req bankapi.NetworkRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	resp, err := h.forwarder.Authorize(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *NetworkHandler) Refund(c echo.Context) error {
	var req bankapi.NetworkRefundRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	resp, err := h.forwarder.Refund(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
