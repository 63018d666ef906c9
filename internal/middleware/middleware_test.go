package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation", apperror.Validation("amount must be positive"), http.StatusBadRequest, "VALIDATION_ERROR", "amount must be positive"},
		{"not found", apperror.NotFound("transaction not found"), http.StatusNotFound, "NOT_FOUND", "transaction not found"},
		{"insufficient funds", apperror.InsufficientFunds("insufficient funds"), http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", "insufficient funds"},
		{"signature", apperror.Signature("invalid signature"), http.StatusUnauthorized, "SIGNATURE_VERIFICATION_ERROR", "invalid signature"},
		{"external", apperror.ExternalService(errors.New("dial tcp"), "bank is unavailable"), http.StatusBadGateway, "EXTERNAL_SERVICE_ERROR", "bank is unavailable"},
		{"echo not found", echo.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Not Found"},
		{"echo bad request", echo.NewHTTPError(http.StatusBadRequest, "invalid body"), http.StatusBadRequest, "VALIDATION_ERROR", "invalid body"},
		{"unclassified", errors.New("pq: connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/payments/x", nil), rec)

			ErrorHandler(tt.err, c)

			if rec.Code != tt.status {
				t.Errorf("status = %d, expected %d", rec.Code, tt.status)
			}
			var body ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Success || body.ErrorCode != tt.code || body.Message != tt.message {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		supplied   string
		status     int
	}{
		{"valid", "k1", "k1", http.StatusOK},
		{"missing", "k1", "", http.StatusUnauthorized},
		{"wrong", "k1", "k2", http.StatusUnauthorized},
		{"not configured", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.HTTPErrorHandler = ErrorHandler
			e.POST("/internal", func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			}, RequireAPIKey(tt.configured))

			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tt.supplied != "" {
				req.Header.Set(bankapi.APIKeyHeader, tt.supplied)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, expected %d", rec.Code, tt.status)
			}
		})
	}
}

func TestMetricsKeepsErrorStatus(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	e.Use(Metrics())
	e.GET("/fail", func(c echo.Context) error {
		return apperror.Conflict("already processed")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, expected 409", rec.Code)
	}
}
