package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingoverviewdomain "github.com/smallbiznis/usageledger/internal/billingoverview/domain"
	creditdomain "github.com/smallbiznis/usageledger/internal/credit/domain"
	eventdomain "github.com/smallbiznis/usageledger/internal/events/domain"
	invoicedomain "github.com/smallbiznis/usageledger/internal/invoice/domain"
	meterdomain "github.com/smallbiznis/usageledger/internal/meter/domain"
	paymentdomain "github.com/smallbiznis/usageledger/internal/payment/domain"
	ratingdomain "github.com/smallbiznis/usageledger/internal/rating/domain"
	subscriptiondomain "github.com/smallbiznis/usageledger/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/usageledger/internal/usage/domain"
	"github.com/smallbiznis/usageledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, meterdomain.ErrEventKeyExists),
		errors.Is(err, subscriptiondomain.ErrPlanExists),
		errors.Is(err, creditdomain.ErrPackExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredits),
		errors.Is(err, paymentdomain.ErrMissingMeteredItem):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "request body too large",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_not_configured",
			Message: "payment provider is not configured",
		}
	case errors.Is(err, paymentdomain.ErrTenantUnresolved):
		// non-2xx so the provider redelivers once the mapping exists
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "tenant_unresolved",
			Message: "tenant could not be resolved for event",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,
	usagedomain.ErrInvalidTenant,
	usagedomain.ErrInvalidEventKey,
	usagedomain.ErrInvalidQuantity,
	usagedomain.ErrInvalidIdempotencyKey,
	meterdomain.ErrInvalidEventKey,
	meterdomain.ErrInvalidName,
	meterdomain.ErrInvalidUnit,
	meterdomain.ErrInvalidAggregation,
	meterdomain.ErrInvalidRule,
	meterdomain.ErrInvalidCurrency,
	meterdomain.ErrInvalidUnitPrice,
	meterdomain.ErrInvalidWindow,
	ratingdomain.ErrInvalidWeightBounds,
	subscriptiondomain.ErrInvalidTenant,
	subscriptiondomain.ErrInvalidPlanCode,
	subscriptiondomain.ErrInvalidProvider,
	subscriptiondomain.ErrInvalidPriceID,
	subscriptiondomain.ErrInvalidCurrency,
	subscriptiondomain.ErrInvalidSubscriptionID,
	subscriptiondomain.ErrInvalidStatus,
	invoicedomain.ErrInvalidTenant,
	invoicedomain.ErrInvalidStatus,
	creditdomain.ErrInvalidTenant,
	creditdomain.ErrInvalidPackCode,
	creditdomain.ErrInvalidCredits,
	creditdomain.ErrInvalidSourceRef,
	creditdomain.ErrInvalidPriceID,
	paymentdomain.ErrInvalidTenant,
	paymentdomain.ErrInvalidCheckout,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidPayload,
	billingoverviewdomain.ErrInvalidTenant,
	billingoverviewdomain.ErrInvalidRange,
	eventdomain.ErrInvalidTenant,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, usagedomain.ErrNotFound),
		errors.Is(err, meterdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, creditdomain.ErrPackNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrPriceNotFound),
		errors.Is(err, paymentdomain.ErrCustomerNotFound),
		errors.Is(err, eventdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_page_token":
		return "page token is malformed"
	default:
		return "invalid value"
	}
}
