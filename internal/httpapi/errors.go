package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"posengine/backend/internal/store"
)

type errorDetail struct {
	Index      *int   `json:"index,omitempty"`
	Field      string `json:"field,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	SaleLineID string `json:"sale_line_id,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Requested  *int   `json:"requested,omitempty"`
	Available  *int   `json:"available,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{store.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{store.ErrProductNotFound, http.StatusUnprocessableEntity, "product_not_found"},
	{store.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{store.ErrInsufficientPayment, http.StatusUnprocessableEntity, "insufficient_payment"},
	{store.ErrStockConflict, http.StatusConflict, "stock_conflict"},
	{store.ErrCommitTimeout, http.StatusServiceUnavailable, "commit_timeout"},
	{store.ErrSaleNotFound, http.StatusNotFound, "sale_not_found"},
	{store.ErrSaleLineNotFound, http.StatusUnprocessableEntity, "sale_line_not_found"},
	{store.ErrRefundExceedsAvailable, http.StatusConflict, "refund_exceeds_available"},
	{store.ErrInvalidStatus, http.StatusConflict, "invalid_status"},
}

func classifyError(err error) (int, string) {
	for _, known := range errorCodes {
		if errors.Is(err, known.err) {
			return known.status, known.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError renders an engine error with enough context for the
// terminal to correct the request, and flags the retryable ones.
func (a *API) writeServiceError(c *gin.Context, err error) {
	var cartErr *store.CartError
	if errors.As(err, &cartErr) {
		details := make([]errorDetail, 0, len(cartErr.Results))
		for _, result := range cartErr.Results {
			detail := describe(result.Err)
			index := result.Index
			detail.Index = &index
			detail.ProductID = result.ProductID
			details = append(details, detail)
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":     err.Error(),
			"code":      "cart_rejected",
			"retryable": false,
			"details":   details,
		})
		return
	}

	status, code := classifyError(err)
	if status >= http.StatusInternalServerError && code == "internal_error" {
		a.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}

	payload := gin.H{
		"error":     publicMessage(status, code, err),
		"code":      code,
		"retryable": store.IsRetryable(err),
	}
	if details := lineDetails(err); len(details) > 0 {
		payload["details"] = details
	}
	c.AbortWithStatusJSON(status, payload)
}

func writeError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":     publicMessage(status, code, err),
		"code":      code,
		"retryable": false,
	})
}

// publicMessage hides internal faults; everything in the taxonomy is
// safe to show the terminal.
func publicMessage(status int, code string, err error) string {
	if status >= http.StatusInternalServerError && code == "internal_error" {
		return "internal server error"
	}
	return err.Error()
}

func describe(err error) errorDetail {
	_, code := classifyError(err)
	detail := errorDetail{Code: code, Message: err.Error()}

	var field *store.FieldError
	var stock *store.StockError
	var product *store.ProductError
	var line *store.LineError
	switch {
	case errors.As(err, &field):
		detail.Field = field.Field
		detail.Message = field.Message
	case errors.As(err, &stock):
		detail.ProductID = stock.ProductID
		detail.Requested = &stock.Requested
		detail.Available = &stock.Available
	case errors.As(err, &product):
		detail.ProductID = product.ProductID
	case errors.As(err, &line):
		detail.SaleLineID = line.SaleLineID
		detail.Requested = &line.Requested
		detail.Available = &line.Available
	}
	return detail
}

// lineDetails flattens a joined refund error into one detail per line.
func lineDetails(err error) []errorDetail {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	details := make([]errorDetail, 0, len(errs))
	for _, e := range errs {
		var line *store.LineError
		var stock *store.StockError
		var field *store.FieldError
		if errors.As(e, &line) || errors.As(e, &stock) || errors.As(e, &field) {
			details = append(details, describe(e))
		}
	}
	return details
}
