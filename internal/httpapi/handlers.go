package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"posengine/backend/internal/domain"
	"posengine/backend/internal/service"
)

type refundBody struct {
	Lines      []domain.RefundLineRequest `json:"lines"`
	Reason     string                     `json:"reason"`
	ManagerPIN string                     `json:"manager_pin"`
}

type voidBody struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleQuote(c *gin.Context) {
	req, ok := a.bindCart(c)
	if !ok {
		return
	}
	built, err := a.service.Quote(c.Request.Context(), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, built)
}

func (a *API) handleCheckout(c *gin.Context) {
	req, ok := a.bindCart(c)
	if !ok {
		return
	}
	result, err := a.service.Checkout(c.Request.Context(), req)
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (a *API) bindCart(c *gin.Context) (domain.CartRequest, bool) {
	var req domain.CartRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_body", err)
		return req, false
	}
	actor := actorFrom(c)
	req.CompanyID = actor.CompanyID
	req.CashierID = actor.UserID
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}
	return req, true
}

func (a *API) handleListSales(c *gin.Context) {
	from, err := parseTimeParam(c, "from")
	if err != nil {
		writeError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		writeError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}

	sales, err := a.service.ListSales(c.Request.Context(), domain.SaleListQuery{
		CompanyID: actorFrom(c).CompanyID,
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(c.Query("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (a *API) handleGetSale(c *gin.Context) {
	sale, err := a.service.GetSale(c.Request.Context(), actorFrom(c).CompanyID, c.Param("id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (a *API) handleReceipt(c *gin.Context) {
	view, err := a.service.Receipt(c.Request.Context(), actorFrom(c).CompanyID, c.Param("id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) handleListRefunds(c *gin.Context) {
	refunds, err := a.service.ListRefunds(c.Request.Context(), actorFrom(c).CompanyID, c.Param("id"))
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

func (a *API) handleRefund(c *gin.Context) {
	var body refundBody
	if err := decodeJSON(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if !a.checkManagerPIN(c, "refund", body.ManagerPIN) {
		return
	}

	actor := actorFrom(c)
	result, err := a.service.Refund(c.Request.Context(), domain.RefundRequest{
		CompanyID: actor.CompanyID,
		SaleID:    c.Param("id"),
		ActorID:   actor.UserID,
		Lines:     body.Lines,
		Reason:    body.Reason,
	})
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleVoid(c *gin.Context) {
	var body voidBody
	if err := decodeJSON(c, &body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if !a.checkManagerPIN(c, "void", body.ManagerPIN) {
		return
	}

	actor := actorFrom(c)
	sale, err := a.service.Void(c.Request.Context(), domain.VoidRequest{
		CompanyID: actor.CompanyID,
		SaleID:    c.Param("id"),
		ActorID:   actor.UserID,
		Reason:    body.Reason,
	})
	if err != nil {
		a.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (a *API) checkManagerPIN(c *gin.Context, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(c.Request)) {
		writeError(c, http.StatusTooManyRequests, "too_many_attempts", errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		a.log.Warn().
			Str("action", action).
			Str("actor", actorFrom(c).UserID).
			Str("client", clientKey(c.Request)).
			Msg("invalid manager pin")
		writeError(c, http.StatusForbidden, "invalid_manager_pin", errors.New("invalid manager pin"))
		return false
	}
	return true
}

func actorFrom(c *gin.Context) domain.Actor {
	actor, _ := service.ActorFromContext(c.Request.Context())
	return actor
}

func decodeJSON(c *gin.Context, dest any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parseTimeParam(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return parsed.UTC(), nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
