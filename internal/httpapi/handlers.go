package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/tokens"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	bearerPrefix       = "bearer "
	statusOK           = "ok"
	statusDuplicate    = "duplicate"
	maxEntryListLimit  = 200
	errorCodeInvalid   = "invalid_request"
	errorCodeToken     = "invalid_token"
	errorCodeNoGame    = "game_not_found"
	errorCodeDisabled  = "game_not_enabled"
	errorCodeClosed    = "round_closed"
	errorCodeFunds     = "insufficient_balance"
	errorCodeConflict  = "concurrent_modification"
	errorCodeInternal  = "internal_error"
	errorCodeSession   = "unauthorized"
	errorCodeWithdrawn = "withdrawal_rejected"
)

type httpHandler struct {
	cfg     Config
	service *ledger.Service
	tokens  TokenResolver
	logger  *zap.Logger
}

type callbackRequest struct {
	GameID        string           `json:"game_id"`
	TransactionID string           `json:"transaction_id"`
	RoundID       string           `json:"round_id"`
	Amount        *decimal.Decimal `json:"amount"`
	Detail        json.RawMessage  `json:"detail"`
	Final         bool             `json:"final"`
}

// callback is a validated provider request bound to the player behind its token.
type callback struct {
	identity      tokens.Identity
	providerID    ledger.ProviderID
	gameID        ledger.GameID
	transactionID ledger.TransactionID
	roundID       ledger.RoundID
	detail        ledger.DetailJSON
	body          callbackRequest
}

type balancePayload struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Frozen    string `json:"frozen"`
	Total     string `json:"total"`
}

type roundPayload struct {
	RoundID string `json:"round_id"`
	GameID  string `json:"game_id"`
	Status  string `json:"status"`
	Stake   string `json:"stake"`
	Payout  string `json:"payout"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Kind           string          `json:"kind"`
	Bucket         string          `json:"bucket"`
	Currency       string          `json:"currency"`
	Amount         string          `json:"amount"`
	Reference      string          `json:"reference,omitempty"`
	Note           json.RawMessage `json:"note"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type callbackResponse struct {
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	EventID       string          `json:"event_id,omitempty"`
	Balance       *balancePayload `json:"balance,omitempty"`
	Round         *roundPayload   `json:"round,omitempty"`
}

func (handler *httpHandler) handleBet(ctx *gin.Context) {
	call, ok := handler.bindCallback(ctx)
	if !ok {
		return
	}
	amount, err := toPositiveCents(call.body.Amount, handler.cfg.MinorUnits)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	result, err := handler.service.HandleBet(requestCtx, ledger.BetRequest{
		ProviderID:    call.providerID,
		GameID:        call.gameID,
		UserID:        call.identity.UserID,
		TransactionID: call.transactionID,
		RoundID:       call.roundID,
		Amount:        amount,
		Currency:      call.identity.Currency,
		Detail:        call.detail,
	})
	handler.respondCallback(requestCtx, ctx, call, result, err)
}

func (handler *httpHandler) handlePayout(ctx *gin.Context) {
	call, ok := handler.bindCallback(ctx)
	if !ok {
		return
	}
	amount, err := toCents(call.body.Amount, handler.cfg.MinorUnits)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	result, err := handler.service.HandlePayout(requestCtx, ledger.PayoutRequest{
		ProviderID:    call.providerID,
		GameID:        call.gameID,
		UserID:        call.identity.UserID,
		TransactionID: call.transactionID,
		RoundID:       call.roundID,
		Amount:        amount,
		Currency:      call.identity.Currency,
		Detail:        call.detail,
		Final:         call.body.Final,
	})
	handler.respondCallback(requestCtx, ctx, call, result, err)
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	call, ok := handler.bindCallback(ctx)
	if !ok {
		return
	}
	amount, err := toPositiveCents(call.body.Amount, handler.cfg.MinorUnits)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	result, err := handler.service.HandleRefund(requestCtx, ledger.RefundRequest{
		ProviderID:    call.providerID,
		GameID:        call.gameID,
		UserID:        call.identity.UserID,
		TransactionID: call.transactionID,
		RoundID:       call.roundID,
		Amount:        amount,
		Currency:      call.identity.Currency,
		Detail:        call.detail,
	})
	handler.respondCallback(requestCtx, ctx, call, result, err)
}

// bindCallback authenticates the bearer token and validates the body.
// It writes the error response itself and reports false on failure.
func (handler *httpHandler) bindCallback(ctx *gin.Context) (callback, bool) {
	token, found := bearerToken(ctx.GetHeader("Authorization"))
	if !found {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeToken, "missing bearer token"))
		return callback{}, false
	}
	identity, err := handler.tokens.Resolve(ctx.Request.Context(), token)
	if err != nil {
		handler.respondError(ctx, err)
		return callback{}, false
	}

	var body callbackRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalid, "expected JSON body"))
		return callback{}, false
	}
	call := callback{identity: identity, body: body}
	if call.providerID, err = ledger.NewProviderID(ctx.Param("provider")); err != nil {
		handler.respondError(ctx, err)
		return callback{}, false
	}
	if call.gameID, err = ledger.NewGameID(body.GameID); err != nil {
		handler.respondError(ctx, err)
		return callback{}, false
	}
	if call.transactionID, err = ledger.NewTransactionID(body.TransactionID); err != nil {
		handler.respondError(ctx, err)
		return callback{}, false
	}
	if call.roundID, err = ledger.NewRoundID(body.RoundID); err != nil {
		handler.respondError(ctx, err)
		return callback{}, false
	}
	if call.detail, err = ledger.NewDetailJSON(string(body.Detail)); err != nil {
		handler.respondError(ctx, err)
		return callback{}, false
	}
	return call, true
}

func (handler *httpHandler) respondCallback(requestCtx context.Context, ctx *gin.Context, call callback, result ledger.CallbackResult, err error) {
	response := callbackResponse{TransactionID: call.transactionID.String(), EventID: result.Event.EventID}
	switch {
	case err == nil:
		response.Status = statusOK
		response.Balance = handler.balancePayload(result.Balance)
		if result.OrderFound {
			response.Round = handler.roundPayload(result.Order)
		}
	case ledger.Classify(err) == ledger.ErrorClassDuplicate:
		response.Status = statusDuplicate
		balance, balanceErr := handler.service.Balance(requestCtx, call.identity.UserID, call.identity.Currency)
		if balanceErr != nil {
			handler.logger.Warn("balance lookup after duplicate failed", zap.Error(balanceErr))
		} else {
			response.Balance = handler.balancePayload(balance)
		}
	default:
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	currency, err := ledger.NewCurrency(ctx.Param("currency"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	balance, err := handler.service.Balance(requestCtx, userID, currency)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": handler.balancePayload(balance)})
}

func (handler *httpHandler) handleBalances(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	balances, err := handler.service.Balances(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]*balancePayload, 0, len(balances))
	for _, balance := range balances {
		payload = append(payload, handler.balancePayload(balance))
	}
	ctx.JSON(http.StatusOK, gin.H{"balances": payload})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	userID, ok := sessionUser(ctx)
	if !ok {
		return
	}
	filter := ledger.EntryFilter{UserID: userID, Limit: defaultEntryListLimit}
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 || limit > maxEntryListLimit {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalid, "limit must be between 1 and 200"))
			return
		}
		filter.Limit = limit
	}
	if rawCurrency := ctx.Query("currency"); rawCurrency != "" {
		currency, err := ledger.NewCurrency(rawCurrency)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.Currency = currency
	}
	if rawKind := ctx.Query("kind"); rawKind != "" {
		kind, err := ledger.ParseEntryKind(rawKind)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		filter.Kind = kind
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	entries, err := handler.service.ListEntries(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			EntryID:        entry.EntryID,
			Kind:           entry.Kind.String(),
			Bucket:         string(entry.Bucket),
			Currency:       entry.Currency.String(),
			Amount:         formatAmount(entry.Amount.Int64(), handler.cfg.MinorUnits),
			Reference:      entry.Reference.String(),
			Note:           json.RawMessage(entry.Note.String()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse(code, "internal error"))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

// statusFor maps wallet errors onto HTTP status codes so providers can tell
// "stop retrying" apart from "rejected" and "try again".
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidToken):
		return http.StatusUnauthorized, errorCodeToken
	case errors.Is(err, ledger.ErrGameNotFound):
		return http.StatusNotFound, errorCodeNoGame
	case errors.Is(err, ledger.ErrGameNotEnabled):
		return http.StatusUnprocessableEntity, errorCodeDisabled
	case errors.Is(err, ledger.ErrRoundClosed):
		return http.StatusUnprocessableEntity, errorCodeClosed
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorCodeFunds
	}
	switch ledger.Classify(err) {
	case ledger.ErrorClassRetryable:
		return http.StatusConflict, errorCodeConflict
	case ledger.ErrorClassInvalid:
		return http.StatusBadRequest, errorCodeInvalid
	case ledger.ErrorClassRejected:
		return http.StatusUnprocessableEntity, errorCodeWithdrawn
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func (handler *httpHandler) balancePayload(balance ledger.Balance) *balancePayload {
	units := handler.cfg.MinorUnits
	return &balancePayload{
		Currency:  balance.Currency.String(),
		Available: formatAmount(balance.Available.Int64(), units),
		Frozen:    formatAmount(balance.Frozen.Int64(), units),
		Total:     formatAmount(balance.Total().Int64(), units),
	}
}

func (handler *httpHandler) roundPayload(order ledger.Order) *roundPayload {
	units := handler.cfg.MinorUnits
	return &roundPayload{
		RoundID: order.Key.RoundID.String(),
		GameID:  order.Key.GameID.String(),
		Status:  order.Status.String(),
		Stake:   formatAmount(order.StakeAmount.Int64(), units),
		Payout:  formatAmount(order.PayoutAmount.Int64(), units),
	}
}

func bearerToken(header string) (string, bool) {
	trimmed := strings.TrimSpace(header)
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(trimmed[len(bearerPrefix):])
	return token, token != ""
}

func sessionUser(ctx *gin.Context) (ledger.UserID, bool) {
	claimsValue, found := ctx.Get(claimsContextKey)
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	if !found || claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeSession, "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeSession, "session has no user"))
		return ledger.UserID{}, false
	}
	return userID, true
}
