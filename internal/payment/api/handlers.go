// Package api exposes the payment engine over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"coinpay/internal/common/api"
	"coinpay/internal/common/middleware"
	"coinpay/internal/gateway"
	"coinpay/internal/ledger"
	"coinpay/internal/payment"
	"coinpay/internal/wallet"
)

// LedgerReader lists the accounting trail of a transaction.
type LedgerReader interface {
	ListByTransaction(ctx context.Context, transactionID string) ([]ledger.Entry, error)
}

// WalletReader reads a wallet balance.
type WalletReader interface {
	Get(ctx context.Context, entityID string) (*wallet.Wallet, error)
}

// Handler serves the payment endpoints.
type Handler struct {
	service       *payment.Service
	ledgerReader  LedgerReader
	walletReader  WalletReader
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates the payment HTTP handler.
func NewHandler(service *payment.Service, lr LedgerReader, wr WalletReader, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		ledgerReader:  lr,
		walletReader:  wr,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// Routes mounts the payment routes on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/payment", func(r chi.Router) {
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/calculate", h.Calculate)
			r.Post("/initiate", h.Initiate)
			r.Get("/transactions/{transactionID}", h.GetTransaction)
			r.Get("/transactions/{transactionID}/ledger", h.GetTransactionLedger)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/wallet/{entityID}", h.GetWallet)
	})
}

type calculateRequest struct {
	Amount   int64 `json:"amount" validate:"required,min=1"`
	UseCoins bool  `json:"use_coins"`
}

// Calculate quotes the coin redemption split for a requested amount.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	customerID := middleware.GetUserID(r.Context())
	intent, err := h.service.CalculateIntent(r.Context(), customerID, req.Amount, req.UseCoins)
	if err != nil {
		h.logger.Error("calculate intent", "customer_id", customerID, "error", err)
		api.InternalError(w, "failed to calculate payment intent")
		return
	}

	api.WriteData(w, http.StatusOK, intent)
}

type initiateRequest struct {
	RecipientID   string `json:"recipient_id" validate:"required"`
	Amount        int64  `json:"amount" validate:"required,min=1"`
	CoinsRedeemed int64  `json:"coins_redeemed" validate:"min=0"`
}

// Initiate opens a gateway order for the net payable amount.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.service.Initiate(r.Context(), payment.InitiateRequest{
		CustomerID:      middleware.GetUserID(r.Context()),
		RecipientID:     req.RecipientID,
		RequestedAmount: req.Amount,
		CoinsRedeemed:   req.CoinsRedeemed,
		CorrelationID:   middleware.GetCorrelationID(r.Context()),
	})
	if err != nil {
		h.writeInitiateError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusCreated, result)
}

func (h *Handler) writeInitiateError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, payment.ErrRecipientNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeRecipientNotFound, "recipient not found")
	case errors.Is(err, payment.ErrInsufficientCoinBalance):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientCoins, "insufficient coin balance")
	case errors.Is(err, payment.ErrBelowMinimumPayable):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeBelowMinimumPayable, "net payable amount is below the minimum")
	case errors.As(err, &gwErr):
		h.logger.Error("gateway order failed", "error", err)
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeGatewayError, "payment gateway unavailable")
	default:
		h.logger.Error("initiate payment", "error", err)
		api.InternalError(w, "failed to initiate payment")
	}
}

// Webhook receives gateway callbacks. The body signature is verified before
// anything is parsed or acted on. Duplicate deliveries and non-capture
// events return 200 so the gateway stops retrying.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.BadRequest(w, "unreadable body")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)
	if signature == "" || !gateway.VerifySignature(h.webhookSecret, body, signature) {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		api.Unauthorized(w, "invalid signature")
		return
	}

	event, err := gateway.ParseWebhook(body)
	if err != nil {
		api.BadRequest(w, "malformed webhook payload")
		return
	}

	if event.Event != gateway.EventPaymentCaptured {
		h.logger.Info("ignoring webhook event", "event", event.Event)
		api.WriteData(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	entity := event.Payload.Payment.Entity
	result, err := h.service.Settle(r.Context(), entity.OrderID, entity.ID, middleware.GetCorrelationID(r.Context()))
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			api.NotFound(w, "transaction not found for order")
			return
		}
		h.logger.Error("settlement failed", "gateway_order_id", entity.OrderID, "error", err)
		api.InternalError(w, "settlement failed")
		return
	}

	status := "settled"
	if result.Duplicate {
		status = "already processed"
	}
	api.WriteData(w, http.StatusOK, map[string]string{
		"status":         status,
		"transaction_id": result.TransactionID,
	})
}

// GetTransaction returns a transaction visible to its customer or merchant.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			api.NotFound(w, "transaction not found")
			return
		}
		h.logger.Error("get transaction", "transaction_id", id, "error", err)
		api.InternalError(w, "failed to load transaction")
		return
	}

	if !canViewTransaction(r, tx) {
		api.NotFound(w, "transaction not found")
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

// canViewTransaction restricts transaction reads to the paying customer, the
// receiving merchant, or an admin.
func canViewTransaction(r *http.Request, tx *payment.Transaction) bool {
	userID := middleware.GetUserID(r.Context())
	return tx.CustomerID == userID || tx.MerchantID == userID || middleware.GetUserRole(r.Context()) == "admin"
}

// GetTransactionLedger returns the accounting entries for a transaction,
// under the same visibility rule as the transaction itself.
func (h *Handler) GetTransactionLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transactionID")

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, payment.ErrTransactionNotFound) {
			api.NotFound(w, "transaction not found")
			return
		}
		h.logger.Error("get transaction", "transaction_id", id, "error", err)
		api.InternalError(w, "failed to load transaction")
		return
	}
	if !canViewTransaction(r, tx) {
		api.NotFound(w, "transaction not found")
		return
	}

	entries, err := h.ledgerReader.ListByTransaction(r.Context(), id)
	if err != nil {
		h.logger.Error("list ledger entries", "transaction_id", id, "error", err)
		api.InternalError(w, "failed to load ledger entries")
		return
	}

	api.WriteData(w, http.StatusOK, entries)
}

// GetWallet returns an entity's wallet. Users may only read their own unless
// they hold the admin role.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	userID := middleware.GetUserID(r.Context())
	if entityID != userID && middleware.GetUserRole(r.Context()) != "admin" {
		api.Unauthorized(w, "cannot read another entity's wallet")
		return
	}

	wlt, err := h.walletReader.Get(r.Context(), entityID)
	if err != nil {
		h.logger.Error("get wallet", "entity_id", entityID, "error", err)
		api.InternalError(w, "failed to load wallet")
		return
	}

	api.WriteData(w, http.StatusOK, wlt)
}
