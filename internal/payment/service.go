package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"coinpay/internal/common/database"
	"coinpay/internal/common/events"
	"coinpay/internal/common/metrics"
	"coinpay/internal/common/money"
	"coinpay/internal/gateway"
	"coinpay/internal/ledger"
	"coinpay/internal/merchant"
	"coinpay/internal/reward"
	"coinpay/internal/wallet"
)

// TransactionStore persists transactions.
type TransactionStore interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByGatewayOrderID(ctx context.Context, orderID string) (*Transaction, error)
	Claim(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*Transaction, bool, error)
	RecordSettlement(ctx context.Context, id string, commissionAmount int64, rewardPercent int, coinsEarned int64, settledAt time.Time) error
}

// WalletStore mutates coin wallets.
type WalletStore interface {
	Get(ctx context.Context, entityID string) (*wallet.Wallet, error)
	Credit(ctx context.Context, entityID string, kind wallet.EntityKind, amount int64) error
	Restore(ctx context.Context, entityID string, amount int64) error
	Debit(ctx context.Context, entityID string, amount int64) error
}

// MerchantStore resolves payment recipients.
type MerchantStore interface {
	GetMerchant(ctx context.Context, userID string) (*merchant.Merchant, error)
	GetUser(ctx context.Context, userID string) (*merchant.User, error)
	AutoOnboard(ctx context.Context, user *merchant.User) (*merchant.Merchant, error)
}

// GatewayClient opens orders at the payment gateway.
type GatewayClient interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*gateway.Order, error)
	KeyID() string
}

// LedgerRecorder appends accounting entries.
type LedgerRecorder interface {
	Record(ctx context.Context, entry ledger.Entry) error
}

// RewardEngine draws a cashback reward for a settled payment.
type RewardEngine interface {
	Compute(maxCap, commissionRateBps, amountGross int64) reward.Draw
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *events.Envelope) error
}

// Service is the payment settlement engine.
type Service struct {
	transactions TransactionStore
	wallets      WalletStore
	merchants    MerchantStore
	gateway      GatewayClient
	ledger       LedgerRecorder
	rewards      RewardEngine
	publisher    Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	currency     money.Currency
}

// NewService creates the payment service.
func NewService(
	transactions TransactionStore,
	wallets WalletStore,
	merchants MerchantStore,
	gw GatewayClient,
	lr LedgerRecorder,
	rewards RewardEngine,
	publisher Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	currency money.Currency,
) *Service {
	return &Service{
		transactions: transactions,
		wallets:      wallets,
		merchants:    merchants,
		gateway:      gw,
		ledger:       lr,
		rewards:      rewards,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
		currency:     currency,
	}
}

// CalculateIntent quotes the redemption split for the customer's current
// balance. The quote is advisory: Initiate re-validates against a fresh
// balance read.
func (s *Service) CalculateIntent(ctx context.Context, customerID string, requestedAmount int64, useCoins bool) (Intent, error) {
	w, err := s.wallets.Get(ctx, customerID)
	if err != nil {
		return Intent{}, fmt.Errorf("read wallet: %w", err)
	}
	return CalculateIntent(requestedAmount, w.BalanceAvailable, useCoins), nil
}

// InitiateRequest is the input to Initiate.
type InitiateRequest struct {
	CustomerID      string
	RecipientID     string
	RequestedAmount int64
	CoinsRedeemed   int64
	CorrelationID   string
}

// InitiateResult carries what the client needs to complete the charge.
type InitiateResult struct {
	TransactionID  string         `json:"transaction_id"`
	GatewayOrderID string         `json:"gateway_order_id"`
	AmountNet      int64          `json:"amount_net"`
	CoinsRedeemed  int64          `json:"coins_redeemed"`
	Currency       money.Currency `json:"currency"`
	GatewayKeyID   string         `json:"gateway_key_id"`
}

// Initiate resolves the recipient, validates redemption against a fresh
// balance read, opens a gateway order, provisionally debits the redeemed
// coins and persists the CREATED transaction. If persistence fails after the
// debit, the coins are restored; a failed restore is flagged for manual
// reconciliation rather than dropped.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.RequestedAmount < 1 {
		return nil, fmt.Errorf("requested amount must be at least 1")
	}
	if req.CoinsRedeemed < 0 {
		return nil, fmt.Errorf("coins redeemed must not be negative")
	}

	rec, err := s.resolveRecipient(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.CoinsRedeemed > 0 {
		w, err := s.wallets.Get(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("read wallet: %w", err)
		}
		if req.CoinsRedeemed > w.BalanceAvailable {
			return nil, ErrInsufficientCoinBalance
		}
	}

	netAmount := req.RequestedAmount - req.CoinsRedeemed
	if netAmount < 1 {
		return nil, ErrBelowMinimumPayable
	}

	txID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()

	order, err := s.gateway.CreateOrder(ctx, netAmount, string(s.currency), txID, map[string]string{
		"customer_id": req.CustomerID,
		"merchant_id": rec.UserID,
	})
	if err != nil {
		return nil, &GatewayError{Err: err}
	}

	if req.CoinsRedeemed > 0 {
		if err := s.wallets.Debit(ctx, req.CustomerID, req.CoinsRedeemed); err != nil {
			if errors.Is(err, wallet.ErrInsufficientBalance) {
				return nil, ErrInsufficientCoinBalance
			}
			return nil, fmt.Errorf("debit coins: %w", err)
		}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:                txID,
		GatewayOrderID:    order.ID,
		CustomerID:        req.CustomerID,
		MerchantID:        rec.UserID,
		AmountGross:       req.RequestedAmount,
		AmountNet:         netAmount,
		CoinsRedeemed:     req.CoinsRedeemed,
		Currency:          s.currency,
		CommissionRateBps: rec.CommissionRateBps,
		Status:            StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.transactions.Create(ctx, tx); err != nil {
		s.compensateDebit(ctx, req, order.ID)
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	s.metrics.PaymentsInitiated.Inc()
	s.publish(ctx, events.SubjectPaymentInitiated, events.TypePaymentInitiated, req.CorrelationID, events.PaymentInitiatedEvent{
		TransactionID:  tx.ID,
		GatewayOrderID: tx.GatewayOrderID,
		CustomerID:     tx.CustomerID,
		MerchantID:     tx.MerchantID,
		AmountGross:    tx.AmountGross,
		AmountNet:      tx.AmountNet,
		CoinsRedeemed:  tx.CoinsRedeemed,
	})

	s.logger.Info("payment initiated",
		"transaction_id", tx.ID,
		"gateway_order_id", tx.GatewayOrderID,
		"customer_id", tx.CustomerID,
		"merchant_id", tx.MerchantID,
		"amount_net", tx.AmountNet,
		"coins_redeemed", tx.CoinsRedeemed,
	)

	return &InitiateResult{
		TransactionID:  tx.ID,
		GatewayOrderID: tx.GatewayOrderID,
		AmountNet:      tx.AmountNet,
		CoinsRedeemed:  tx.CoinsRedeemed,
		Currency:       tx.Currency,
		GatewayKeyID:   s.gateway.KeyID(),
	}, nil
}

// resolveRecipient looks the recipient up as a merchant first, then as a
// plain user. A plain user is auto-onboarded as a zero-commission merchant
// so the settlement path never branches between merchant and peer payments.
func (s *Service) resolveRecipient(ctx context.Context, req InitiateRequest) (*merchant.Merchant, error) {
	m, err := s.merchants.GetMerchant(ctx, req.RecipientID)
	if err == nil {
		return m, nil
	}
	if !database.IsNotFound(err) {
		return nil, fmt.Errorf("lookup merchant: %w", err)
	}

	u, err := s.merchants.GetUser(ctx, req.RecipientID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	m, err = s.merchants.AutoOnboard(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("auto-onboard recipient: %w", err)
	}

	s.logger.Info("recipient auto-onboarded", "user_id", u.ID, "customer_id", req.CustomerID)
	s.publish(ctx, events.SubjectMerchantOnboarded, events.TypeMerchantOnboarded, req.CorrelationID, events.MerchantOnboardedEvent{
		UserID:      u.ID,
		OnboardedBy: req.CustomerID,
	})
	return m, nil
}

func (s *Service) compensateDebit(ctx context.Context, req InitiateRequest, gatewayOrderID string) {
	if req.CoinsRedeemed == 0 {
		return
	}
	if err := s.wallets.Restore(ctx, req.CustomerID, req.CoinsRedeemed); err != nil {
		s.logger.Error("coin restore failed, manual reconciliation required",
			"customer_id", req.CustomerID,
			"coins", req.CoinsRedeemed,
			"gateway_order_id", gatewayOrderID,
			"error", err,
		)
		s.publish(ctx, events.SubjectReconRequired, events.TypeReconRequired, req.CorrelationID, events.ReconRequiredEvent{
			GatewayOrderID: gatewayOrderID,
			EntityID:       req.CustomerID,
			Amount:         req.CoinsRedeemed,
			Reason:         "coin restore after failed transaction insert",
		})
	}
}

// SettleResult reports the outcome of a settlement callback.
type SettleResult struct {
	TransactionID string
	Duplicate     bool
	CoinsEarned   int64
	PayoutAmount  int64
}

// Settle applies the capture of a gateway order: commission, reward coins,
// merchant payout and the ledger trail.
//
// The CREATED to SUCCESS claim is a conditional update, so exactly one
// delivery of the webhook wins it; every later delivery observes a terminal
// status and returns as a no-op. Ledger writes after the claim are
// best-effort: a failed append is logged and counted, never surfaced to the
// gateway.
func (s *Service) Settle(ctx context.Context, gatewayOrderID, gatewayPaymentID, correlationID string) (*SettleResult, error) {
	tx, claimed, err := s.transactions.Claim(ctx, gatewayOrderID, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		s.metrics.SettlementsDuplicate.Inc()
		s.logger.Info("duplicate settlement callback, already processed",
			"transaction_id", tx.ID,
			"gateway_order_id", gatewayOrderID,
			"status", tx.Status,
		)
		s.publish(ctx, events.SubjectPaymentDuplicate, events.TypeDuplicateSettlement, correlationID, events.PaymentSettledEvent{
			TransactionID:  tx.ID,
			GatewayOrderID: tx.GatewayOrderID,
		})
		return &SettleResult{TransactionID: tx.ID, Duplicate: true}, nil
	}

	// Fresh merchant read. The rate can differ from the snapshot taken at
	// creation; settlement honors the current rate. The claim is already
	// won, so a failure here cannot rely on gateway redelivery and must be
	// flagged for reconciliation.
	m, err := s.merchants.GetMerchant(ctx, tx.MerchantID)
	if err != nil {
		s.metrics.SettlementsFailed.Inc()
		s.reconRequired(ctx, tx, correlationID, tx.MerchantID, tx.AmountGross, "merchant lookup failed after settlement claim", err)
		return nil, fmt.Errorf("lookup merchant %s: %w", tx.MerchantID, err)
	}

	gross := money.New(tx.AmountGross, tx.Currency)
	commissionAmount := gross.Percentage(m.CommissionRateBps).AmountMinor
	draw := s.rewards.Compute(m.MaxRewardCap, m.CommissionRateBps, tx.AmountGross)
	payoutAmount := tx.AmountGross - commissionAmount
	settledAt := time.Now().UTC()

	if err := s.transactions.RecordSettlement(ctx, tx.ID, commissionAmount, draw.Percent, draw.Coins, settledAt); err != nil {
		s.metrics.SettlementsFailed.Inc()
		s.reconRequired(ctx, tx, correlationID, tx.MerchantID, payoutAmount, "settlement economics write failed after claim", err)
		return nil, fmt.Errorf("record settlement: %w", err)
	}

	if draw.Coins > 0 {
		if err := s.wallets.Credit(ctx, tx.CustomerID, wallet.KindCustomer, draw.Coins); err != nil {
			s.reconRequired(ctx, tx, correlationID, tx.CustomerID, draw.Coins, "reward coin credit failed", err)
		} else {
			s.metrics.RewardCoinsIssued.Add(float64(draw.Coins))
			s.publish(ctx, events.SubjectRewardIssued, events.TypeRewardIssued, correlationID, events.RewardIssuedEvent{
				TransactionID: tx.ID,
				CustomerID:    tx.CustomerID,
				Percent:       int64(draw.Percent),
				Coins:         draw.Coins,
			})
		}
	}

	s.record(ctx, ledger.Entry{
		TransactionID: tx.ID,
		EntityType:    ledger.EntityCustomer,
		EntityID:      tx.CustomerID,
		EntryType:     ledger.EntryPaymentReceived,
		Credit:        tx.AmountNet,
		Description:   "payment captured via gateway",
	})
	// Zero-commission settlements (the peer-to-peer path) book no
	// commission entry; the ledger rejects zero-amount rows.
	if commissionAmount > 0 {
		s.record(ctx, ledger.Entry{
			TransactionID: tx.ID,
			EntityType:    ledger.EntityMerchant,
			EntityID:      tx.MerchantID,
			EntryType:     ledger.EntryCommission,
			Debit:         commissionAmount,
			Description:   "platform commission",
		})
	}
	if draw.Coins > 0 {
		s.record(ctx, ledger.Entry{
			TransactionID: tx.ID,
			EntityType:    ledger.EntityPlatform,
			EntityID:      "platform",
			EntryType:     ledger.EntryCoinIssuance,
			Debit:         draw.Coins,
			Description:   "reward coins issued",
		})
	}

	if payoutAmount > 0 {
		if err := s.wallets.Credit(ctx, tx.MerchantID, wallet.KindMerchant, payoutAmount); err != nil {
			s.reconRequired(ctx, tx, correlationID, tx.MerchantID, payoutAmount, "merchant payout credit failed", err)
		}
		s.record(ctx, ledger.Entry{
			TransactionID: tx.ID,
			EntityType:    ledger.EntityMerchant,
			EntityID:      tx.MerchantID,
			EntryType:     ledger.EntrySalesCredit,
			Credit:        payoutAmount,
			Description:   "sale proceeds net of commission",
		})
	}
	if tx.CoinsRedeemed > 0 {
		s.record(ctx, ledger.Entry{
			TransactionID: tx.ID,
			EntityType:    ledger.EntityCustomer,
			EntityID:      tx.CustomerID,
			EntryType:     ledger.EntryCoinRedemption,
			Debit:         tx.CoinsRedeemed,
			Description:   "coins redeemed at order creation",
		})
	}

	s.metrics.SettlementsCompleted.Inc()
	s.publish(ctx, events.SubjectPaymentSettled, events.TypePaymentSettled, correlationID, events.PaymentSettledEvent{
		TransactionID:    tx.ID,
		GatewayOrderID:   tx.GatewayOrderID,
		CustomerID:       tx.CustomerID,
		MerchantID:       tx.MerchantID,
		AmountGross:      tx.AmountGross,
		AmountNet:        tx.AmountNet,
		CommissionAmount: commissionAmount,
		PayoutAmount:     payoutAmount,
		CoinsEarned:      draw.Coins,
		SettledAt:        settledAt,
	})

	s.logger.Info("payment settled",
		"transaction_id", tx.ID,
		"gateway_order_id", tx.GatewayOrderID,
		"commission_amount", commissionAmount,
		"payout_amount", payoutAmount,
		"coins_earned", draw.Coins,
		"reward_percent", draw.Percent,
	)

	return &SettleResult{
		TransactionID: tx.ID,
		CoinsEarned:   draw.Coins,
		PayoutAmount:  payoutAmount,
	}, nil
}

// GetTransaction fetches a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

func (s *Service) record(ctx context.Context, entry ledger.Entry) {
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.metrics.LedgerWriteFailures.Inc()
		s.logger.Error("ledger write failed",
			"transaction_id", entry.TransactionID,
			"entry_type", entry.EntryType,
			"error", err,
		)
	}
}

func (s *Service) reconRequired(ctx context.Context, tx *Transaction, correlationID, entityID string, amount int64, reason string, err error) {
	s.logger.Error("settlement side effect failed, manual reconciliation required",
		"transaction_id", tx.ID,
		"entity_id", entityID,
		"amount", amount,
		"reason", reason,
		"error", err,
	)
	s.publish(ctx, events.SubjectReconRequired, events.TypeReconRequired, correlationID, events.ReconRequiredEvent{
		TransactionID:  tx.ID,
		GatewayOrderID: tx.GatewayOrderID,
		EntityID:       entityID,
		Amount:         amount,
		Reason:         reason,
	})
}

func (s *Service) publish(ctx context.Context, subject string, eventType events.Type, correlationID string, data any) {
	if s.publisher == nil {
		return
	}
	env, err := events.NewEnvelope(eventType, correlationID, data)
	if err != nil {
		s.logger.Error("build event envelope", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, subject, env); err != nil {
		s.logger.Error("publish event", "subject", subject, "error", err)
	}
}
