package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type memTransactions struct {
	byID      map[string]*Transaction
	createErr error
	recordErr error
}

func newMemTransactions() *memTransactions {
	return &memTransactions{byID: make(map[string]*Transaction)}
}

func (m *memTransactions) Create(_ context.Context, tx *Transaction) error {
	if m.createErr != nil {
		return m.createErr
	}
	cp := *tx
	m.byID[tx.ID] = &cp
	return nil
}

func (m *memTransactions) GetByID(_ context.Context, id string) (*Transaction, error) {
	tx, ok := m.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memTransactions) GetByGatewayOrderID(_ context.Context, orderID string) (*Transaction, error) {
	for _, tx := range m.byID {
		if tx.GatewayOrderID == orderID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *memTransactions) Claim(_ context.Context, gatewayOrderID, gatewayPaymentID string) (*Transaction, bool, error) {
	for _, tx := range m.byID {
		if tx.GatewayOrderID != gatewayOrderID {
			continue
		}
		if tx.Status != StatusCreated {
			cp := *tx
			return &cp, false, nil
		}
		tx.Status = StatusSuccess
		tx.GatewayPaymentID = gatewayPaymentID
		cp := *tx
		return &cp, true, nil
	}
	return nil, false, ErrTransactionNotFound
}

func (m *memTransactions) RecordSettlement(_ context.Context, id string, commissionAmount int64, rewardPercent int, coinsEarned int64, settledAt time.Time) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	tx, ok := m.byID[id]
	if !ok {
		return ErrTransactionNotFound
	}
	tx.CommissionAmount = commissionAmount
	tx.RewardPercent = rewardPercent
	tx.CoinsEarned = coinsEarned
	tx.Status = StatusSettled
	tx.SettledAt = &settledAt
	return nil
}

type memWallets struct {
	balances   map[string]int64
	lifetime   map[string]int64
	mutations  int
	creditErr  error
	restoreErr error
}

func newMemWallets() *memWallets {
	return &memWallets{balances: make(map[string]int64), lifetime: make(map[string]int64)}
}

func (m *memWallets) Get(_ context.Context, entityID string) (*wallet.Wallet, error) {
	return &wallet.Wallet{
		EntityID:         entityID,
		BalanceAvailable: m.balances[entityID],
		LifetimeEarned:   m.lifetime[entityID],
	}, nil
}

func (m *memWallets) Credit(_ context.Context, entityID string, _ wallet.EntityKind, amount int64) error {
	if m.creditErr != nil {
		return m.creditErr
	}
	m.balances[entityID] += amount
	m.lifetime[entityID] += amount
	m.mutations++
	return nil
}

func (m *memWallets) Restore(_ context.Context, entityID string, amount int64) error {
	if m.restoreErr != nil {
		return m.restoreErr
	}
	m.balances[entityID] += amount
	m.mutations++
	return nil
}

func (m *memWallets) Debit(_ context.Context, entityID string, amount int64) error {
	if m.balances[entityID] < amount {
		return wallet.ErrInsufficientBalance
	}
	m.balances[entityID] -= amount
	m.mutations++
	return nil
}

type memMerchants struct {
	merchants map[string]*merchant.Merchant
	users     map[string]*merchant.User
	getErr    error
}

func newMemMerchants() *memMerchants {
	return &memMerchants{
		merchants: make(map[string]*merchant.Merchant),
		users:     make(map[string]*merchant.User),
	}
}

func (m *memMerchants) GetMerchant(_ context.Context, userID string) (*merchant.Merchant, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	mr, ok := m.merchants[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return mr, nil
}

func (m *memMerchants) GetUser(_ context.Context, userID string) (*merchant.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return u, nil
}

func (m *memMerchants) AutoOnboard(_ context.Context, user *merchant.User) (*merchant.Merchant, error) {
	mr := &merchant.Merchant{
		UserID:        user.ID,
		DisplayName:   user.Name,
		KYCStatus:     merchant.KYCApproved,
		AutoOnboarded: true,
	}
	m.merchants[user.ID] = mr
	return mr, nil
}

type stubGateway struct {
	orders  int
	lastAmt int64
	failErr error
}

func (g *stubGateway) CreateOrder(_ context.Context, amountMinor int64, _ string, receipt string, _ map[string]string) (*gateway.Order, error) {
	if g.failErr != nil {
		return nil, g.failErr
	}
	g.orders++
	g.lastAmt = amountMinor
	return &gateway.Order{ID: "order_" + receipt, AmountMinor: amountMinor}, nil
}

func (g *stubGateway) KeyID() string { return "key_test" }

// memLedger applies the same validation as the real recorder, so entries
// that would be rejected in production are rejected here too.
type memLedger struct {
	entries  []ledger.Entry
	rejected []ledger.Entry
	failErr  error
}

func (m *memLedger) Record(_ context.Context, entry ledger.Entry) error {
	if m.failErr != nil {
		return m.failErr
	}
	if err := entry.Validate(); err != nil {
		m.rejected = append(m.rejected, entry)
		return err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLedger) byType(t ledger.EntryType) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range m.entries {
		if e.EntryType == t {
			out = append(out, e)
		}
	}
	return out
}

type memPublisher struct {
	subjects []string
}

func (p *memPublisher) Publish(_ context.Context, subject string, _ *events.Envelope) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *memPublisher) count(subject string) int {
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fixedSrc struct {
	n int
}

func (s fixedSrc) Intn(int) int { return s.n }

type fixture struct {
	svc          *Service
	transactions *memTransactions
	wallets      *memWallets
	merchants    *memMerchants
	gateway      *stubGateway
	ledger       *memLedger
	publisher    *memPublisher
}

func newFixture(t *testing.T, rewardPct int) *fixture {
	t.Helper()
	f := &fixture{
		transactions: newMemTransactions(),
		wallets:      newMemWallets(),
		merchants:    newMemMerchants(),
		gateway:      &stubGateway{},
		ledger:       &memLedger{},
		publisher:    &memPublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(
		f.transactions, f.wallets, f.merchants, f.gateway, f.ledger,
		reward.NewEngine(fixedSrc{n: rewardPct - 1}),
		f.publisher, metrics.New(), logger, money.INR,
	)
	return f
}

func (f *fixture) addMerchant(id string, rateBps int64) {
	f.merchants.merchants[id] = &merchant.Merchant{
		UserID:            id,
		DisplayName:       "Shop " + id,
		CommissionRateBps: rateBps,
		KYCStatus:         merchant.KYCApproved,
	}
}

func TestInitiateWithRedemption(t *testing.T) {
	f := newFixture(t, 5)
	f.addMerchant("m1", 1500)
	f.wallets.balances["c1"] = 50

	result, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 100,
		CoinsRedeemed:   40,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(60), result.AmountNet)
	assert.Equal(t, int64(60), f.gateway.lastAmt)
	assert.Equal(t, "key_test", result.GatewayKeyID)
	assert.Equal(t, int64(10), f.wallets.balances["c1"])

	tx, err := f.transactions.GetByID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, tx.Status)
	assert.Equal(t, int64(100), tx.AmountGross)
	assert.Equal(t, int64(40), tx.CoinsRedeemed)
	assert.Equal(t, int64(1500), tx.CommissionRateBps)

	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentInitiated))
}

func TestInitiateRecipientNotFound(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "ghost",
		RequestedAmount: 100,
	})
	require.ErrorIs(t, err, ErrRecipientNotFound)
	assert.Zero(t, f.gateway.orders)
	assert.Empty(t, f.transactions.byID)
}

func TestInitiateAutoOnboardsPeer(t *testing.T) {
	f := newFixture(t, 5)
	f.merchants.users["u2"] = &merchant.User{ID: "u2", Name: "Asha"}

	result, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "u2",
		RequestedAmount: 200,
	})
	require.NoError(t, err)

	m := f.merchants.merchants["u2"]
	require.NotNil(t, m)
	assert.True(t, m.AutoOnboarded)
	assert.Zero(t, m.CommissionRateBps)
	assert.Zero(t, m.MaxRewardCap)
	assert.Equal(t, merchant.KYCApproved, m.KYCStatus)

	tx, err := f.transactions.GetByID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Zero(t, tx.CommissionRateBps)
	assert.Equal(t, 1, f.publisher.count(events.SubjectMerchantOnboarded))
}

func TestInitiateInsufficientCoins(t *testing.T) {
	f := newFixture(t, 5)
	f.addMerchant("m1", 1000)
	f.wallets.balances["c1"] = 10

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 100,
		CoinsRedeemed:   40,
	})
	require.ErrorIs(t, err, ErrInsufficientCoinBalance)
	assert.Zero(t, f.gateway.orders)
	assert.Equal(t, int64(10), f.wallets.balances["c1"])
}

func TestInitiateBelowMinimumPayable(t *testing.T) {
	f := newFixture(t, 5)
	f.addMerchant("m1", 1000)
	f.wallets.balances["c1"] = 500

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 100,
		CoinsRedeemed:   100,
	})
	require.ErrorIs(t, err, ErrBelowMinimumPayable)
	assert.Zero(t, f.gateway.orders)
	assert.Equal(t, int64(500), f.wallets.balances["c1"])
}

func TestInitiateGatewayFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t, 5)
	f.addMerchant("m1", 1000)
	f.wallets.balances["c1"] = 50
	f.gateway.failErr = errors.New("gateway timeout")

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 100,
		CoinsRedeemed:   40,
	})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, int64(50), f.wallets.balances["c1"])
	assert.Empty(t, f.transactions.byID)
}

func TestInitiateCompensatesFailedInsert(t *testing.T) {
	f := newFixture(t, 5)
	f.addMerchant("m1", 1000)
	f.wallets.balances["c1"] = 50
	f.transactions.createErr = errors.New("connection reset")

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 100,
		CoinsRedeemed:   40,
	})
	require.Error(t, err)

	// The provisional debit was undone.
	assert.Equal(t, int64(50), f.wallets.balances["c1"])
	assert.Zero(t, f.publisher.count(events.SubjectReconRequired))
}

func TestInitiateFailedCompensationFlagsReconciliation(t *testing.T) {
	f := newFixture(t, 5)
	f.addMerchant("m1", 1000)
	f.wallets.balances["c1"] = 50
	f.transactions.createErr = errors.New("connection reset")
	f.wallets.restoreErr = errors.New("connection reset")

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 100,
		CoinsRedeemed:   40,
	})
	require.Error(t, err)
	assert.Equal(t, 1, f.publisher.count(events.SubjectReconRequired))
}

func settleFixture(t *testing.T, rewardPct int, coinsRedeemed int64) (*fixture, *Transaction) {
	t.Helper()
	f := newFixture(t, rewardPct)
	f.addMerchant("m1", 1500)
	f.wallets.balances["c1"] = coinsRedeemed

	result, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "m1",
		RequestedAmount: 1000,
		CoinsRedeemed:   coinsRedeemed,
	})
	require.NoError(t, err)
	f.publisher.subjects = nil

	tx, err := f.transactions.GetByID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	return f, tx
}

func TestSettleAppliesCommissionRewardAndLedger(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)

	result, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	// 15 percent of 1000 gross.
	assert.Equal(t, int64(850), result.PayoutAmount)
	// 5 percent reward on 1000 gross.
	assert.Equal(t, int64(50), result.CoinsEarned)

	settled, err := f.transactions.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settled.Status)
	assert.Equal(t, int64(150), settled.CommissionAmount)
	assert.Equal(t, 5, settled.RewardPercent)
	assert.Equal(t, int64(50), settled.CoinsEarned)
	require.NotNil(t, settled.SettledAt)

	// Customer got reward coins, merchant got the payout.
	assert.Equal(t, int64(50), f.wallets.balances["c1"])
	assert.Equal(t, int64(50), f.wallets.lifetime["c1"])
	assert.Equal(t, int64(850), f.wallets.balances["m1"])
	assert.Equal(t, int64(850), f.wallets.lifetime["m1"])

	// No redemption, so four ledger entries.
	require.Len(t, f.ledger.entries, 4)
	require.Len(t, f.ledger.byType(ledger.EntryPaymentReceived), 1)
	assert.Equal(t, int64(1000), f.ledger.byType(ledger.EntryPaymentReceived)[0].Credit)
	require.Len(t, f.ledger.byType(ledger.EntryCommission), 1)
	assert.Equal(t, int64(150), f.ledger.byType(ledger.EntryCommission)[0].Debit)
	require.Len(t, f.ledger.byType(ledger.EntryCoinIssuance), 1)
	assert.Equal(t, int64(50), f.ledger.byType(ledger.EntryCoinIssuance)[0].Debit)
	require.Len(t, f.ledger.byType(ledger.EntrySalesCredit), 1)
	assert.Equal(t, int64(850), f.ledger.byType(ledger.EntrySalesCredit)[0].Credit)

	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentSettled))
	assert.Equal(t, 1, f.publisher.count(events.SubjectRewardIssued))
}

func TestSettleRecordsRedemptionEntry(t *testing.T) {
	f, tx := settleFixture(t, 5, 200)

	_, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)

	redemption := f.ledger.byType(ledger.EntryCoinRedemption)
	require.Len(t, redemption, 1)
	assert.Equal(t, int64(200), redemption[0].Debit)
	assert.Equal(t, ledger.EntityCustomer, redemption[0].EntityType)
	require.Len(t, f.ledger.entries, 5)

	// The redemption entry documents the debit taken at initiation; the
	// balance reflects it exactly once.
	assert.Equal(t, int64(50), f.wallets.balances["c1"]) // 5% of 1000 reward
}

func TestSettleDuplicateIsNoOp(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)

	first, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	entriesBefore := len(f.ledger.entries)
	mutationsBefore := f.wallets.mutations

	second, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	assert.Len(t, f.ledger.entries, entriesBefore)
	assert.Equal(t, mutationsBefore, f.wallets.mutations)
	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentDuplicate))
	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentSettled))
}

func TestSettleUnknownOrder(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.svc.Settle(context.Background(), "order_ghost", "pay_1", "corr")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestSettleUsesFreshCommissionRate(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)

	// Rate changed between creation and settlement; settlement honors the
	// current rate, not the snapshot.
	f.merchants.merchants["m1"].CommissionRateBps = 2000

	result, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)
	assert.Equal(t, int64(800), result.PayoutAmount)

	settled, err := f.transactions.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), settled.CommissionAmount)
	assert.Equal(t, int64(1500), settled.CommissionRateBps) // snapshot untouched
}

func TestSettleSurvivesLedgerFailures(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)
	f.ledger.failErr = errors.New("disk full")

	result, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	// Money still moved even though the trail could not be written.
	assert.Equal(t, int64(850), f.wallets.balances["m1"])
	settled, err := f.transactions.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, settled.Status)
}

func TestSettlePeerPaymentBooksNoCommissionEntry(t *testing.T) {
	f := newFixture(t, 5)
	f.merchants.users["u2"] = &merchant.User{ID: "u2", Name: "Asha"}

	result, err := f.svc.Initiate(context.Background(), InitiateRequest{
		CustomerID:      "c1",
		RecipientID:     "u2",
		RequestedAmount: 1000,
	})
	require.NoError(t, err)

	tx, err := f.transactions.GetByID(context.Background(), result.TransactionID)
	require.NoError(t, err)

	settleResult, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)

	// Zero commission: the peer keeps the full gross amount.
	assert.Equal(t, int64(1000), settleResult.PayoutAmount)
	assert.Equal(t, int64(1000), f.wallets.balances["u2"])

	// Three entries: payment received, coin issuance, sales credit. No
	// zero-amount commission entry, and nothing rejected by validation.
	assert.Empty(t, f.ledger.rejected)
	assert.Empty(t, f.ledger.byType(ledger.EntryCommission))
	require.Len(t, f.ledger.entries, 3)
	assert.Len(t, f.ledger.byType(ledger.EntryPaymentReceived), 1)
	assert.Len(t, f.ledger.byType(ledger.EntryCoinIssuance), 1)
	assert.Len(t, f.ledger.byType(ledger.EntrySalesCredit), 1)
}

func TestSettleFlagsFailedMerchantLookup(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)
	f.merchants.getErr = errors.New("connection reset")

	_, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.Error(t, err)

	// The claim is already won, so a gateway retry will no-op; the failure
	// must be surfaced for manual reconciliation.
	assert.Equal(t, 1, f.publisher.count(events.SubjectReconRequired))
	assert.Empty(t, f.ledger.entries)
	assert.Zero(t, f.wallets.balances["m1"])
}

func TestSettleFlagsFailedSettlementRecord(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)
	f.transactions.recordErr = errors.New("connection reset")

	_, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.Error(t, err)

	assert.Equal(t, 1, f.publisher.count(events.SubjectReconRequired))
	assert.Empty(t, f.ledger.entries)
	assert.Zero(t, f.wallets.balances["m1"])
}

func TestSettleFlagsFailedPayoutCredit(t *testing.T) {
	f, tx := settleFixture(t, 5, 0)
	f.wallets.creditErr = errors.New("connection reset")

	_, err := f.svc.Settle(context.Background(), tx.GatewayOrderID, "pay_1", "corr")
	require.NoError(t, err)

	// Reward credit and payout credit both failed and were flagged.
	assert.Equal(t, 2, f.publisher.count(events.SubjectReconRequired))
}
