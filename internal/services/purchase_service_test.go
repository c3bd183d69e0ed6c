package services

import (
	"context"
	"testing"
	"time"

	"stocksim/internal/bus"
	"stocksim/internal/models"
	"stocksim/internal/payments"
	"stocksim/internal/store"
)

type purchaseFixture struct {
	svc       *PurchaseService
	inventory *fakeInventory
	wallets   *fakeWallet
	purchases *fakePurchases
	payments  *fakePayments
	gateway   *fakeGateway
	audit     *fakeAudit
	publisher *fakePublisher
	hub       *fakeHub
}

func newPurchaseFixture() *purchaseFixture {
	f := &purchaseFixture{
		inventory: newFakeInventory(),
		wallets:   newFakeWallet(),
		purchases: newFakePurchases(),
		payments:  newFakePayments(),
		gateway:   &fakeGateway{tx: payments.Transaction{Token: "tok-1", URL: "https://webpay.example/init"}},
		audit:     &fakeAudit{},
		publisher: &fakePublisher{},
		hub:       &fakeHub{},
	}
	f.svc = NewPurchaseService(
		fakeTxRunner{}, f.inventory, f.wallets, f.purchases, f.payments,
		f.audit, f.gateway, f.publisher, f.hub,
		"11", "https://localhost/webpay/return",
	)
	return f
}

func (f *purchaseFixture) seedStock(t *testing.T, symbol string, quantity int64, price string) {
	t.Helper()
	if err := f.inventory.Insert(context.Background(), nil, symbol, price, symbol, quantity, time.Now().UTC()); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func TestCreatePurchaseOpensGatewayTransaction(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")

	result, err := f.svc.CreatePurchase(context.Background(), "user-1", "ACME", 3)
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if !result.RequiresPayment || result.WebpayToken != "tok-1" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.AmountMinor != 3000 {
		t.Errorf("amount = %d, want 3000 cents", result.AmountMinor)
	}

	row, err := f.purchases.GetByRequestID(context.Background(), result.RequestID)
	if err != nil {
		t.Fatalf("purchase row: %v", err)
	}
	if row.Status != models.PurchasePending {
		t.Errorf("status = %q, want PENDING", row.Status)
	}
	if !row.ViaGateway {
		t.Error("purchase not marked gateway-funded")
	}
	// Nothing reserved and nothing debited before confirmation.
	if got := f.inventory.quantity("ACME"); got != 100 {
		t.Errorf("inventory mutated at creation: %d", got)
	}
	if f.wallets.balances["user-1"] != 0 {
		t.Errorf("wallet mutated at creation: %d", f.wallets.balances["user-1"])
	}
	if len(f.publisher.messages) != 1 || f.publisher.messages[0].topic != bus.TopicRequests {
		t.Fatalf("request not announced on %s", bus.TopicRequests)
	}
}

func TestCreatePurchaseInsufficientInventory(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 2, "10.0000")

	if _, err := f.svc.CreatePurchase(context.Background(), "user-1", "ACME", 3); err != store.ErrInsufficientInventory {
		t.Fatalf("err = %v, want ErrInsufficientInventory", err)
	}
	if len(f.purchases.rows) != 0 {
		t.Error("purchase row created despite shortfall")
	}
}

func TestCreatePurchaseGatewayFailureLeavesNoState(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	f.gateway.createErr = payments.ErrGatewayUnavailable

	if _, err := f.svc.CreatePurchase(context.Background(), "user-1", "ACME", 3); err == nil {
		t.Fatal("expected gateway error")
	}
	if len(f.purchases.rows) != 0 || len(f.payments.byToken) != 0 {
		t.Error("rows created despite gateway failure")
	}
}

func TestConfirmPaymentApprovedSettlesOnce(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	f.gateway.confirmation = payments.Confirmation{Status: "AUTHORIZED", ResponseCode: 0, AuthorizationCode: "1213"}
	ctx := context.Background()

	result, err := f.svc.CreatePurchase(ctx, "user-1", "ACME", 3)
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	status, err := f.svc.ConfirmPayment(ctx, result.WebpayToken)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if status != models.PurchaseAccepted {
		t.Fatalf("status = %q, want ACCEPTED", status)
	}
	if got := f.inventory.quantity("ACME"); got != 97 {
		t.Errorf("inventory = %d, want 97", got)
	}
	if f.wallets.balances["user-1"] != -3000 {
		t.Errorf("balance = %d, want -3000 (gateway debit is not funds-checked)", f.wallets.balances["user-1"])
	}

	// A second callback for the same token must not touch anything again.
	status, err = f.svc.ConfirmPayment(ctx, result.WebpayToken)
	if err != nil {
		t.Fatalf("second ConfirmPayment: %v", err)
	}
	if status != models.PurchaseAccepted {
		t.Fatalf("second status = %q, want ACCEPTED", status)
	}
	if f.gateway.commits != 1 {
		t.Errorf("gateway committed %d times, want 1", f.gateway.commits)
	}
	if got := f.inventory.quantity("ACME"); got != 97 {
		t.Errorf("inventory after replay = %d, want 97", got)
	}
	if f.wallets.balances["user-1"] != -3000 {
		t.Errorf("balance after replay = %d, want -3000", f.wallets.balances["user-1"])
	}
}

func TestConfirmPaymentDeclined(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	f.gateway.confirmation = payments.Confirmation{Status: "FAILED", ResponseCode: -1}
	ctx := context.Background()

	result, err := f.svc.CreatePurchase(ctx, "user-1", "ACME", 3)
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	status, err := f.svc.ConfirmPayment(ctx, result.WebpayToken)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if status != models.PurchaseRejected {
		t.Fatalf("status = %q, want REJECTED", status)
	}
	if got := f.inventory.quantity("ACME"); got != 100 {
		t.Errorf("inventory = %d, want untouched 100", got)
	}
	if f.wallets.balances["user-1"] != 0 {
		t.Errorf("wallet = %d, want untouched", f.wallets.balances["user-1"])
	}
	row, _ := f.purchases.GetByRequestID(ctx, result.RequestID)
	if row.Reason != "payment not authorized" {
		t.Errorf("reason = %q", row.Reason)
	}
}

func TestConfirmPaymentShortfallAtConfirmation(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 5, "10.0000")
	f.gateway.confirmation = payments.Confirmation{Status: "AUTHORIZED", ResponseCode: 0}
	ctx := context.Background()

	result, err := f.svc.CreatePurchase(ctx, "user-1", "ACME", 5)
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	// Inventory drained between creation and confirmation.
	if err := f.inventory.Reserve(ctx, nil, "ACME", 3); err != nil {
		t.Fatalf("drain: %v", err)
	}

	status, err := f.svc.ConfirmPayment(ctx, result.WebpayToken)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if status != models.PurchaseRejected {
		t.Fatalf("status = %q, want REJECTED", status)
	}
	if got := f.inventory.quantity("ACME"); got != 2 {
		t.Errorf("inventory = %d, want 2", got)
	}
	row, _ := f.purchases.GetByRequestID(ctx, result.RequestID)
	if row.Reason != "insufficient inventory at confirmation" {
		t.Errorf("reason = %q", row.Reason)
	}
}

func TestApplyValidationIgnoresGatewayFunded(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	ctx := context.Background()

	result, err := f.svc.CreatePurchase(ctx, "user-1", "ACME", 3)
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	outcome, err := f.svc.ApplyValidation(ctx, bus.Validation{
		RequestID: result.RequestID, GroupID: "7", Status: models.PurchaseAccepted,
	})
	if err != nil {
		t.Fatalf("ApplyValidation: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want ignored", outcome)
	}
	row, _ := f.purchases.GetByRequestID(ctx, result.RequestID)
	if row.Status != models.PurchasePending {
		t.Errorf("status = %q, validation must not resolve gateway-funded requests", row.Status)
	}
}

func TestApplyValidationAcceptsWalletFunded(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	ctx := context.Background()
	userID := "user-1"
	f.wallets.balances[userID] = 5000

	if err := f.purchases.Create(ctx, nil, store.PurchaseInput{
		RequestID: "req-1", UserID: &userID, GroupID: "11",
		Symbol: "ACME", Quantity: 3, Price: "10.0000",
	}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	outcome, err := f.svc.ApplyValidation(ctx, bus.Validation{
		RequestID: "req-1", GroupID: "7", Status: models.PurchaseAccepted,
	})
	if err != nil {
		t.Fatalf("ApplyValidation: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want success", outcome)
	}
	if got := f.inventory.quantity("ACME"); got != 97 {
		t.Errorf("inventory = %d, want 97", got)
	}
	if f.wallets.balances[userID] != 2000 {
		t.Errorf("balance = %d, want 2000", f.wallets.balances[userID])
	}
	row, _ := f.purchases.GetByRequestID(ctx, "req-1")
	if row.Status != models.PurchaseAccepted {
		t.Errorf("status = %q, want ACCEPTED", row.Status)
	}
	if len(f.hub.purchases) != 1 {
		t.Errorf("purchase broadcasts = %d, want 1", len(f.hub.purchases))
	}
}

func TestApplyValidationInsufficientFundsReleasesHold(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	ctx := context.Background()
	userID := "user-1"
	f.wallets.balances[userID] = 100

	if err := f.purchases.Create(ctx, nil, store.PurchaseInput{
		RequestID: "req-1", UserID: &userID, GroupID: "11",
		Symbol: "ACME", Quantity: 3, Price: "10.0000",
	}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	outcome, err := f.svc.ApplyValidation(ctx, bus.Validation{
		RequestID: "req-1", GroupID: "7", Status: models.PurchaseAccepted,
	})
	if err != nil {
		t.Fatalf("ApplyValidation: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %q, want success", outcome)
	}
	row, _ := f.purchases.GetByRequestID(ctx, "req-1")
	if row.Status != models.PurchaseRejected || row.Reason != "insufficient funds" {
		t.Fatalf("row = %q/%q, want REJECTED/insufficient funds", row.Status, row.Reason)
	}
	if got := f.inventory.quantity("ACME"); got != 100 {
		t.Errorf("reservation not released: inventory = %d", got)
	}
	if f.wallets.balances[userID] != 100 {
		t.Errorf("balance = %d, want untouched 100", f.wallets.balances[userID])
	}
}

func TestApplyValidationTerminalIsIgnored(t *testing.T) {
	f := newPurchaseFixture()
	ctx := context.Background()
	userID := "user-1"

	if err := f.purchases.Create(ctx, nil, store.PurchaseInput{
		RequestID: "req-1", UserID: &userID, GroupID: "11",
		Symbol: "ACME", Quantity: 3, Price: "10.0000",
	}); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	f.purchases.rows["req-1"].Status = models.PurchaseRejected

	outcome, err := f.svc.ApplyValidation(ctx, bus.Validation{
		RequestID: "req-1", Status: models.PurchaseAccepted,
	})
	if err != nil {
		t.Fatalf("ApplyValidation: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %q, want ignored", outcome)
	}
	if row, _ := f.purchases.GetByRequestID(ctx, "req-1"); row.Status != models.PurchaseRejected {
		t.Errorf("terminal status changed to %q", row.Status)
	}
}

func TestApplyValidationRejectsUnknownStatus(t *testing.T) {
	f := newPurchaseFixture()

	if _, err := f.svc.ApplyValidation(context.Background(), bus.Validation{
		RequestID: "req-1", Status: "MAYBE",
	}); err != ErrInvalidStatus {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestExternalPurchaseReservesAndAccepts(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	ctx := context.Background()

	if err := f.svc.ExternalPurchase(ctx, "req-x", "7", "ACME", 4); err != nil {
		t.Fatalf("ExternalPurchase: %v", err)
	}
	if got := f.inventory.quantity("ACME"); got != 96 {
		t.Errorf("inventory = %d, want 96", got)
	}
	row, err := f.purchases.GetByRequestID(ctx, "req-x")
	if err != nil {
		t.Fatalf("purchase row: %v", err)
	}
	if row.Status != models.PurchaseAccepted || row.GroupID != "7" {
		t.Errorf("row = %+v", row)
	}
	last := f.publisher.messages[len(f.publisher.messages)-1]
	if last.topic != bus.TopicValidation {
		t.Errorf("validation not announced, last topic %q", last.topic)
	}
}

func TestExternalPurchaseRedelivery(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 100, "10.0000")
	ctx := context.Background()

	if err := f.svc.ExternalPurchase(ctx, "req-x", "7", "ACME", 4); err != nil {
		t.Fatalf("ExternalPurchase: %v", err)
	}
	if err := f.svc.ExternalPurchase(ctx, "req-x", "7", "ACME", 4); err != ErrDuplicateRequest {
		t.Fatalf("redelivery err = %v, want ErrDuplicateRequest", err)
	}
}

func TestExternalPurchaseInsufficientInventory(t *testing.T) {
	f := newPurchaseFixture()
	f.seedStock(t, "ACME", 2, "10.0000")

	if err := f.svc.ExternalPurchase(context.Background(), "req-x", "7", "ACME", 4); err != store.ErrInsufficientInventory {
		t.Fatalf("err = %v, want ErrInsufficientInventory", err)
	}
}
