package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/payments"
	"github.com/pressdeck/api/internal/repositories"
)

type stubGateway struct {
	createFn   func(req payments.CreateSessionRequest) (payments.Session, error)
	retrieveFn func(sessionID string) (payments.SessionDetails, error)
	lastCreate payments.CreateSessionRequest
}

func (g *stubGateway) CreateSession(_ context.Context, req payments.CreateSessionRequest) (payments.Session, error) {
	g.lastCreate = req
	if g.createFn != nil {
		return g.createFn(req)
	}
	return payments.Session{
		ID:          "cs_stub_1",
		IntentID:    "pi_stub_1",
		RedirectURL: "https://pay.example/cs_stub_1",
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

func (g *stubGateway) RetrieveSession(_ context.Context, sessionID string) (payments.SessionDetails, error) {
	if g.retrieveFn != nil {
		return g.retrieveFn(sessionID)
	}
	return payments.SessionDetails{}, errors.New("not implemented")
}

func (g *stubGateway) ParseWebhookEvent([]byte, string) (payments.Event, error) {
	return payments.Event{}, errors.New("not implemented")
}

type stubSessionRepo struct {
	sessions map[string]domain.CheckoutSession
	failAll  error
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: map[string]domain.CheckoutSession{}}
}

func (r *stubSessionRepo) Insert(_ context.Context, session domain.CheckoutSession) error {
	if r.failAll != nil {
		return r.failAll
	}
	if _, exists := r.sessions[session.ID]; exists {
		return stubRepoError{conflict: true}
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *stubSessionRepo) Get(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	if r.failAll != nil {
		return domain.CheckoutSession{}, r.failAll
	}
	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, stubRepoError{notFound: true}
	}
	return session, nil
}

func (r *stubSessionRepo) FindByIntentID(_ context.Context, intentID string) (domain.CheckoutSession, error) {
	if r.failAll != nil {
		return domain.CheckoutSession{}, r.failAll
	}
	for _, session := range r.sessions {
		if session.IntentID == intentID {
			return session, nil
		}
	}
	return domain.CheckoutSession{}, stubRepoError{notFound: true}
}

func (r *stubSessionRepo) FindByOrderNumber(_ context.Context, orderNumber string) (domain.CheckoutSession, error) {
	if r.failAll != nil {
		return domain.CheckoutSession{}, r.failAll
	}
	for _, session := range r.sessions {
		if session.OrderNumber == orderNumber {
			return session, nil
		}
	}
	return domain.CheckoutSession{}, stubRepoError{notFound: true}
}

func (r *stubSessionRepo) TransitionStatus(_ context.Context, sessionID string, from, to domain.CheckoutSessionStatus, update repositories.SessionTransitionUpdate) (bool, domain.CheckoutSession, error) {
	if r.failAll != nil {
		return false, domain.CheckoutSession{}, r.failAll
	}
	session, ok := r.sessions[sessionID]
	if !ok {
		return false, domain.CheckoutSession{}, stubRepoError{notFound: true}
	}
	if session.Status != from {
		return false, session, nil
	}
	session.Status = to
	if update.IntentID != "" {
		session.IntentID = update.IntentID
	}
	session.FailureCode = update.FailureCode
	session.FailureReason = update.FailureReason
	session.UpdatedAt = update.UpdatedAt
	r.sessions[sessionID] = session
	return true, session, nil
}

type stubRecovery struct {
	tracked      []TrackAbandonmentCommand
	recoveredFor []string
	markErr      error
	trackErr     error
	sweepResult  ReminderSweepResult
	purgedBefore time.Time
}

func (s *stubRecovery) TrackAbandonment(_ context.Context, cmd TrackAbandonmentCommand) (domain.AbandonedCart, error) {
	if s.trackErr != nil {
		return domain.AbandonedCart{}, s.trackErr
	}
	s.tracked = append(s.tracked, cmd)
	return domain.AbandonedCart{ID: "ab-1", UserID: cmd.UserID, SessionID: cmd.SessionID}, nil
}

func (s *stubRecovery) SendDueReminders(context.Context, int) (ReminderSweepResult, error) {
	return s.sweepResult, nil
}

func (s *stubRecovery) MarkRecovered(_ context.Context, userID string, _ time.Time) (int, error) {
	if s.markErr != nil {
		return 0, s.markErr
	}
	s.recoveredFor = append(s.recoveredFor, userID)
	return 1, nil
}

func (s *stubRecovery) PurgeExpired(_ context.Context, before time.Time) (int, error) {
	s.purgedBefore = before
	return 0, nil
}

type checkoutFixture struct {
	carts    *stubCartRepo
	sessions *stubSessionRepo
	gateway  *stubGateway
	recovery *stubRecovery
	svc      CheckoutService
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	f := &checkoutFixture{
		carts:    newStubCartRepo(),
		sessions: newStubSessionRepo(),
		gateway:  &stubGateway{},
		recovery: &stubRecovery{},
	}
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{})
	if err != nil {
		t.Fatalf("NewCartPricingEngine: %v", err)
	}
	f.svc, err = NewCheckoutService(CheckoutServiceDeps{
		Carts:      f.carts,
		Sessions:   f.sessions,
		Gateway:    f.gateway,
		Pricing:    engine,
		Recovery:   f.recovery,
		Clock:      func() time.Time { return testTime },
		SessionTTL: 24 * time.Hour,
		SuccessURL: "https://app.example/checkout/success",
		CancelURL:  "https://app.example/checkout/cancel",
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return f
}

func seedCart(f *checkoutFixture, items ...domain.CartItem) {
	f.carts.items["user-1"] = map[string]domain.CartItem{}
	for _, item := range items {
		item.UserID = "user-1"
		f.carts.items["user-1"][item.ID] = item
	}
}

func TestCreateSessionHappyPath(t *testing.T) {
	f := newCheckoutFixture(t)
	seedCart(f,
		domain.CartItem{ID: "a", OutletID: "outlet-1", OutletName: "Daily Example", Category: "tech", BasePrice: 10_000, Quantity: 1},
		domain.CartItem{ID: "b", OutletID: "outlet-2", OutletName: "Weekly Sample", Category: "finance", BasePrice: 5_000, Quantity: 2, ContentOption: domain.ContentProfessional},
	)

	handle, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{
		UserID:  "user-1",
		Billing: domain.BillingInfo{Email: "buyer@example.com", Country: "DE"},
	})
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	// 100.00 + 2 x 75.00 = 250.00 subtotal, 25% VAT
	if handle.Subtotal != 25_000 || handle.VAT != 6_250 || handle.Total != 31_250 {
		t.Errorf("unexpected totals: %+v", handle)
	}
	if handle.SessionID != "cs_stub_1" || handle.RedirectURL == "" {
		t.Errorf("unexpected handle: %+v", handle)
	}
	if want := testTime.Add(24 * time.Hour); !handle.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, handle.ExpiresAt)
	}

	stored, ok := f.sessions.sessions["cs_stub_1"]
	if !ok {
		t.Fatal("session was not persisted")
	}
	if stored.Status != domain.SessionStatusCreated {
		t.Errorf("expected status created, got %s", stored.Status)
	}
	if len(stored.Items) != 2 {
		t.Errorf("expected 2 snapshot lines, got %d", len(stored.Items))
	}
	if stored.OrderNumber != handle.OrderNumber {
		t.Errorf("order number mismatch: %s vs %s", stored.OrderNumber, handle.OrderNumber)
	}

	req := f.gateway.lastCreate
	if req.Metadata[MetaUserID] != "user-1" || req.Metadata[MetaOrderNumber] != handle.OrderNumber {
		t.Errorf("metadata missing correlation keys: %v", req.Metadata)
	}
	if req.VATAmount != 6_250 {
		t.Errorf("unexpected VAT line %d", req.VATAmount)
	}
	if req.IdempotencyKey == "" {
		t.Error("idempotency key not set")
	}

	// The live cart must be untouched.
	if len(f.carts.items["user-1"]) != 2 {
		t.Errorf("live cart was mutated: %d items", len(f.carts.items["user-1"]))
	}
	if len(f.recovery.recoveredFor) != 1 || f.recovery.recoveredFor[0] != "user-1" {
		t.Errorf("expected open abandoned carts to be marked recovered, got %v", f.recovery.recoveredFor)
	}
}

func TestCreateSessionIdempotencyKeyIsStable(t *testing.T) {
	f := newCheckoutFixture(t)
	seedCart(f, domain.CartItem{ID: "a", OutletID: "outlet-1", Category: "tech", BasePrice: 10_000, Quantity: 1})

	if _, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"}); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}
	first := f.gateway.lastCreate.IdempotencyKey

	delete(f.sessions.sessions, "cs_stub_1")
	if _, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"}); err != nil {
		t.Fatalf("second CreateSession: %v", err)
	}
	if f.gateway.lastCreate.IdempotencyKey != first {
		t.Errorf("idempotency key changed for identical cart: %q vs %q", first, f.gateway.lastCreate.IdempotencyKey)
	}
}

func TestCreateSessionCollectsAllViolations(t *testing.T) {
	f := newCheckoutFixture(t)
	seedCart(f,
		domain.CartItem{ID: "a", OutletID: "outlet-1", Category: "tech", BasePrice: 10, Quantity: 1},  // below provider minimum
		domain.CartItem{ID: "b", OutletID: "", Category: "", BasePrice: 10_000, Quantity: 0},          // several problems at once
		domain.CartItem{ID: "c", OutletID: "outlet-3", Category: "news", BasePrice: 5_000, Quantity: 1, ReadOnly: true},
	)

	_, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	codes := map[string]bool{}
	for _, v := range vErr.Violations {
		codes[v.Code] = true
	}
	for _, want := range []string{"price_out_of_bounds", "outlet_missing", "category_missing", "quantity_out_of_bounds", "item_read_only"} {
		if !codes[want] {
			t.Errorf("missing violation %q in %v", want, vErr.Violations)
		}
	}
	if len(f.sessions.sessions) != 0 {
		t.Error("no session should be persisted on validation failure")
	}
}

func TestCreateSessionEmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)

	_, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Violations) != 1 || vErr.Violations[0].Code != "cart_empty" {
		t.Errorf("unexpected violations: %v", vErr.Violations)
	}
}

func TestValidateCartRejectsOversizedCart(t *testing.T) {
	f := newCheckoutFixture(t)

	items := make([]domain.CartItem, MaxCartLines+1)
	for i := range items {
		items[i] = domain.CartItem{OutletID: "outlet", Category: "news", BasePrice: 5_000, Quantity: 1}
	}
	violations := f.svc.ValidateCart(items)
	found := false
	for _, v := range violations {
		if v.Code == "too_many_lines" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected too_many_lines violation, got %v", violations)
	}
}

func TestValidateCartFieldsIndexSubmittedSlice(t *testing.T) {
	f := newCheckoutFixture(t)

	// A read-only line ahead of a broken one must not shift the broken
	// line's reported position.
	violations := f.svc.ValidateCart([]domain.CartItem{
		{ID: "a", OutletID: "outlet-1", Category: "news", BasePrice: 5_000, Quantity: 1, ReadOnly: true},
		{ID: "b", OutletID: "outlet-2", Category: "tech", BasePrice: 10, Quantity: 1},
		{ID: "c", OutletID: "", Category: "finance", BasePrice: 5_000, Quantity: 1},
	})

	fields := map[string]string{}
	for _, v := range violations {
		fields[v.Code] = v.Field
	}
	if got := fields["item_read_only"]; got != "items[0]" {
		t.Errorf("expected item_read_only at items[0], got %q", got)
	}
	if got := fields["price_out_of_bounds"]; got != "items[1].basePrice" {
		t.Errorf("expected price_out_of_bounds at items[1].basePrice, got %q", got)
	}
	if got := fields["outlet_missing"]; got != "items[2].outletId" {
		t.Errorf("expected outlet_missing at items[2].outletId, got %q", got)
	}
}

func TestCreateSessionGatewayErrors(t *testing.T) {
	f := newCheckoutFixture(t)
	seedCart(f, domain.CartItem{ID: "a", OutletID: "outlet-1", Category: "tech", BasePrice: 10_000, Quantity: 1})

	f.gateway.createFn = func(payments.CreateSessionRequest) (payments.Session, error) {
		return payments.Session{}, &payments.GatewayError{Op: "create session", Retryable: true, Err: errors.New("rate limited")}
	}
	if _, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"}); !errors.Is(err, ErrCheckoutGatewayUnavailable) {
		t.Fatalf("expected ErrCheckoutGatewayUnavailable, got %v", err)
	}

	f.gateway.createFn = func(payments.CreateSessionRequest) (payments.Session, error) {
		return payments.Session{}, &payments.GatewayError{Op: "create session", Retryable: false, Err: errors.New("invalid request")}
	}
	if _, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"}); !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
}

func TestCreateSessionRequiresUserAndURLs(t *testing.T) {
	f := newCheckoutFixture(t)

	if _, err := f.svc.CreateSession(context.Background(), CreateSessionCommand{}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing user, got %v", err)
	}

	engine, _ := NewCartPricingEngine(CartPricingEngineDeps{})
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:    f.carts,
		Sessions: f.sessions,
		Gateway:  f.gateway,
		Pricing:  engine,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	if _, err := svc.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing URLs, got %v", err)
	}
}
