package payments

// EventType identifies the provider webhook event kinds the core understands.
type EventType string

const (
	EventSessionCompleted EventType = "checkout.session.completed"
	EventSessionExpired   EventType = "checkout.session.expired"
	EventIntentSucceeded  EventType = "payment_intent.succeeded"
	EventIntentFailed     EventType = "payment_intent.payment_failed"
	EventCustomerCreated  EventType = "customer.created"
)

// Event is a verified webhook event decoded into a closed tagged union. The
// processor type-switches on Payload; unrecognised event types arrive as
// UnknownPayload and are acknowledged without state changes.
type Event struct {
	ID      string
	Type    EventType
	Payload EventPayload
}

// EventPayload is the sealed interface implemented by the payload variants.
type EventPayload interface {
	isEventPayload()
}

// SessionCompletedPayload corresponds to checkout.session.completed.
type SessionCompletedPayload struct {
	SessionID     string
	IntentID      string
	PaymentStatus PaymentStatus
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
}

// SessionExpiredPayload corresponds to checkout.session.expired.
type SessionExpiredPayload struct {
	SessionID string
	Metadata  map[string]string
}

// IntentSucceededPayload corresponds to payment_intent.succeeded.
type IntentSucceededPayload struct {
	IntentID string
	Amount   int64
	Currency string
	Metadata map[string]string
}

// IntentFailedPayload corresponds to payment_intent.payment_failed.
type IntentFailedPayload struct {
	IntentID       string
	FailureCode    string
	FailureMessage string
	Metadata       map[string]string
}

// CustomerCreatedPayload corresponds to customer.created.
type CustomerCreatedPayload struct {
	CustomerID string
	Email      string
}

// UnknownPayload carries event types outside the closed union. Processors must
// acknowledge these without failing, to avoid provider retry storms.
type UnknownPayload struct {
	RawType string
}

func (SessionCompletedPayload) isEventPayload() {}
func (SessionExpiredPayload) isEventPayload()   {}
func (IntentSucceededPayload) isEventPayload()  {}
func (IntentFailedPayload) isEventPayload()     {}
func (CustomerCreatedPayload) isEventPayload()  {}
func (UnknownPayload) isEventPayload()          {}
