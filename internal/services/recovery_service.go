package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pressdeck/api/internal/domain"
	"github.com/pressdeck/api/internal/platform/auth"
	"github.com/pressdeck/api/internal/repositories"
)

// ReminderStageOffsets is the staged reminder schedule, indexed by stage:
// immediately on abandonment, then one hour, one day, and three days in.
var ReminderStageOffsets = []time.Duration{
	0,
	time.Hour,
	24 * time.Hour,
	72 * time.Hour,
}

const (
	defaultRecoveryTTL = 7 * 24 * time.Hour
	defaultSweepBatch  = 100
	recoveryTokenParam = "token"
)

var (
	// ErrRecoveryInvalidInput indicates the caller supplied invalid input parameters.
	ErrRecoveryInvalidInput = errors.New("recovery: invalid input")
	// ErrRecoveryUnavailable indicates the abandoned-cart store is currently unavailable.
	ErrRecoveryUnavailable = errors.New("recovery: unavailable")
)

// RecoveryServiceDeps wires the dependencies required by the recovery service.
type RecoveryServiceDeps struct {
	Carts     repositories.AbandonedCartRepository
	Tokens    *auth.RecoveryTokenIssuer
	Reminders ReminderPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
	IDGen     func() string
	TTL       time.Duration
	BaseURL   string
}

type recoveryService struct {
	carts     repositories.AbandonedCartRepository
	tokens    *auth.RecoveryTokenIssuer
	reminders ReminderPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	newID     func() string
	ttl       time.Duration
	baseURL   string
}

// NewRecoveryService constructs a RecoveryService validating required dependencies.
func NewRecoveryService(deps RecoveryServiceDeps) (RecoveryService, error) {
	if deps.Carts == nil {
		return nil, errors.New("recovery service: abandoned cart repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("recovery service: token issuer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGen
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultRecoveryTTL
	}

	return &recoveryService{
		carts:     deps.Carts,
		tokens:    deps.Tokens,
		reminders: deps.Reminders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		newID:   newID,
		ttl:     ttl,
		baseURL: strings.TrimRight(strings.TrimSpace(deps.BaseURL), "/"),
	}, nil
}

// TrackAbandonment snapshots a failed checkout so the reminder sweep can reach
// the buyer. The snapshot carries a server-issued recovery token bound to the
// retention window.
func (s *recoveryService) TrackAbandonment(ctx context.Context, cmd TrackAbandonmentCommand) (domain.AbandonedCart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	sessionID := strings.TrimSpace(cmd.SessionID)
	if userID == "" || sessionID == "" || len(cmd.Items) == 0 {
		return domain.AbandonedCart{}, ErrRecoveryInvalidInput
	}

	now := s.now()
	id := s.newID()

	token, err := s.tokens.Issue(id, now.Add(s.ttl))
	if err != nil {
		return domain.AbandonedCart{}, fmt.Errorf("recovery: issue token: %w", err)
	}

	cart := domain.AbandonedCart{
		ID:            id,
		UserID:        userID,
		SessionID:     sessionID,
		Items:         cmd.Items,
		Billing:       cmd.Billing,
		FailureCode:   strings.TrimSpace(cmd.FailureCode),
		FailureReason: strings.TrimSpace(cmd.FailureReason),
		Status:        domain.AbandonedStatusAbandoned,
		NextStage:     0,
		RecoveryToken: token,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.carts.Insert(ctx, cart); err != nil {
		return domain.AbandonedCart{}, s.translateError(err)
	}

	s.logger(ctx, "recovery.cart_tracked", map[string]any{
		"cartId":      cart.ID,
		"userId":      userID,
		"sessionId":   sessionID,
		"failureCode": cart.FailureCode,
	})
	return cart, nil
}

// SendDueReminders advances every open cart whose next stage is due and
// publishes one reminder job per advance. The conditional stage write makes
// each (cart, stage) pair fire at most once across concurrent sweeps.
func (s *recoveryService) SendDueReminders(ctx context.Context, limit int) (ReminderSweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}

	carts, err := s.carts.ListOpen(ctx, limit)
	if err != nil {
		return ReminderSweepResult{}, s.translateError(err)
	}

	now := s.now()
	var result ReminderSweepResult
	for _, cart := range carts {
		result.Examined++

		if now.Sub(cart.CreatedAt) > s.ttl {
			applied, err := s.carts.SetStatus(ctx, cart.ID,
				[]domain.AbandonedCartStatus{domain.AbandonedStatusAbandoned, domain.AbandonedStatusRecoverySent},
				domain.AbandonedStatusExpired, now)
			if err != nil {
				return result, s.translateError(err)
			}
			if applied {
				result.Expired++
			}
			continue
		}

		if cart.NextStage >= len(ReminderStageOffsets) {
			continue
		}
		if now.Before(cart.CreatedAt.Add(ReminderStageOffsets[cart.NextStage])) {
			continue
		}

		applied, err := s.carts.AdvanceStage(ctx, cart.ID, cart.NextStage, repositories.StageAdvance{
			SentAt:    now,
			NewStatus: domain.AbandonedStatusRecoverySent,
		})
		if err != nil {
			return result, s.translateError(err)
		}
		if !applied {
			continue
		}
		result.Sent++

		s.publishReminder(ctx, cart)
	}

	return result, nil
}

// MarkRecovered closes every open abandoned cart for the user, typically after
// a fresh checkout session. Returns the number of carts closed.
func (s *recoveryService) MarkRecovered(ctx context.Context, userID string, at time.Time) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrRecoveryInvalidInput
	}
	if at.IsZero() {
		at = s.now()
	}

	carts, err := s.carts.FindOpenByUser(ctx, userID)
	if err != nil {
		return 0, s.translateError(err)
	}

	recovered := 0
	for _, cart := range carts {
		applied, err := s.carts.SetStatus(ctx, cart.ID,
			[]domain.AbandonedCartStatus{domain.AbandonedStatusAbandoned, domain.AbandonedStatusRecoverySent},
			domain.AbandonedStatusRecovered, at.UTC())
		if err != nil {
			return recovered, s.translateError(err)
		}
		if applied {
			recovered++
		}
	}

	if recovered > 0 {
		s.logger(ctx, "recovery.carts_recovered", map[string]any{
			"userId": userID,
			"count":  recovered,
		})
	}
	return recovered, nil
}

// PurgeExpired deletes carts whose retention window ended before the cutoff.
func (s *recoveryService) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = s.now().Add(-s.ttl)
	}
	deleted, err := s.carts.DeleteExpiredBefore(ctx, before.UTC())
	if err != nil {
		return 0, s.translateError(err)
	}
	if deleted > 0 {
		s.logger(ctx, "recovery.carts_purged", map[string]any{"count": deleted})
	}
	return deleted, nil
}

// publishReminder is best effort: the stage advance already happened, so a
// publish failure is logged and the stage is not retried.
func (s *recoveryService) publishReminder(ctx context.Context, cart domain.AbandonedCart) {
	if s.reminders == nil {
		return
	}
	msg := ReminderJobMessage{
		CartID:      cart.ID,
		UserID:      cart.UserID,
		Email:       cart.Billing.Email,
		Stage:       cart.NextStage,
		RecoveryURL: s.recoveryURL(cart.RecoveryToken),
		FailureCode: cart.FailureCode,
	}
	if _, err := s.reminders.PublishReminder(ctx, msg); err != nil {
		s.logger(ctx, "recovery.reminder_publish_failed", map[string]any{
			"cartId": cart.ID,
			"stage":  cart.NextStage,
			"error":  err.Error(),
		})
		return
	}
	s.logger(ctx, "recovery.reminder_sent", map[string]any{
		"cartId": cart.ID,
		"stage":  cart.NextStage,
	})
}

func (s *recoveryService) recoveryURL(token string) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s?%s=%s", s.baseURL, recoveryTokenParam, token)
}

func (s *recoveryService) translateError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrRecoveryInvalidInput
	}
	return ErrRecoveryUnavailable
}
