// Package payment initiates checkout with the payment gateway and relays
// verification through the backend. The gateway is never asked to confirm
// success from the client: any client-only success signal is ignored.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/FloraLens-io/floralens/internal/apperrors"
	"github.com/FloraLens-io/floralens/internal/models"
	"github.com/FloraLens-io/floralens/internal/store"
)

// Verifier is the slice of the store the payment service needs.
type Verifier interface {
	VerifyPayment(ctx context.Context, reference string) (*models.PaymentVerification, error)
	CreateSubscription(ctx context.Context, s *models.Subscription) (*models.Subscription, error)
}

type Service struct {
	store     Verifier
	publicKey string
}

func New(st *store.Client, publicKey string) *Service {
	return &Service{store: st, publicKey: publicKey}
}

// keyConfigured rejects empty keys and the placeholder values that ship in
// example configs.
func keyConfigured(key string) bool {
	if key == "" {
		return false
	}
	lower := strings.ToLower(key)
	if strings.Contains(lower, "xxxx") || strings.HasPrefix(lower, "your_") {
		return false
	}
	return true
}

// Initiate generates a unique payment reference and the parameters the
// embedded checkout needs. amount is in the gateway's minor unit (kobo).
func (s *Service) Initiate(email string, amount int64, plan, cycle string) (*models.PaymentInit, error) {
	if !keyConfigured(s.publicKey) {
		return nil, apperrors.Config("payment gateway key is missing or a placeholder")
	}
	if email == "" {
		return nil, apperrors.Validation("email is required")
	}
	if amount <= 0 {
		return nil, apperrors.Validation("amount must be positive")
	}

	reference := newReference()
	log.Infof("payment: initiated (reference=%s plan=%s cycle=%s amount=%d)", reference, plan, cycle, amount)

	return &models.PaymentInit{
		Reference:  reference,
		GatewayKey: s.publicKey,
		Email:      email,
		Amount:     amount,
	}, nil
}

// Verify asks the backend to confirm the payment against the gateway. This is
// the only verification path.
func (s *Service) Verify(ctx context.Context, reference string) (*models.PaymentVerification, error) {
	if reference == "" {
		return nil, apperrors.Validation("payment reference is required")
	}

	v, err := s.store.VerifyPayment(ctx, reference)
	if err != nil {
		return nil, apperrors.Payment(reference, "payment verification failed", err)
	}
	if !v.Success {
		log.Warnf("payment: verification reported failure (reference=%s)", reference)
	}
	return v, nil
}

// Activate verifies the payment and, on success, records the subscription it
// paid for. Verification failure leaves no subscription behind.
func (s *Service) Activate(ctx context.Context, userID, reference, plan string, cycle time.Duration) (*models.Subscription, error) {
	v, err := s.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !v.Success {
		return nil, apperrors.Payment(reference, "payment was not successful", nil)
	}

	start := time.Now()
	if v.PaidAt != nil {
		start = *v.PaidAt
	}
	sub := &models.Subscription{
		UserID:     userID,
		Plan:       plan,
		Status:     models.SubscriptionActive,
		StartDate:  start,
		EndDate:    start.Add(cycle),
		PaymentRef: reference,
	}
	created, err := s.store.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, apperrors.Payment(reference, "failed to record subscription", err)
	}
	log.Infof("payment: subscription activated (user=%s plan=%s reference=%s)", userID, plan, reference)
	return created, nil
}

// newReference builds a client-side unique reference: timestamp plus a random
// suffix.
func newReference() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("FLORA_%d_%s", time.Now().UnixMilli(), suffix)
}
