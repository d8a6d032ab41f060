// Package mail is the delivery boundary for recovery-code email.
package mail

import (
	"context"
	"log"
	"time"
)

// Mailer delivers a recovery code to an account email address.
//
// Delivery is fire-and-forget from the caller's perspective: issuance
// never fails because delivery did.
type Mailer interface {
	SendRecoveryCode(ctx context.Context, email string, code string, expiresAt time.Time) error
}

// LogMailer writes deliveries to the process log. It stands in for a real
// transactional mail provider in development and tests; email rendering
// and transport live outside this service.
type LogMailer struct{}

// SendRecoveryCode logs the delivery instead of sending it.
func (LogMailer) SendRecoveryCode(_ context.Context, email string, code string, expiresAt time.Time) error {
	log.Printf("mail: recovery code %s for %s (expires %s)", code, email, expiresAt.UTC().Format(time.RFC3339))
	return nil
}
