package services

import (
	"context"

	"github.com/dmitrijs2005/metta/internal/logging"
)

// Mailer delivers password reset tokens to users.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes reset tokens to the log instead of sending mail.
// Meant for development and single-operator installs.
type LogMailer struct {
	log logging.Logger
}

func NewLogMailer(log logging.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.log.Info(ctx, "password reset requested", "email", email, "token", token)
	return nil
}
