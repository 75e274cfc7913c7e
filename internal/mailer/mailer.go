package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Mailer is the outbound email collaborator. Production transports live
// outside this service; the core only ever calls Send.
type Mailer interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

// LogMailer is the development implementation: it logs the message
// instead of delivering it.
type LogMailer struct {
	Logger *zap.SugaredLogger
}

func (m LogMailer) Send(ctx context.Context, to, subject, html, text string) error {
	m.Logger.Infow("outbound email (dev mailer)",
		"to", to,
		"subject", subject,
		"text", text,
	)
	return nil
}

// PasswordResetEmail builds the recovery-code message bodies.
func PasswordResetEmail(name, code string) (subject, html, text string) {
	subject = "Password reset request"
	html = fmt.Sprintf(
		"<p>Hi %s,</p><p>Your password reset code is <b>%s</b>. It expires in 20 minutes.</p>"+
			"<p>If you did not request a reset, you can ignore this email.</p>",
		name, code)
	text = fmt.Sprintf(
		"Hi %s,\n\nYour password reset code is %s. It expires in 20 minutes.\n\n"+
			"If you did not request a reset, you can ignore this email.\n",
		name, code)
	return subject, html, text
}
