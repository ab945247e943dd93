package email

import (
	"fmt"
	"time"

	"github.com/resend/resend-go/v3"
)

// ResendService implements Service using the Resend API.
type ResendService struct {
	client      *resend.Client
	fromAddress string
}

// NewResendService creates a Resend-backed email service. fromAddress must
// be a sender verified in Resend.
func NewResendService(apiKey, fromAddress string) *ResendService {
	return &ResendService{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

// SendAccessCode sends the login code email via Resend.
func (r *ResendService) SendAccessCode(to, code string, lifetime time.Duration) error {
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      []string{to},
		Subject: "Your ctrl+v access code",
		Html:    renderAccessCodeHTML(code, lifetime),
	}

	if _, err := r.client.Emails.Send(params); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}

// renderAccessCodeHTML generates the access-code email body.
func renderAccessCodeHTML(code string, lifetime time.Duration) string {
	minutes := int(lifetime.Minutes())
	return fmt.Sprintf(
		`<p>Your ctrl+v code is:</p><p style="font-size:24px;font-weight:bold;letter-spacing:3px">%s</p><p>This code expires in %d minutes.</p>`,
		code, minutes,
	)
}
