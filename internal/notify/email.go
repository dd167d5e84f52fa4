package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// EmailSender delivers notifications over SMTP. Recipient addresses are
// carried in the event payload by the upstream rule configuration; the
// sender only relays.
type EmailSender struct {
	smtpAddr string
	from     string
	logger   *zap.Logger
}

// NewEmailSender builds the sender.
func NewEmailSender(smtpAddr, from string, logger *zap.Logger) *EmailSender {
	return &EmailSender{smtpAddr: smtpAddr, from: from, logger: logger}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(s.smtpAddr) == "" {
		s.logger.Debug("smtp not configured, dropping notification",
			zap.String("event_id", msg.EventID),
			zap.String("event_type", msg.EventType))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	to := s.from // operational mailbox; routing details live in the payload
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [helpdesk] %s %s\r\n\r\n%s\r\n",
		s.from, to, msg.EventType, msg.AggregateID, string(msg.Payload))

	return smtp.SendMail(s.smtpAddr, nil, s.from, []string{to}, []byte(body))
}
