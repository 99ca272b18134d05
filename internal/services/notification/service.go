// Package notification sends the SMS that follow a successful transfer.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/services/charging"
)

// Config keys of the SMS category.
const (
	KeySender     = "sms.sender"
	KeyReceiver   = "sms.receiver"
	KeySenderAr   = "sms.sender.ar"
	KeyReceiverAr = "sms.receiver.ar"
	KeyShortCode  = "sms.short_code"
)

const (
	defaultSender   = "You transferred {amount} to {destination}. Ref {reference}."
	defaultReceiver = "You received {amount} from {source}. Ref {reference}."
)

// Templates are the texts of one language pair. Placeholders: {amount},
// {source}, {destination}, {reference}.
type Templates struct {
	Sender     string
	Receiver   string
	SenderAr   string
	ReceiverAr string
	ShortCode  string
}

// TemplatesFrom reads the SMS category of the config store, falling back
// to built-in English texts.
func TemplatesFrom(values map[string]string) Templates {
	t := Templates{
		Sender:     values[KeySender],
		Receiver:   values[KeyReceiver],
		SenderAr:   values[KeySenderAr],
		ReceiverAr: values[KeyReceiverAr],
		ShortCode:  values[KeyShortCode],
	}
	if t.Sender == "" {
		t.Sender = defaultSender
	}
	if t.Receiver == "" {
		t.Receiver = defaultReceiver
	}
	return t
}

// Render fills the sender and receiver texts for tx.
func (t Templates) Render(tx *models.TransferTransaction) (toSender, toReceiver string) {
	sender, receiver := t.Sender, t.Receiver
	if tx.Arabic {
		if t.SenderAr != "" {
			sender = t.SenderAr
		}
		if t.ReceiverAr != "" {
			receiver = t.ReceiverAr
		}
	}
	r := strings.NewReplacer(
		"{amount}", models.FormatAmount(tx.Amount),
		"{source}", tx.SourceMSISDN,
		"{destination}", tx.DestinationMSISDN,
		"{reference}", tx.ExternalReference,
	)
	return r.Replace(sender), r.Replace(receiver)
}

// Service delivers transfer notifications through the charging gateway.
type Service struct {
	gateway charging.Gateway
}

// NewService creates a new notification service.
func NewService(gateway charging.Gateway) *Service {
	if gateway == nil {
		panic("gateway is required")
	}
	return &Service{gateway: gateway}
}

// SendTransferNotification texts both parties. Delivery is best effort: the
// first failure is returned as an SmsError but both messages are attempted.
func (s *Service) SendTransferNotification(ctx context.Context, t Templates, tx *models.TransferTransaction) error {
	toSender, toReceiver := t.Render(tx)
	from := t.ShortCode
	if from == "" {
		from = tx.SourceMSISDN
	}

	var firstErr error
	send := func(to, text string) {
		res, err := s.gateway.SendSMS(ctx, from, to, text, tx.Arabic)
		if err == nil && !res.OK() {
			err = fmt.Errorf("sms to %s rejected with code %d", to, res.Code)
		}
		if err != nil {
			log.Warnw("transfer notification failed", "transaction_id", tx.ID, "to", to, "error", err)
			if firstErr == nil {
				firstErr = errors.Newf(errors.SmsError, "%v", err)
			}
		}
	}
	send(tx.DestinationMSISDN, toReceiver)
	send(tx.SourceMSISDN, toSender)
	return firstErr
}
