package transfer

import (
	"github.com/shopspring/decimal"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/validation"
)

// TransferOutcome is what every caller gets back, success or not.
type TransferOutcome struct {
	StatusCode       int           `json:"status_code"`
	StatusMessage    string        `json:"status_message"`
	TransactionID    uint          `json:"transaction_id,omitempty"`
	ProcessedAmount  string        `json:"processed_amount,omitempty"`
	Status           models.Status `json:"status,omitempty"`
	NotificationCode int           `json:"notification_code,omitempty"`
}

// Kind returns the status code as an error kind.
func (o TransferOutcome) Kind() errors.Kind { return errors.Kind(o.StatusCode) }

// Succeeded reports a zero status code.
func (o TransferOutcome) Succeeded() bool { return o.StatusCode == errors.Success.Code() }

func (s *service) fail(settings Settings, k errors.Kind, arabic bool) TransferOutcome {
	return TransferOutcome{StatusCode: k.Code(), StatusMessage: settings.Message(k, arabic)}
}

func (s *service) rejected(settings Settings, o validation.Outcome, arabic bool) TransferOutcome {
	return s.fail(settings, o.Kind, arabic)
}

// outcomeFor summarizes a ledger row for the caller.
func (s *service) outcomeFor(settings Settings, row *models.TransferTransaction) TransferOutcome {
	out := TransferOutcome{
		TransactionID:   row.ID,
		ProcessedAmount: models.FormatAmount(decimal.Zero),
		Status:          row.DeriveStatus(),
	}
	k := errors.Kind(row.ErrorCode)
	switch {
	case out.Status == models.StatusSucceeded:
		k = errors.Success
		out.ProcessedAmount = models.FormatAmount(row.Amount)
		out.NotificationCode = row.NotifyErrorCode
	case k == errors.Success || !k.Known():
		k = errors.MiscellaneousError
	}
	out.StatusCode = k.Code()
	out.StatusMessage = settings.Message(k, row.Arabic)
	return out
}
