package transfer

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2/log"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
	"ocstransfer/internal/repositories"
	"ocstransfer/internal/repositories/cache"
	"ocstransfer/internal/services/charging"
	"ocstransfer/internal/validation"
)

type action int

const (
	actNone action = iota
	actReserve
	actCharge
	actCredit
	actCancel
	actTransfer
)

func (a action) String() string {
	switch a {
	case actReserve:
		return "reserve"
	case actCharge:
		return "charge"
	case actCredit:
		return "credit"
	case actCancel:
		return "cancel"
	case actTransfer:
		return "transfer"
	}
	return "none"
}

// nextAction derives the next saga step from the flag vector alone.
func nextAction(t *models.TransferTransaction) action {
	if t.Cancelled || t.Aborted || t.Escalated || t.Consumed() {
		return actNone
	}
	if t.Flow == models.FlowDirect {
		return actTransfer
	}
	switch {
	case !t.Reserved:
		return actReserve
	case t.ChargeRejected:
		return actCancel
	case !t.Charged:
		return actCharge
	default:
		return actCredit
	}
}

// maxErrorMessage matches the error_message column size.
const maxErrorMessage = 512

var errSourceBusy = fmt.Errorf("%w: source subscriber is busy", repositories.ErrClaimHeld)

// drive runs saga steps on a claimed row until it settles, a definite
// failure stops it, or attempts transient failures have been spent. Steps
// that move funds off the source of a resumed row re-run validation under
// the source lock first; a fresh row was validated under it already.
func (s *service) drive(ctx context.Context, row *models.TransferTransaction, settings Settings, attempts int, fresh bool) error {
	var releaseLock cache.ReleaseFunc
	defer func() {
		if releaseLock != nil {
			releaseLock()
		}
	}()

	recheck := !fresh
	failures := 0
	for {
		act := nextAction(row)
		if act == actNone {
			break
		}
		opensFunds := act == actReserve || act == actTransfer
		if recheck && opensFunds && releaseLock == nil {
			release, ok, err := s.locker.TryLock(ctx, sourceLockKey(row.SourceMSISDN), settings.LockTTL)
			if err != nil {
				return err
			}
			if !ok {
				return errSourceBusy
			}
			releaseLock = release
		}

		transient, err := s.step(ctx, row, act, settings, recheck && opensFunds)
		if err != nil {
			return err
		}
		if opensFunds {
			recheck = false
		}
		if !transient {
			continue
		}

		failures++
		if row.RetryCount >= settings.MaxRetries {
			if err := s.escalate(ctx, row); err != nil {
				return err
			}
			break
		}
		if failures >= attempts {
			log.Warnw("transfer left for recovery", "transaction_id", row.ID, "step", act.String(),
				"retry_count", row.RetryCount, "code", row.ErrorCode)
			break
		}
		s.cfg.Sleep(settings.RetryBackoff * time.Duration(failures))
	}

	if row.Consumed() {
		s.afterSuccess(ctx, row, settings)
	}
	return nil
}

// step performs one gateway call and persists its effect. It reports
// whether the step failed in a way worth retrying.
func (s *service) step(ctx context.Context, row *models.TransferTransaction, act action, settings Settings, recheck bool) (bool, error) {
	if recheck {
		o := s.recheck(ctx, row, settings)
		switch {
		case o.OK():
		case o.Kind == errors.OCSTimeout || o.Kind == errors.ServiceUnavailable:
			return s.retryLater(ctx, row, act, o.Kind, o.Message)
		default:
			log.Infow("resumed transfer no longer valid", "transaction_id", row.ID, "code", o.Kind.Code(), "reason", o.Message)
			row.Aborted = true
			setError(row, o.Kind, o.Message)
			return false, s.save(ctx, row)
		}
	}

	switch act {
	case actReserve:
		return s.reserve(ctx, row)
	case actCharge:
		return s.charge(ctx, row)
	case actCredit:
		return s.credit(ctx, row)
	case actCancel:
		return s.cancel(ctx, row)
	case actTransfer:
		return s.transferMoney(ctx, row)
	}
	return false, nil
}

// recheck re-runs validation for a row accepted earlier. The PIN is not
// asked again; it only must not have changed since acceptance.
func (s *service) recheck(ctx context.Context, row *models.TransferTransaction, settings Settings) validation.Outcome {
	whole, fraction := models.SplitAmount(row.Amount)
	req := models.TransferRequest{
		RequestID:         row.RequestID,
		SourceMSISDN:      row.SourceMSISDN,
		DestinationMSISDN: row.DestinationMSISDN,
		AmountWhole:       whole,
		AmountFraction:    fraction,
		Flow:              row.Flow,
		CallerID:          row.CreatedBy,
		Arabic:            row.Arabic,
	}
	opts := settings.ValidationOptions(row.Flow)
	pinChecked := opts.RequirePin
	opts.RequirePin = false

	o, src := s.evaluate(ctx, &req, settings, opts, row.ID)
	if o.OK() && pinChecked && src != nil && src.PinHash != row.PinHash {
		return validation.Outcome{Kind: errors.InvalidPin, Message: "pin changed since the transfer was accepted"}
	}
	return o
}

func (s *service) reserve(ctx context.Context, row *models.TransferTransaction) (bool, error) {
	res, err := s.gateway.Reserve(ctx, row.SourceMSISDN, row.EventID, row.Amount)
	s.trace(row, actReserve, res, err)
	switch {
	case err != nil:
		return s.retryLater(ctx, row, actReserve, classify(err), err.Error())
	case res.OK() && res.ReservationID == "":
		// Retried with the same event id, which the OCS answers with the
		// reservation it already holds.
		return s.retryLater(ctx, row, actReserve, errors.ReserveAmountError, "reservation accepted without an id")
	case res.OK():
		row.Reserved = true
		row.ReservationID = res.ReservationID
		clearError(row)
	case res.Code == charging.CodeSystemBusy:
		return s.retryLater(ctx, row, actReserve, errors.ReserveAmountError, res.Message)
	default:
		row.Aborted = true
		setError(row, reserveRejection(res.Code), fmt.Sprintf("reservation rejected with code %d", res.Code))
	}
	return false, s.save(ctx, row)
}

func (s *service) charge(ctx context.Context, row *models.TransferTransaction) (bool, error) {
	res, err := s.gateway.ChargeReserved(ctx, row.SourceMSISDN, row.ReservationID)
	s.trace(row, actCharge, res, err)
	switch {
	case err != nil:
		return s.retryLater(ctx, row, actCharge, classify(err), err.Error())
	case res.OK():
		row.Charged = true
		clearError(row)
	case res.Code == charging.CodeSystemBusy:
		return s.retryLater(ctx, row, actCharge, errors.CreditFailure, res.Message)
	case res.Code == charging.CodeUnknownSession:
		// The OCS already dropped the reservation: nothing is held.
		row.Aborted = true
		setError(row, errors.ExpiredReservationCode, "reservation "+row.ReservationID+" expired")
	default:
		row.ChargeRejected = true
		setError(row, errors.CreditFailure, fmt.Sprintf("charge rejected with code %d", res.Code))
	}
	return false, s.save(ctx, row)
}

// credit moves the charged amount onto the destination. The charge cannot
// be undone, so every failure here is retried until escalation.
func (s *service) credit(ctx context.Context, row *models.TransferTransaction) (bool, error) {
	res, err := s.gateway.AdjustBalance(ctx, row.DestinationMSISDN, row.Amount, row.ExternalReference)
	s.trace(row, actCredit, res, err)
	switch {
	case err != nil:
		return s.retryLater(ctx, row, actCredit, classify(err), err.Error())
	case !res.OK():
		return s.retryLater(ctx, row, actCredit, errors.CreditFailure, fmt.Sprintf("credit rejected with code %d", res.Code))
	}
	row.AmountTransferred = true
	clearError(row)
	return false, s.save(ctx, row)
}

// cancel releases the reservation after a refused charge. The row keeps
// the charge failure as its error.
func (s *service) cancel(ctx context.Context, row *models.TransferTransaction) (bool, error) {
	res, err := s.gateway.CancelReservation(ctx, row.SourceMSISDN, row.ReservationID)
	s.trace(row, actCancel, res, err)
	switch {
	case err != nil:
		row.RetryCount++
		row.ErrorMessage = truncate("cancel failed: " + err.Error())
		return true, s.save(ctx, row)
	case res.OK(), res.Code == charging.CodeUnknownSession:
		row.Cancelled = true
	default:
		row.RetryCount++
		row.ErrorMessage = truncate(fmt.Sprintf("cancel rejected with code %d", res.Code))
		return true, s.save(ctx, row)
	}
	log.Infow("reservation cancelled", "transaction_id", row.ID, "reservation_id", row.ReservationID)
	return false, s.save(ctx, row)
}

func (s *service) transferMoney(ctx context.Context, row *models.TransferTransaction) (bool, error) {
	res, err := s.gateway.TransferMoney(ctx, charging.MoneyTransfer{
		Source:      row.SourceMSISDN,
		Destination: row.DestinationMSISDN,
		Amount:      row.Amount,
		Reason:      row.AdjustmentReason,
		Actor:       row.CreatedBy,
		Note:        row.ExternalReference,
	})
	s.trace(row, actTransfer, res, err)
	switch {
	case err != nil:
		return s.retryLater(ctx, row, actTransfer, classify(err), err.Error())
	case res.OK():
		row.AmountTransferred = true
		clearError(row)
	case res.Code == charging.CodeSystemBusy:
		return s.retryLater(ctx, row, actTransfer, errors.CreditFailure, res.Message)
	default:
		row.Aborted = true
		setError(row, transferRejection(res.Code), fmt.Sprintf("transfer rejected with code %d", res.Code))
	}
	return false, s.save(ctx, row)
}

func (s *service) retryLater(ctx context.Context, row *models.TransferTransaction, act action, k errors.Kind, msg string) (bool, error) {
	row.RetryCount++
	setError(row, k, msg)
	s.metrics.RecordStep(act.String(), "retry")
	return true, s.save(ctx, row)
}

func (s *service) escalate(ctx context.Context, row *models.TransferTransaction) error {
	row.Escalated = true
	if row.ErrorCode == 0 {
		setError(row, errors.MiscellaneousError, "retry budget exhausted")
	}
	log.Errorw("transfer escalated after retries", "transaction_id", row.ID, "retry_count", row.RetryCount,
		"reserved", row.Reserved, "charged", row.Charged, "code", row.ErrorCode)
	s.metrics.RecordStep("escalate", "done")
	return s.save(ctx, row)
}

// afterSuccess sends the notification once and extends the destination
// expiry. Neither affects the monetary outcome.
func (s *service) afterSuccess(ctx context.Context, row *models.TransferTransaction, settings Settings) {
	if s.notifier != nil && !row.SmsSent && row.NotifyErrorCode == 0 {
		if err := s.notifier.SendTransferNotification(ctx, settings.SMS, row); err != nil {
			row.NotifyErrorCode = errors.SmsError.Code()
		} else {
			row.SmsSent = true
		}
		if err := s.save(ctx, row); err != nil {
			log.Errorw("failed to record notification result", "transaction_id", row.ID, "error", err)
			return
		}
	}
	if settings.ExpiryDays > 0 && !row.ExpiryExtended && row.ExpiryRetryCount < settings.MaxRetries {
		if err := s.extendExpiry(ctx, row, settings); err != nil {
			log.Errorw("failed to record expiry extension", "transaction_id", row.ID, "error", err)
		}
	}
}

func (s *service) extendExpiry(ctx context.Context, row *models.TransferTransaction, settings Settings) error {
	res, err := s.gateway.ExtendExpiry(ctx, row.DestinationMSISDN, settings.ExpiryDays)
	if err == nil && res.OK() {
		row.ExpiryExtended = true
		s.metrics.RecordStep("extend_expiry", "ok")
	} else {
		row.ExpiryRetryCount++
		log.Warnw("expiry extension failed", "transaction_id", row.ID, "attempt", row.ExpiryRetryCount,
			"code", res.Code, "error", err)
		s.metrics.RecordStep("extend_expiry", "retry")
	}
	return s.save(ctx, row)
}

func (s *service) save(ctx context.Context, row *models.TransferTransaction) error {
	row.ModifiedBy = s.cfg.InstanceID
	if err := s.ledger.Update(ctx, row); err != nil {
		return fmt.Errorf("save transfer %d: %w", row.ID, err)
	}
	return nil
}

func (s *service) trace(row *models.TransferTransaction, act action, res charging.Result, err error) {
	entry := map[string]interface{}{"code": res.Code, "at": s.cfg.Clock().Format(time.RFC3339)}
	result := charging.ResultOK
	switch {
	case charging.IsTimeout(err):
		entry["error"] = err.Error()
		result = charging.ResultTimeout
	case err != nil:
		entry["error"] = err.Error()
		result = charging.ResultTransport
	case !res.OK():
		result = charging.ResultRejected
	}
	if res.Reference != "" {
		entry["reference"] = res.Reference
	}
	row.Trace = row.Trace.With(act.String(), entry)
	s.metrics.RecordStep(act.String(), result)
}

func reserveRejection(code int) errors.Kind {
	switch code {
	case charging.CodeInsufficientBalance:
		return errors.InsufficientBalance
	case charging.CodeUnknownSubscriber:
		return errors.SourcePhoneNotFound
	case charging.CodeServiceBlocked:
		return errors.ServiceBlocked
	}
	return errors.ReserveAmountError
}

func transferRejection(code int) errors.Kind {
	switch code {
	case charging.CodeInsufficientBalance:
		return errors.InsufficientBalance
	case charging.CodeUnknownSubscriber:
		return errors.UnknownSubscriber
	case charging.CodeServiceBlocked:
		return errors.ServiceBlocked
	}
	return errors.CreditFailure
}

func setError(row *models.TransferTransaction, k errors.Kind, msg string) {
	row.ErrorCode = k.Code()
	if msg == "" {
		msg = errors.DefaultMessage(k)
	}
	row.ErrorMessage = truncate(msg)
}

func clearError(row *models.TransferTransaction) {
	row.ErrorCode = 0
	row.ErrorMessage = ""
}

// truncate caps msg at maxErrorMessage bytes without splitting a rune.
func truncate(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	n := maxErrorMessage
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
