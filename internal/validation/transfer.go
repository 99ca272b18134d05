package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"ocstransfer/internal/errors"
	"ocstransfer/internal/models"
)

var defaultMSISDN = regexp.MustCompile(DefaultMSISDNPattern)

// Options carries the per-request settings the engine depends on.
type Options struct {
	// MSISDN overrides DefaultMSISDNPattern.
	MSISDN *regexp.Regexp
	// RequirePin enables the PIN check. Direct transfers never set it.
	RequirePin bool
	// DefaultPin is compared against when the subscriber never set a PIN.
	DefaultPin string
	// AmountMultipleOf > 0 requires the whole-unit amount to be a multiple of it.
	AmountMultipleOf int64
	// HomeOperator is the operator of this platform; empty disables the
	// cross-operator check.
	HomeOperator string
}

// Outcome is the verdict of the engine: OK, or exactly one rejection.
type Outcome struct {
	Kind    errors.Kind
	Message string
}

// OK reports an accepted request.
func (o Outcome) OK() bool { return o.Kind == errors.Success }

// Err returns the rejection as a *errors.DomainError, or nil.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &errors.DomainError{Kind: o.Kind, Message: o.Message}
}

func reject(k errors.Kind, format string, args ...interface{}) Outcome {
	return Outcome{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func accept() Outcome { return Outcome{Kind: errors.Success} }

// CheckParties runs the checks that need no account state: well-formed
// identifiers and distinct parties.
func CheckParties(req *models.TransferRequest, opts Options) Outcome {
	pattern := opts.MSISDN
	if pattern == nil {
		pattern = defaultMSISDN
	}
	if !pattern.MatchString(req.SourceMSISDN) {
		return reject(errors.InvalidSourcePhone, "source %q is not a valid number", req.SourceMSISDN)
	}
	if !pattern.MatchString(req.DestinationMSISDN) {
		return reject(errors.InvalidDestinationPhone, "destination %q is not a valid number", req.DestinationMSISDN)
	}
	if req.SourceMSISDN == req.DestinationMSISDN {
		return reject(errors.SourceAndDestinationSame, "source and destination are both %s", req.SourceMSISDN)
	}
	return accept()
}

// Validate evaluates every business rule in a fixed precedence and returns
// the first failure. It has no side effects and is safe to run again on retry.
func Validate(req *models.TransferRequest, src, dst *models.AccountState, rule *models.TransferRule, opts Options) Outcome {
	amount, err := req.Amount()
	if err != nil {
		return reject(errors.BadRequest, "invalid amount: %v", err)
	}

	if o := CheckParties(req, opts); !o.OK() {
		return o
	}

	if src == nil || dst == nil {
		return reject(errors.UnknownSubscriber, "subscriber state could not be resolved")
	}
	if !src.Exists {
		return reject(errors.SourcePhoneNotFound, "source %s not found", req.SourceMSISDN)
	}
	if !dst.Exists {
		return reject(errors.DestinationPhoneNotFound, "destination %s not found", req.DestinationMSISDN)
	}
	if src.Blocked {
		return reject(errors.ServiceBlocked, "source %s is blocked", req.SourceMSISDN)
	}
	if dst.Blocked {
		return reject(errors.ServiceBlocked, "destination %s is blocked", req.DestinationMSISDN)
	}

	if rule == nil {
		return reject(errors.SubscriptionNotFound, "no transfer rule for subscription type %q", src.SubscriptionType)
	}
	if !rule.AllowsDestination(dst.SubscriptionType) {
		return reject(errors.NotAllowedToTransfer, "destination type %q may not receive credit", dst.SubscriptionType)
	}
	if crossOperator(dst, opts) && !rule.AllowCrossOperator {
		return reject(errors.NotAllowedToTransfer, "destination operator %q is not allowed", dst.Operator)
	}

	if amount.LessThan(rule.MinTransferAmount) {
		return reject(errors.TransferAmountBelowMin, "amount %s is below minimum %s",
			models.FormatAmount(amount), models.FormatAmount(rule.MinTransferAmount))
	}
	if amount.GreaterThan(rule.MaxTransferAmount) {
		return reject(errors.TransferAmountAboveMax, "amount %s is above maximum %s",
			models.FormatAmount(amount), models.FormatAmount(rule.MaxTransferAmount))
	}
	if opts.AmountMultipleOf > 0 && (req.AmountFraction != 0 || req.AmountWhole%opts.AmountMultipleOf != 0) {
		return reject(errors.AmountNotMultipleOfFive, "amount must be a multiple of %d", opts.AmountMultipleOf)
	}

	remaining := src.Balance.Sub(amount)
	if remaining.LessThan(rule.MinPostTransferBalance) {
		return reject(errors.RemainingBalance, "remaining balance %s is below %s",
			models.FormatAmount(remaining), models.FormatAmount(rule.MinPostTransferBalance))
	}
	if rule.RequireHalfBalance && remaining.LessThan(src.Balance.Div(decimal.NewFromInt(2))) {
		return reject(errors.RemainingBalanceHalf, "remaining balance %s is below half of %s",
			models.FormatAmount(remaining), models.FormatAmount(src.Balance))
	}
	if src.AvailableCredit.LessThan(amount) {
		return reject(errors.InsufficientBalance, "available credit %s is below %s",
			models.FormatAmount(src.AvailableCredit), models.FormatAmount(amount))
	}

	if rule.DailyTransferCountLimit > 0 && src.TransfersToday >= rule.DailyTransferCountLimit {
		return reject(errors.ExceedsMaxPerDay, "%d transfers already made today", src.TransfersToday)
	}
	if rule.DailyTransferCapLimit.IsPositive() && src.AmountToday.Add(amount).GreaterThan(rule.DailyTransferCapLimit) {
		return reject(errors.ExceedsMaxCapPerDay, "daily cap %s would be exceeded",
			models.FormatAmount(rule.DailyTransferCapLimit))
	}

	if opts.RequirePin && !pinMatches(req.Pin, src.PinHash, opts.DefaultPin) {
		return reject(errors.InvalidPin, "pin does not match")
	}
	return accept()
}

func crossOperator(dst *models.AccountState, opts Options) bool {
	if opts.HomeOperator == "" || dst.Operator == "" {
		return false
	}
	return !strings.EqualFold(dst.Operator, opts.HomeOperator)
}

func pinMatches(pin, hash, defaultPin string) bool {
	if pin == "" {
		return false
	}
	if hash == "" {
		return defaultPin != "" && pin == defaultPin
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
