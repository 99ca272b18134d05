// Package errors defines the closed set of transfer failure conditions.
// Each Kind carries the numeric code existing consumers depend on, so the
// values below must never be renumbered.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
)

// Kind identifies a failure condition. Its integer value is the public status code.
type Kind int

const (
	Success                  Kind = 0
	UnknownSubscriber        Kind = 2
	SourceAndDestinationSame Kind = 3
	InvalidPin               Kind = 4
	TransferAmountBelowMin   Kind = 5
	TransferAmountAboveMax   Kind = 7
	MiscellaneousError       Kind = 14
	InvalidSourcePhone       Kind = 20
	InvalidDestinationPhone  Kind = 21
	InsufficientBalance      Kind = 23
	SubscriptionNotFound     Kind = 24
	ConcurrentUpdateDetected Kind = 25
	SourcePhoneNotFound      Kind = 26
	DestinationPhoneNotFound Kind = 27
	UserNotAllowed           Kind = 28
	ConfigurationError       Kind = 29
	PropertyNotFound         Kind = 30
	ExpiredReservationCode   Kind = 31
	BadRequest               Kind = 32
	NotAllowedToTransfer     Kind = 33
	ExceedsMaxPerDay         Kind = 34
	RemainingBalance         Kind = 35
	AmountNotMultipleOfFive  Kind = 36
	SmsError                 Kind = 37
	ReserveAmountError       Kind = 38
	CreditFailure            Kind = 39
	RemainingBalanceHalf     Kind = 40
	ServiceBlocked           Kind = 41
	OCSTimeout               Kind = 42
	ExceedsMaxCapPerDay      Kind = 43
	ServiceUnavailable       Kind = 999
)

// Aliases kept for callers that use the historical names.
const (
	PinMismatch                             = InvalidPin
	InsufficientCredit                      = InsufficientBalance
	NotAllowedToTransferCreditToDestination = NotAllowedToTransfer
	RemainingBalanceShouldBeGreaterThanHalf = RemainingBalanceHalf
)

var names = map[Kind]string{
	Success:                  "Success",
	UnknownSubscriber:        "UnknownSubscriber",
	SourceAndDestinationSame: "SourceAndDestinationSame",
	InvalidPin:               "InvalidPin",
	TransferAmountBelowMin:   "TransferAmountBelowMin",
	TransferAmountAboveMax:   "TransferAmountAboveMax",
	MiscellaneousError:       "MiscellaneousError",
	InvalidSourcePhone:       "InvalidSourcePhone",
	InvalidDestinationPhone:  "InvalidDestinationPhone",
	InsufficientBalance:      "InsufficientBalance",
	SubscriptionNotFound:     "SubscriptionNotFound",
	ConcurrentUpdateDetected: "ConcurrentUpdateDetected",
	SourcePhoneNotFound:      "SourcePhoneNotFound",
	DestinationPhoneNotFound: "DestinationPhoneNotFound",
	UserNotAllowed:           "UserNotAllowed",
	ConfigurationError:       "ConfigurationError",
	PropertyNotFound:         "PropertyNotFound",
	ExpiredReservationCode:   "ExpiredReservationCode",
	BadRequest:               "BadRequest",
	NotAllowedToTransfer:     "NotAllowedToTransfer",
	ExceedsMaxPerDay:         "ExceedsMaxPerDay",
	RemainingBalance:         "RemainingBalance",
	AmountNotMultipleOfFive:  "AmountNotMultipleOfFive",
	SmsError:                 "SmsError",
	ReserveAmountError:       "ReserveAmountError",
	CreditFailure:            "CreditFailure",
	RemainingBalanceHalf:     "RemainingBalanceHalf",
	ServiceBlocked:           "ServiceBlocked",
	OCSTimeout:               "OCSTimeout",
	ExceedsMaxCapPerDay:      "ExceedsMaxCapPerDay",
	ServiceUnavailable:       "ServiceUnavailable",
}

// Code returns the numeric status code.
func (k Kind) Code() int { return int(k) }

// Known reports whether k is part of the taxonomy.
func (k Kind) Known() bool {
	_, ok := names[k]
	return ok
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every defined kind, in code order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(names))
	for k := range names {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DomainError is the single result type for business failures.
type DomainError struct {
	Kind    Kind
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", e.Kind, e.Kind.Code())
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Kind.Code(), e.Message)
}

// Is matches another DomainError with the same Kind.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

// New builds a DomainError with the default message for k.
func New(k Kind) *DomainError {
	return &DomainError{Kind: k, Message: DefaultMessage(k)}
}

// Newf builds a DomainError with a formatted message.
func Newf(k Kind, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind carried by err. Errors outside the taxonomy
// classify as MiscellaneousError; nil is Success.
func KindOf(err error) Kind {
	if err == nil {
		return Success
	}
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Kind
	}
	return MiscellaneousError
}
