package errors

var defaultMessages = map[Kind]string{
	Success:                  "Operation completed successfully",
	UnknownSubscriber:        "Unknown subscriber",
	SourceAndDestinationSame: "Source and destination cannot be the same",
	InvalidPin:               "Invalid PIN",
	TransferAmountBelowMin:   "Transfer amount is below the allowed minimum",
	TransferAmountAboveMax:   "Transfer amount is above the allowed maximum",
	MiscellaneousError:       "An unexpected error occurred",
	InvalidSourcePhone:       "Invalid source phone number",
	InvalidDestinationPhone:  "Invalid destination phone number",
	InsufficientBalance:      "Insufficient balance",
	SubscriptionNotFound:     "Subscription not found",
	ConcurrentUpdateDetected: "Another operation on this transfer is in progress",
	SourcePhoneNotFound:      "Source phone number not found",
	DestinationPhoneNotFound: "Destination phone number not found",
	UserNotAllowed:           "User is not allowed to perform this operation",
	ConfigurationError:       "Configuration error",
	PropertyNotFound:         "Configuration property not found",
	ExpiredReservationCode:   "Reservation has expired",
	BadRequest:               "Bad request",
	NotAllowedToTransfer:     "Transfer to this destination is not allowed",
	ExceedsMaxPerDay:         "Daily transfer count limit exceeded",
	RemainingBalance:         "Remaining balance would fall below the allowed minimum",
	AmountNotMultipleOfFive:  "Amount must be a multiple of the configured denomination",
	SmsError:                 "Notification could not be sent",
	ReserveAmountError:       "Amount could not be reserved",
	CreditFailure:            "Credit transfer failed",
	RemainingBalanceHalf:     "Remaining balance must be greater than half of the current balance",
	ServiceBlocked:           "Service is blocked for this subscriber",
	OCSTimeout:               "Charging system did not respond in time",
	ExceedsMaxCapPerDay:      "Daily transfer amount cap exceeded",
	ServiceUnavailable:       "Service unavailable",
}

// DefaultMessage returns the built-in English message for k. Localized
// overrides are resolved by the transfer service through the config store.
func DefaultMessage(k Kind) string {
	if m, ok := defaultMessages[k]; ok {
		return m
	}
	return defaultMessages[MiscellaneousError]
}
