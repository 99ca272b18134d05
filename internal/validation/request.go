package validation

import (
	"ocstransfer/internal/models"
)

// TransferRequest checks the shape of a request before it reaches the
// validation engine. Business rules are not evaluated here.
func (v *Validator) TransferRequest(req *models.TransferRequest) {
	v.Required("request_id", req.RequestID)
	v.MaxLength("request_id", req.RequestID, MaxRequestIDLength)
	v.Required("source", req.SourceMSISDN)
	v.Required("destination", req.DestinationMSISDN)
	v.Check(req.AmountWhole >= 0, "amount_whole", "must not be negative")
	v.Range("amount_fraction", req.AmountFraction, 0, models.SubUnitsPerUnit-1)
	v.Check(req.AmountWhole > 0 || req.AmountFraction > 0, "amount", "must be greater than zero")
	v.MaxLength("pin", req.Pin, MaxPinLength)
	v.MaxLength("adjustment_reason", req.AdjustmentReason, MaxReasonLength)
	v.Check(req.Flow == "" || req.Flow.Valid(), "flow", "must be event or direct")
}
