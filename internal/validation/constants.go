package validation

const (
	// DefaultMSISDNPattern accepts international numbers without the plus sign.
	DefaultMSISDNPattern = `^[0-9]{8,15}$`

	// String lengths
	MaxRequestIDLength = 128
	MaxReasonLength    = 256
	MaxPinLength       = 12
)
