package send

import "errors"

var (
	// ErrInvalidUri ...
	ErrInvalidUri = errors.New("invalid payjoin uri")
	// ErrInvalidPsbt ...
	ErrInvalidPsbt = errors.New("invalid original psbt")
	// ErrFeeRateTooLow ...
	ErrFeeRateTooLow = errors.New("fee rate is below min relay fee rate")
	// ErrFeeContributionExceedsChangeValue ...
	ErrFeeContributionExceedsChangeValue = errors.New(
		"fee contribution exceeds the value of the change output",
	)
	// ErrAmbiguousChangeOutput ...
	ErrAmbiguousChangeOutput = errors.New(
		"change output must be given when the psbt has more than 2 outputs",
	)
	// ErrChangeIndexOutOfBounds ...
	ErrChangeIndexOutOfBounds = errors.New("change output index out of range")
	// ErrChangeIndexPointsAtPayee ...
	ErrChangeIndexPointsAtPayee = errors.New("change output index points at payee")
	// ErrInvalidProposal is returned when the receiver's proposal fails any
	// check. The wrapping message tells which.
	ErrInvalidProposal = errors.New("invalid payjoin proposal")
)
