package receive

import (
	"errors"
	"fmt"
)

var (
	// ErrOriginalPsbtNotBroadcastable ...
	ErrOriginalPsbtNotBroadcastable = errors.New(
		"original transaction is not broadcastable",
	)
	// ErrFeeTooLow ...
	ErrFeeTooLow = errors.New("original transaction fee rate is too low")
	// ErrInputOwnershipConflict ...
	ErrInputOwnershipConflict = errors.New(
		"original transaction spends an input owned by the receiver",
	)
	// ErrUnnecessaryInputDuplication ...
	ErrUnnecessaryInputDuplication = errors.New(
		"original transaction spends an input already seen",
	)
	// ErrSubstitutionDisabled ...
	ErrSubstitutionDisabled = errors.New("output substitution is disabled")
	// ErrOutputValueInsufficient ...
	ErrOutputValueInsufficient = errors.New(
		"replacement outputs do not cover the amount requested",
	)
	// ErrNoUsableInputs ...
	ErrNoUsableInputs = errors.New("no usable candidate inputs")
	// ErrFeerateOutOfRange ...
	ErrFeerateOutOfRange = errors.New("proposal fee rate is out of range")
	// ErrStageConsumed is returned when a stage is used after it already
	// produced its successor or failed.
	ErrStageConsumed = errors.New("stage already consumed")
	// ErrInvalidProposal ...
	ErrInvalidProposal = errors.New("invalid original proposal")
	// ErrMissingPayment ...
	ErrMissingPayment = errors.New("original transaction pays nothing to the receiver")
	// ErrInvalidDrainScript ...
	ErrInvalidDrainScript = errors.New("drain script is not among the receiver outputs")
	// ErrInvalidSignedProposal ...
	ErrInvalidSignedProposal = errors.New("signer returned an invalid proposal")
	// ErrInvalidReceiverOpts ...
	ErrInvalidReceiverOpts = errors.New("invalid receiver options")
)

// StageError reports the stage at which a receiver session failed along with
// the cause.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{stage, err}
}

func stageErrf(stage string, sentinel error, format string, a ...interface{}) error {
	return &StageError{
		stage, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, a...)),
	}
}
