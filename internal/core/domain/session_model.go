package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleReceiver = "receiver"
	RoleSender   = "sender"
)

const (
	Created = iota
	Waiting
	ProposalReceived
	Completed
)

var (
	// CreatedStatus is the status of a session not yet talking to the
	// directory.
	CreatedStatus = Status{
		Code: Created,
	}
	// WaitingStatus is the status of a session that posted its first request
	// and waits for the counterparty.
	WaitingStatus = Status{
		Code: Waiting,
	}
	// ProposalReceivedStatus is the status of a session that got the
	// counterparty's psbt: the original for a receiver, the payjoin proposal
	// for a sender.
	ProposalReceivedStatus = Status{
		Code: ProposalReceived,
	}
	// CompletedStatus is the status of a session whose payjoin is done.
	CompletedStatus = Status{
		Code: Completed,
	}
)

var statusNames = map[int]string{
	Created:          "created",
	Waiting:          "waiting",
	ProposalReceived: "proposal_received",
	Completed:        "completed",
}

// Status represents the different statuses that a session can assume.
type Status struct {
	Code   int
	Failed bool
}

func (s Status) String() string {
	name := statusNames[s.Code]
	if s.Failed {
		return name + "_failed"
	}
	return name
}

// Session is a payjoin session, either of a receiver or of a sender. State
// holds the serialized protocol session, StageSnapshot the serialized
// receiver stage reached last, if any.
type Session struct {
	ID            string
	Role          string
	Status        Status
	State         []byte
	Stage         string
	StageSnapshot []byte
	OriginalTx    string
	Proposal      string
	TxID          string
	Uri           string
	ExpiryTime    int64
	CreatedAt     int64
	UpdatedAt     int64
	FailReason    string
}

// NewSession returns a session for the given role in Created status.
func NewSession(role string, state []byte, expiry time.Time) (*Session, error) {
	if role != RoleReceiver && role != RoleSender {
		return nil, ErrSessionUnknownRole
	}
	if len(state) == 0 {
		return nil, ErrSessionNullState
	}

	now := time.Now().Unix()
	var expiryTime int64
	if !expiry.IsZero() {
		expiryTime = expiry.Unix()
	}
	return &Session{
		ID:         uuid.New().String(),
		Role:       role,
		Status:     CreatedStatus,
		State:      state,
		ExpiryTime: expiryTime,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
