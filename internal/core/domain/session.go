package domain

import "time"

// MarkRequestSent brings a Created session to the Waiting status.
func (s *Session) MarkRequestSent() error {
	if s.Status.Code >= Waiting && !s.Status.Failed {
		return nil
	}
	if s.Status != CreatedStatus {
		return ErrSessionMustBeCreated
	}
	if s.IsExpired() {
		return ErrSessionExpired
	}

	s.Status = WaitingStatus
	s.touch()
	return nil
}

// ReceiveProposal brings a Waiting session to the ProposalReceived status and
// stores the psbt received from the counterparty.
func (s *Session) ReceiveProposal(psbtBase64 string) error {
	if s.Status.Code >= ProposalReceived && !s.Status.Failed {
		return nil
	}
	if s.Status != WaitingStatus {
		return ErrSessionMustBeWaiting
	}
	if psbtBase64 == "" {
		return ErrSessionNullPsbt
	}

	if s.IsReceiver() {
		s.OriginalTx = psbtBase64
	} else {
		s.Proposal = psbtBase64
	}
	s.Status = ProposalReceivedStatus
	s.touch()
	return nil
}

// Checkpoint stores the serialized stage the receiver session has reached.
// Only active sessions can be checkpointed.
func (s *Session) Checkpoint(stage string, snapshot []byte) error {
	if !s.IsActive() {
		return ErrSessionNotActive
	}

	s.Stage = stage
	s.StageSnapshot = snapshot
	s.touch()
	return nil
}

// UpdateState replaces the serialized protocol session.
func (s *Session) UpdateState(state []byte) error {
	if !s.IsActive() {
		return ErrSessionNotActive
	}
	if len(state) == 0 {
		return ErrSessionNullState
	}

	s.State = state
	s.touch()
	return nil
}

// Complete brings a session with a received proposal to the Completed status.
// For a receiver, proposal is the payjoin psbt sent back to the sender, for a
// sender it is the signed payjoin. The checkpoint is dropped.
func (s *Session) Complete(proposal, txid string) error {
	if s.IsCompleted() {
		return nil
	}
	if s.Status != ProposalReceivedStatus {
		return ErrSessionMustBeProposalReceived
	}

	if proposal != "" {
		s.Proposal = proposal
	}
	s.TxID = txid
	s.StageSnapshot = nil
	s.Status = CompletedStatus
	s.touch()
	return nil
}

// Fail marks the current status of the session as failed.
func (s *Session) Fail(reason string) {
	if s.Status.Failed {
		return
	}

	s.Status.Failed = true
	s.FailReason = reason
	s.touch()
}

// Expire marks an active session as failed once its expiry time is passed.
func (s *Session) Expire() error {
	if !s.IsActive() {
		return ErrSessionNotActive
	}
	if !s.IsExpired() {
		return ErrSessionNotExpired
	}

	s.Fail(ErrSessionExpired.Error())
	return nil
}

func (s *Session) IsReceiver() bool {
	return s.Role == RoleReceiver
}

func (s *Session) IsSender() bool {
	return s.Role == RoleSender
}

// IsCompleted returns whether the session is in Completed status.
func (s *Session) IsCompleted() bool {
	return s.Status == CompletedStatus
}

// IsFailed returns whether the session has failed.
func (s *Session) IsFailed() bool {
	return s.Status.Failed
}

// IsActive returns whether the session can still make progress.
func (s *Session) IsActive() bool {
	return !s.Status.Failed && s.Status.Code < Completed
}

// IsExpired returns whether the session has an expiry time and it is passed.
func (s *Session) IsExpired() bool {
	return s.ExpiryTime > 0 && time.Now().Unix() >= s.ExpiryTime
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().Unix()
}
