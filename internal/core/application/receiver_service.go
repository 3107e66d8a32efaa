package application

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/receive"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
)

// ReceiverOpts configures the ReceiverService.
type ReceiverOpts struct {
	Directory string
	Relay     string
	OhttpKeys *ohttp.KeyConfig
	Network   *chaincfg.Params
	// PollInterval defaults to transport.DefaultPollInterval.
	PollInterval time.Duration
	// ExpireAfter defaults to receive.DefaultExpireAfter.
	ExpireAfter               time.Duration
	DisableOutputSubstitution bool
	// Interactive makes the sessions skip the broadcast check of the original
	// transaction.
	Interactive bool
	MinFeeRate  *psbtutil.FeeRate
	MaxFeeRate  *psbtutil.FeeRate
}

func (o ReceiverOpts) validate() error {
	if o.Directory == "" || o.Relay == "" {
		return fmt.Errorf("%w: missing directory or relay url", ErrInvalidServiceOpts)
	}
	if o.OhttpKeys == nil {
		return fmt.Errorf("%w: missing directory keys", ErrInvalidServiceOpts)
	}
	if o.Network == nil {
		return fmt.Errorf("%w: missing network", ErrInvalidServiceOpts)
	}
	return nil
}

// PaymentRequest holds the optional parameters of the uri handed to the
// sender.
type PaymentRequest struct {
	Amount  int64
	Label   string
	Message string
}

type ReceiverService interface {
	// NewSession creates and stores a receiver session. The uri to share
	// with the sender is in the Uri field of the returned session.
	NewSession(ctx context.Context, req PaymentRequest) (*domain.Session, error)
	// Run drives the session until it completes or fails, resuming from the
	// last stored checkpoint.
	Run(ctx context.Context, id string) (*domain.Session, error)
	// RunAll resumes every active receiver session concurrently.
	RunAll(ctx context.Context) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

type receiverService struct {
	repo     domain.SessionRepository
	relay    ports.RelayClient
	wallet   ports.Wallet
	registry ports.OutpointRegistry
	opts     ReceiverOpts
}

func NewReceiverService(
	repo domain.SessionRepository,
	relay ports.RelayClient,
	wallet ports.Wallet,
	registry ports.OutpointRegistry,
	opts ReceiverOpts,
) (ReceiverService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &receiverService{repo, relay, wallet, registry, opts}, nil
}

func (s *receiverService) NewSession(
	ctx context.Context, req PaymentRequest,
) (*domain.Session, error) {
	receiver, err := receive.NewReceiver(receive.ReceiverOpts{
		Address:                   s.wallet.Address().EncodeAddress(),
		Directory:                 s.opts.Directory,
		OhttpKeys:                 s.opts.OhttpKeys,
		Relay:                     s.opts.Relay,
		ExpireAfter:               s.opts.ExpireAfter,
		DisableOutputSubstitution: s.opts.DisableOutputSubstitution,
		Network:                   s.opts.Network,
	})
	if err != nil {
		return nil, err
	}

	builder, err := receiver.PjUriBuilder()
	if err != nil {
		return nil, err
	}
	if req.Amount > 0 {
		builder = builder.Amount(req.Amount)
	}
	uri := builder.Label(req.Label).Message(req.Message).Build()

	state, err := receiver.ToJSON()
	if err != nil {
		return nil, err
	}
	session, err := domain.NewSession(domain.RoleReceiver, state, receiver.Expiry())
	if err != nil {
		return nil, err
	}
	session.Uri = uri

	if err := s.repo.AddSession(ctx, session); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"session": session.ID,
		"mailbox": receiver.ID(),
	}).Info("receiver session created")
	return session, nil
}

func (s *receiverService) Run(
	ctx context.Context, id string,
) (*domain.Session, error) {
	session, err := getSessionWithRole(ctx, s.repo, id, domain.RoleReceiver)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return session, nil
	}

	receiver, err := receive.FromJSON(session.State)
	if err != nil {
		return closeSession(ctx, s.repo, id, err)
	}

	var stage receive.Stage
	if len(session.StageSnapshot) > 0 {
		log.WithFields(log.Fields{
			"session": id,
			"stage":   session.Stage,
		}).Debug("resuming receiver session")
		stage, err = receive.RestoreStage(session.StageSnapshot)
	} else {
		stage, err = s.waitForOriginal(ctx, session, receiver)
	}
	if err != nil {
		return closeSession(ctx, s.repo, id, err)
	}

	payjoin, err := s.processProposal(ctx, id, stage)
	if err != nil {
		return closeSession(ctx, s.repo, id, err)
	}
	if err := s.postProposal(ctx, receiver.Expiry(), payjoin); err != nil {
		return closeSession(ctx, s.repo, id, err)
	}

	proposal, err := payjoin.PsbtBase64()
	if err != nil {
		return closeSession(ctx, s.repo, id, err)
	}
	txid := payjoin.Txid().String()
	session, err = update(ctx, s.repo, id, func(session *domain.Session) error {
		return session.Complete(proposal, txid)
	})
	if err != nil {
		return nil, err
	}

	logSessionOutcome(session)
	return session, nil
}

func (s *receiverService) RunAll(ctx context.Context) error {
	return runAll(ctx, s.repo, domain.RoleReceiver, s)
}

func (s *receiverService) GetSession(
	ctx context.Context, id string,
) (*domain.Session, error) {
	return getSessionWithRole(ctx, s.repo, id, domain.RoleReceiver)
}

func (s *receiverService) ListSessions(
	ctx context.Context,
) ([]*domain.Session, error) {
	return s.repo.ListSessions(ctx, domain.RoleReceiver)
}

// waitForOriginal polls the session mailbox until the original proposal
// arrives and checkpoints it.
func (s *receiverService) waitForOriginal(
	ctx context.Context, session *domain.Session, receiver *receive.Receiver,
) (receive.Stage, error) {
	var proposal *receive.UncheckedProposal
	pollOpts := transport.PollOpts{
		Interval: s.opts.PollInterval,
		Expiry:   receiver.Expiry(),
	}

	err := transport.Poll(ctx, pollOpts, func(ctx context.Context) (bool, error) {
		req, reqCtx, err := receiver.ExtractReq()
		if err != nil {
			return false, err
		}
		res, err := s.relay.Post(ctx, req)
		if err != nil {
			return false, err
		}
		if session.Status == domain.CreatedStatus {
			if session, err = update(
				ctx, s.repo, session.ID, (*domain.Session).MarkRequestSent,
			); err != nil {
				return false, err
			}
		}

		proposal, err = receiver.ProcessRes(res, reqCtx)
		if err != nil {
			return false, err
		}
		return proposal != nil, nil
	})
	if err != nil {
		return nil, err
	}

	original, err := psbtutil.Encode(proposal.OriginalPsbt())
	if err != nil {
		return nil, err
	}
	if err := s.checkpoint(ctx, session.ID, proposal, func(session *domain.Session) error {
		return session.ReceiveProposal(original)
	}); err != nil {
		return nil, err
	}

	log.WithField("session", session.ID).Info("original proposal received")
	return proposal, nil
}

// processProposal moves the proposal through the receiver stages up to the
// signed payjoin, storing a checkpoint after each of them.
func (s *receiverService) processProposal(
	ctx context.Context, id string, stage receive.Stage,
) (*receive.PayjoinProposal, error) {
	for {
		var next receive.Stage
		var seen []wire.OutPoint
		var err error

		switch st := stage.(type) {
		case *receive.UncheckedProposal:
			if s.opts.Interactive {
				next, err = st.AssumeInteractiveReceiver()
			} else {
				next, err = st.CheckBroadcastSuitability(s.opts.MinFeeRate, s.wallet)
			}
		case *receive.MaybeInputsOwned:
			next, err = st.CheckInputsNotOwned(s.wallet)
		case *receive.MaybeInputsSeen:
			next, err = st.CheckNoInputsSeenBefore(s.registry)
			seen = outpoints(st.OriginalPsbt())
		case *receive.OutputsUnknown:
			next, err = st.IdentifyReceiverOutputs(s.wallet)
		case *receive.WantsOutputs:
			next, err = st.CommitOutputs()
		case *receive.WantsInputs:
			next, err = st.TryContributeInputs(s.wallet.CandidateInputs())
		case *receive.ProvisionalProposal:
			var payjoin *receive.PayjoinProposal
			payjoin, err = st.FinalizeProposal(
				s.wallet, s.opts.MinFeeRate, s.opts.MaxFeeRate,
			)
			if err == nil {
				s.wallet.LockUtxos(payjoin.UtxosToBeLocked())
				next = payjoin
			}
		case *receive.PayjoinProposal:
			return st, nil
		default:
			return nil, fmt.Errorf("unexpected stage %s", stage.Name())
		}
		if err != nil {
			return nil, err
		}

		if err := s.checkpoint(ctx, id, next, nil); err != nil {
			return nil, err
		}
		// A session resumed before this point must not find its own outpoints.
		if len(seen) > 0 {
			if err := s.registry.MarkSeen(ctx, seen); err != nil {
				return nil, fmt.Errorf("failed to mark seen inputs: %w", err)
			}
		}
		log.WithFields(log.Fields{
			"session": id,
			"stage":   next.Name(),
		}).Debug("receiver session moved to next stage")
		stage = next
	}
}

// postProposal delivers the proposal to the sender's mailbox, retrying on
// transport failures until the session expires.
func (s *receiverService) postProposal(
	ctx context.Context, expiry time.Time, payjoin *receive.PayjoinProposal,
) error {
	pollOpts := transport.PollOpts{
		Interval: s.opts.PollInterval,
		Expiry:   expiry,
	}
	return transport.Poll(ctx, pollOpts, func(ctx context.Context) (bool, error) {
		req, reqCtx, err := payjoin.ExtractV2Req()
		if err != nil {
			return false, err
		}
		res, err := s.relay.Post(ctx, req)
		if err != nil {
			return false, err
		}
		if err := payjoin.ProcessRes(res, reqCtx); err != nil {
			return false, err
		}
		return true, nil
	})
}

// checkpoint stores the snapshot of stage, after applying fn to the session
// if given.
func (s *receiverService) checkpoint(
	ctx context.Context, id string, stage receive.Stage,
	fn func(session *domain.Session) error,
) error {
	snapshot, err := stage.Snapshot()
	if err != nil {
		return err
	}
	_, err = update(ctx, s.repo, id, func(session *domain.Session) error {
		if fn != nil {
			if err := fn(session); err != nil {
				return err
			}
		}
		return session.Checkpoint(stage.Name(), snapshot)
	})
	return err
}

func outpoints(p *psbt.Packet) []wire.OutPoint {
	outpoints := make([]wire.OutPoint, 0, len(p.UnsignedTx.TxIn))
	for _, in := range p.UnsignedTx.TxIn {
		outpoints = append(outpoints, in.PreviousOutPoint)
	}
	return outpoints
}
