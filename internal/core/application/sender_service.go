package application

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/internal/core/domain"
	"github.com/tdex-network/tdex-payjoin/internal/core/ports"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
	"github.com/tdex-network/tdex-payjoin/pkg/send"
	"github.com/tdex-network/tdex-payjoin/pkg/transport"
)

// SenderOpts configures the SenderService.
type SenderOpts struct {
	Relay   string
	Network *chaincfg.Params
	// PollInterval defaults to transport.DefaultPollInterval.
	PollInterval time.Duration
}

func (o SenderOpts) validate() error {
	if o.Relay == "" {
		return fmt.Errorf("%w: missing relay url", ErrInvalidServiceOpts)
	}
	if _, err := url.Parse(o.Relay); err != nil {
		return fmt.Errorf("%w: relay url %s", ErrInvalidServiceOpts, err)
	}
	if o.Network == nil {
		return fmt.Errorf("%w: missing network", ErrInvalidServiceOpts)
	}
	return nil
}

// PaymentOrder holds what a sender needs to start a payjoin: the signed
// original psbt paying the uri.
type PaymentOrder struct {
	OriginalPsbt              string
	Uri                       string
	MinFeeRate                psbtutil.FeeRate
	DisableOutputSubstitution bool
}

type SenderService interface {
	// NewSession validates the payment order and stores a sender session.
	NewSession(ctx context.Context, order PaymentOrder) (*domain.Session, error)
	// Run delivers the original proposal if not done yet, then waits for
	// the receiver's payjoin. The payjoin is signed when the service has a
	// wallet, otherwise it is stored as returned by the receiver.
	Run(ctx context.Context, id string) (*domain.Session, error)
	// RunAll resumes every active sender session concurrently.
	RunAll(ctx context.Context) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

type senderService struct {
	repo     domain.SessionRepository
	relay    ports.RelayClient
	wallet   ports.Wallet
	opts     SenderOpts
	relayURL *url.URL
}

// NewSenderService returns a SenderService. wallet can be nil.
func NewSenderService(
	repo domain.SessionRepository,
	relay ports.RelayClient,
	wallet ports.Wallet,
	opts SenderOpts,
) (SenderService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	relayURL, _ := url.Parse(opts.Relay)
	return &senderService{
		repo:     repo,
		relay:    relay,
		wallet:   wallet,
		opts:     opts,
		relayURL: relayURL,
	}, nil
}

func (s *senderService) NewSession(
	ctx context.Context, order PaymentOrder,
) (*domain.Session, error) {
	builder, err := send.NewSenderBuilder(
		order.OriginalPsbt, order.Uri, s.opts.Network,
	)
	if err != nil {
		return nil, err
	}
	sender, err := builder.
		DisableOutputSubstitution(order.DisableOutputSubstitution).
		BuildRecommended(order.MinFeeRate)
	if err != nil {
		return nil, err
	}

	state, err := sender.ToJSON()
	if err != nil {
		return nil, err
	}
	session, err := domain.NewSession(domain.RoleSender, state, sender.Expiry())
	if err != nil {
		return nil, err
	}
	session.OriginalTx = order.OriginalPsbt
	session.Uri = order.Uri

	if err := s.repo.AddSession(ctx, session); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"session": session.ID,
		"mailbox": sender.ID(),
	}).Info("sender session created")
	return session, nil
}

func (s *senderService) Run(
	ctx context.Context, id string,
) (*domain.Session, error) {
	session, err := getSessionWithRole(ctx, s.repo, id, domain.RoleSender)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return session, nil
	}

	sender, err := send.FromJSON(session.State)
	if err != nil {
		return closeSession(ctx, s.repo, id, err)
	}

	pollCtx := sender.PollContext()
	if session.Status == domain.CreatedStatus {
		if pollCtx, err = s.postOriginal(ctx, sender); err != nil {
			return closeSession(ctx, s.repo, id, err)
		}
		if session, err = update(
			ctx, s.repo, id, (*domain.Session).MarkRequestSent,
		); err != nil {
			return nil, err
		}
	}

	var proposal string
	if session.Status == domain.ProposalReceivedStatus {
		proposal = session.Proposal
	} else {
		p, err := s.waitForProposal(ctx, sender, pollCtx)
		if err != nil {
			return closeSession(ctx, s.repo, id, err)
		}
		if proposal, err = psbtutil.Encode(p); err != nil {
			return closeSession(ctx, s.repo, id, err)
		}
		if _, err := update(ctx, s.repo, id, func(session *domain.Session) error {
			return session.ReceiveProposal(proposal)
		}); err != nil {
			return nil, err
		}
		log.WithField("session", id).Info("payjoin proposal received")
	}

	signed, txid, err := s.sign(proposal)
	if err != nil {
		return closeSession(ctx, s.repo, id, err)
	}
	session, err = update(ctx, s.repo, id, func(session *domain.Session) error {
		return session.Complete(signed, txid)
	})
	if err != nil {
		return nil, err
	}

	logSessionOutcome(session)
	return session, nil
}

func (s *senderService) RunAll(ctx context.Context) error {
	return runAll(ctx, s.repo, domain.RoleSender, s)
}

func (s *senderService) GetSession(
	ctx context.Context, id string,
) (*domain.Session, error) {
	return getSessionWithRole(ctx, s.repo, id, domain.RoleSender)
}

func (s *senderService) ListSessions(
	ctx context.Context,
) ([]*domain.Session, error) {
	return s.repo.ListSessions(ctx, domain.RoleSender)
}

// postOriginal delivers the original proposal to the receiver's mailbox,
// retrying on transport failures until the endpoint expires.
func (s *senderService) postOriginal(
	ctx context.Context, sender *send.Sender,
) (*send.V2GetContext, error) {
	var pollCtx *send.V2GetContext
	pollOpts := transport.PollOpts{
		Interval: s.opts.PollInterval,
		Expiry:   sender.Expiry(),
	}

	err := transport.Poll(ctx, pollOpts, func(ctx context.Context) (bool, error) {
		req, postCtx, err := sender.ExtractV2(s.relayURL)
		if err != nil {
			return false, err
		}
		res, err := s.relay.Post(ctx, req)
		if err != nil {
			return false, err
		}
		if pollCtx, err = postCtx.ProcessResponse(res); err != nil {
			return false, err
		}
		return true, nil
	})
	return pollCtx, err
}

// waitForProposal polls the reply mailbox until the receiver's proposal
// arrives and passes validation.
func (s *senderService) waitForProposal(
	ctx context.Context, sender *send.Sender, pollCtx *send.V2GetContext,
) (*psbt.Packet, error) {
	var proposal *psbt.Packet
	pollOpts := transport.PollOpts{
		Interval: s.opts.PollInterval,
		Expiry:   sender.Expiry(),
	}

	err := transport.Poll(ctx, pollOpts, func(ctx context.Context) (bool, error) {
		req, reqCtx, err := pollCtx.ExtractReq(s.relayURL)
		if err != nil {
			return false, err
		}
		res, err := s.relay.Post(ctx, req)
		if err != nil {
			return false, err
		}
		proposal, err = pollCtx.ProcessResponse(res, reqCtx)
		if err != nil {
			return false, err
		}
		return proposal != nil, nil
	})
	return proposal, err
}

// sign signs the sender inputs of the proposal with the service wallet, if
// any, and returns the resulting psbt and the id of the final transaction.
func (s *senderService) sign(proposal string) (string, string, error) {
	if s.wallet == nil {
		return proposal, "", nil
	}

	p, err := psbtutil.Decode(proposal)
	if err != nil {
		return "", "", err
	}
	if err := s.wallet.SignPsbt(p); err != nil {
		return "", "", err
	}
	tx, err := psbt.Extract(p)
	if err != nil {
		return "", "", fmt.Errorf("payjoin is not fully signed: %w", err)
	}
	signed, err := psbtutil.Encode(p)
	if err != nil {
		return "", "", err
	}
	return signed, tx.TxHash().String(), nil
}
