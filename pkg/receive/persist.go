package receive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/envelope"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

type sessionJSON struct {
	Address                   string `json:"address"`
	Directory                 string `json:"directory"`
	Relay                     string `json:"relay"`
	OhttpKeys                 []byte `json:"ohttp_keys"`
	Expiry                    int64  `json:"expiry"`
	Key                       []byte `json:"session_key"`
	DisableOutputSubstitution bool   `json:"disable_output_substitution"`
	Network                   string `json:"network"`
}

func (s *session) toJSON() (*sessionJSON, error) {
	keys, err := s.ohttpKeys.Encode()
	if err != nil {
		return nil, err
	}
	return &sessionJSON{
		Address:                   s.address.EncodeAddress(),
		Directory:                 s.directory.String(),
		Relay:                     s.relay.String(),
		OhttpKeys:                 keys,
		Expiry:                    s.expiry.Unix(),
		Key:                       s.key.Serialize(),
		DisableOutputSubstitution: s.disableOutputSubstitution,
		Network:                   s.network.Name,
	}, nil
}

func (j *sessionJSON) toSession() (*session, error) {
	network, err := bip21.NetworkFromName(j.Network)
	if err != nil {
		return nil, err
	}
	address, err := btcutil.DecodeAddress(j.Address, network)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", bip21.ErrInvalidAddress, err)
	}
	directory, err := parseURL(j.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: directory %s", bip21.ErrInvalidEndpoint, err)
	}
	relay, err := parseURL(j.Relay)
	if err != nil {
		return nil, fmt.Errorf("%w: relay %s", bip21.ErrInvalidEndpoint, err)
	}
	keys, err := ohttp.DecodeKeyConfig(j.OhttpKeys)
	if err != nil {
		return nil, err
	}
	if len(j.Key) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("invalid session key length %d", len(j.Key))
	}
	key, _ := btcec.PrivKeyFromBytes(j.Key)

	return &session{
		address:                   address,
		directory:                 directory,
		relay:                     relay,
		ohttpKeys:                 keys,
		expiry:                    time.Unix(j.Expiry, 0),
		key:                       key,
		disableOutputSubstitution: j.DisableOutputSubstitution,
		network:                   network,
	}, nil
}

func (r *Receiver) MarshalJSON() ([]byte, error) {
	j, err := r.s.toJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

func (r *Receiver) UnmarshalJSON(data []byte) error {
	j := &sessionJSON{}
	if err := json.Unmarshal(data, j); err != nil {
		return err
	}
	s, err := j.toSession()
	if err != nil {
		return err
	}
	r.s = s
	return nil
}

// ToJSON ...
func (r *Receiver) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON restores a receiver serialized with ToJSON.
func FromJSON(data []byte) (*Receiver, error) {
	r := &Receiver{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

type stageJSON struct {
	Stage          string       `json:"stage"`
	Session        *sessionJSON `json:"session"`
	OriginalPsbt   string       `json:"original_psbt"`
	Params         Params       `json:"params"`
	ReplyKey       []byte       `json:"reply_key"`
	PayjoinPsbt    string       `json:"payjoin_psbt,omitempty"`
	OriginalOwned  []int        `json:"original_owned_vouts,omitempty"`
	Owned          []int        `json:"owned_vouts,omitempty"`
	ChangeVout     int          `json:"change_vout"`
	ReceiverInputs []string     `json:"receiver_inputs,omitempty"`
}

func (st *stage) snapshot(name string) (*stageJSON, error) {
	if st.consumed.Load() {
		return nil, stageErr(name, ErrStageConsumed)
	}
	s, err := st.s.toJSON()
	if err != nil {
		return nil, err
	}
	original, err := psbtutil.Encode(st.p.psbt)
	if err != nil {
		return nil, err
	}
	return &stageJSON{
		Stage:        name,
		Session:      s,
		OriginalPsbt: original,
		Params:       st.p.params,
		ReplyKey:     st.p.replyKey.SerializeCompressed(),
	}, nil
}

func (j *stageJSON) withPayjoin(p *psbt.Packet, o outputs) error {
	b64, err := psbtutil.Encode(p)
	if err != nil {
		return err
	}
	j.PayjoinPsbt = b64
	j.OriginalOwned = o.originalOwned
	j.Owned = o.owned
	j.ChangeVout = o.changeVout
	return nil
}

func (j *stageJSON) withReceiverInputs(outpoints []wire.OutPoint) {
	j.ReceiverInputs = make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		j.ReceiverInputs = append(j.ReceiverInputs, psbtutil.FormatOutPoint(outpoint))
	}
}

func marshalSnapshot(j *stageJSON, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// Snapshot serializes the stage so that it can be restored with
// RestoreStage. A consumed stage can't be serialized.
func (u *UncheckedProposal) Snapshot() ([]byte, error) {
	return marshalSnapshot(u.snapshot(u.Name()))
}

func (m *MaybeInputsOwned) Snapshot() ([]byte, error) {
	return marshalSnapshot(m.snapshot(m.Name()))
}

func (m *MaybeInputsSeen) Snapshot() ([]byte, error) {
	return marshalSnapshot(m.snapshot(m.Name()))
}

func (o *OutputsUnknown) Snapshot() ([]byte, error) {
	return marshalSnapshot(o.snapshot(o.Name()))
}

func (w *WantsOutputs) Snapshot() ([]byte, error) {
	j, err := w.snapshot(w.Name())
	if err == nil {
		err = j.withPayjoin(w.payjoin, w.outputs)
	}
	return marshalSnapshot(j, err)
}

func (w *WantsInputs) Snapshot() ([]byte, error) {
	j, err := w.snapshot(w.Name())
	if err == nil {
		err = j.withPayjoin(w.payjoin, w.outputs)
	}
	return marshalSnapshot(j, err)
}

func (p *ProvisionalProposal) Snapshot() ([]byte, error) {
	j, err := p.snapshot(p.Name())
	if err == nil {
		err = j.withPayjoin(p.payjoin, p.outputs)
	}
	if err == nil {
		j.withReceiverInputs(p.receiverInputs)
	}
	return marshalSnapshot(j, err)
}

func (p *PayjoinProposal) Snapshot() ([]byte, error) {
	j, err := p.snapshot(p.Name())
	if err == nil {
		err = j.withPayjoin(p.payjoin, outputs{})
	}
	if err == nil {
		j.withReceiverInputs(p.receiverInputs)
	}
	return marshalSnapshot(j, err)
}

// RestoreStage restores a stage serialized with Snapshot.
func RestoreStage(data []byte) (Stage, error) {
	j := &stageJSON{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, err
	}
	if j.Session == nil {
		return nil, fmt.Errorf("missing session")
	}
	s, err := j.Session.toSession()
	if err != nil {
		return nil, err
	}
	original, err := psbtutil.Decode(j.OriginalPsbt)
	if err != nil {
		return nil, err
	}
	replyKey, err := envelope.ParsePubKey(j.ReplyKey)
	if err != nil {
		return nil, err
	}
	prop := &proposal{original, j.Params, replyKey}
	st := func() stage { return stage{s: s, p: prop} }

	var payjoin *psbt.Packet
	o := outputs{j.OriginalOwned, j.Owned, j.ChangeVout}
	if j.PayjoinPsbt != "" {
		if payjoin, err = psbtutil.Decode(j.PayjoinPsbt); err != nil {
			return nil, err
		}
	}
	receiverInputs := make([]wire.OutPoint, 0, len(j.ReceiverInputs))
	for _, in := range j.ReceiverInputs {
		outpoint, err := psbtutil.ParseOutPoint(in)
		if err != nil {
			return nil, err
		}
		receiverInputs = append(receiverInputs, *outpoint)
	}

	needsPayjoin := func() error {
		if payjoin == nil {
			return fmt.Errorf("%s snapshot lacks the payjoin psbt", j.Stage)
		}
		return nil
	}

	switch j.Stage {
	case StageUncheckedProposal:
		return &UncheckedProposal{st()}, nil
	case StageMaybeInputsOwned:
		return &MaybeInputsOwned{st()}, nil
	case StageMaybeInputsSeen:
		return &MaybeInputsSeen{st()}, nil
	case StageOutputsUnknown:
		return &OutputsUnknown{st()}, nil
	case StageWantsOutputs:
		if err := needsPayjoin(); err != nil {
			return nil, err
		}
		return &WantsOutputs{st(), payjoin, o}, nil
	case StageWantsInputs:
		if err := needsPayjoin(); err != nil {
			return nil, err
		}
		return &WantsInputs{st(), payjoin, o}, nil
	case StageProvisionalProposal:
		if err := needsPayjoin(); err != nil {
			return nil, err
		}
		return &ProvisionalProposal{st(), payjoin, o, receiverInputs}, nil
	case StagePayjoinProposal:
		if err := needsPayjoin(); err != nil {
			return nil, err
		}
		senderFinals, err := psbtutil.FinalTxIns(original)
		if err != nil {
			return nil, err
		}
		finalTx, err := psbtutil.PredictTx(payjoin, senderFinals)
		if err != nil {
			return nil, err
		}
		return &PayjoinProposal{st(), payjoin, finalTx, receiverInputs}, nil
	default:
		return nil, fmt.Errorf("unknown stage %q", j.Stage)
	}
}
