package send

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tdex-network/tdex-payjoin/pkg/bip21"
	"github.com/tdex-network/tdex-payjoin/pkg/psbtutil"
)

type senderJSON struct {
	OriginalPsbt              string           `json:"original_psbt"`
	Endpoint                  string           `json:"endpoint"`
	PayeeScript               []byte           `json:"payee_script"`
	FeeContribution           *FeeContribution `json:"fee_contribution,omitempty"`
	MinFeeRate                psbtutil.FeeRate `json:"min_fee_rate"`
	DisableOutputSubstitution bool             `json:"disable_output_substitution"`
	ReplyKey                  []byte           `json:"reply_key"`
}

func (s *Sender) MarshalJSON() ([]byte, error) {
	original, err := psbtutil.Encode(s.original)
	if err != nil {
		return nil, err
	}
	return json.Marshal(senderJSON{
		OriginalPsbt:              original,
		Endpoint:                  s.endpoint.String(),
		PayeeScript:               s.payeeScript,
		FeeContribution:           s.feeContribution,
		MinFeeRate:                s.minFeeRate,
		DisableOutputSubstitution: s.disableOutputSubstitution,
		ReplyKey:                  s.replyKey.Serialize(),
	})
}

func (s *Sender) UnmarshalJSON(data []byte) error {
	j := &senderJSON{}
	if err := json.Unmarshal(data, j); err != nil {
		return err
	}

	original, err := psbtutil.Decode(j.OriginalPsbt)
	if err != nil {
		return fmt.Errorf("original psbt: %w", err)
	}
	endpoint, err := url.Parse(j.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	params, err := bip21.ParseEndpointParams(endpoint)
	if err != nil {
		return err
	}
	if params.ReceiverKey == nil || params.OhttpKeys == nil {
		return fmt.Errorf("%w: endpoint lacks receiver key or directory keys", ErrInvalidUri)
	}
	if len(j.PayeeScript) == 0 {
		return fmt.Errorf("missing payee script")
	}
	if len(j.ReplyKey) != btcec.PrivKeyBytesLen {
		return fmt.Errorf("invalid reply key")
	}
	replyKey, _ := btcec.PrivKeyFromBytes(j.ReplyKey)

	*s = Sender{
		original:                  original,
		endpoint:                  endpoint,
		receiverKey:               params.ReceiverKey,
		ohttpKeys:                 params.OhttpKeys,
		expiry:                    params.Expiry,
		payeeScript:               j.PayeeScript,
		feeContribution:           j.FeeContribution,
		minFeeRate:                j.MinFeeRate,
		disableOutputSubstitution: j.DisableOutputSubstitution,
		replyKey:                  replyKey,
	}
	return nil
}

// ToJSON serializes the sender so that it can be restored with FromJSON.
func (s *Sender) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON restores a sender serialized with ToJSON.
func FromJSON(data []byte) (*Sender, error) {
	s := &Sender{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
