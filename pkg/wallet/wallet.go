// Package wallet is a single key P2WPKH wallet. It provides every capability
// a payjoin receiver or sender needs from a wallet and is meant for local
// development and tests.
package wallet

import (
	"bytes"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNullNetwork ...
	ErrNullNetwork = errors.New("network params are null")
	// ErrNullPrivateKey ...
	ErrNullPrivateKey = errors.New("private key is null")
	// ErrInvalidWIF ...
	ErrInvalidWIF = errors.New("invalid wif private key")
	// ErrNullInputUtxo ...
	ErrNullInputUtxo = errors.New("input utxo must not be null")
	// ErrInsufficientFunds ...
	ErrInsufficientFunds = errors.New("not enough funds")
	// ErrUnknownUtxo ...
	ErrUnknownUtxo = errors.New("utxo not found")
)

// Wallet holds one private key and the utxos locked by its P2WPKH script.
type Wallet struct {
	key     *btcec.PrivateKey
	network *chaincfg.Params
	address *btcutil.AddressWitnessPubKeyHash
	script  []byte

	lock   *sync.RWMutex
	utxos  map[wire.OutPoint]*wire.TxOut
	locked map[wire.OutPoint]bool
}

// New returns a wallet for the given key.
func New(key *btcec.PrivateKey, network *chaincfg.Params) (*Wallet, error) {
	if key == nil {
		return nil, ErrNullPrivateKey
	}
	if network == nil {
		return nil, ErrNullNetwork
	}

	address, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), network,
	)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		key:     key,
		network: network,
		address: address,
		script:  script,
		lock:    &sync.RWMutex{},
		utxos:   make(map[wire.OutPoint]*wire.TxOut),
		locked:  make(map[wire.OutPoint]bool),
	}, nil
}

// NewRandom returns a wallet with a freshly generated key.
func NewRandom(network *chaincfg.Params) (*Wallet, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return New(key, network)
}

// FromWIF returns the wallet of a WIF encoded private key.
func FromWIF(wif string, network *chaincfg.Params) (*Wallet, error) {
	if network == nil {
		return nil, ErrNullNetwork
	}
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, ErrInvalidWIF
	}
	if !decoded.IsForNet(network) {
		return nil, ErrInvalidWIF
	}
	return New(decoded.PrivKey, network)
}

// WIF returns the private key in WIF format.
func (w *Wallet) WIF() (string, error) {
	wif, err := btcutil.NewWIF(w.key, w.network, true)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

func (w *Wallet) Address() btcutil.Address {
	return w.address
}

// Script returns the output script locking the wallet funds.
func (w *Wallet) Script() []byte {
	return append([]byte{}, w.script...)
}

// IsOwned returns whether the script is the wallet one.
func (w *Wallet) IsOwned(script []byte) (bool, error) {
	return bytes.Equal(script, w.script), nil
}

// IsKnown returns whether the outpoint is one of the wallet utxos.
func (w *Wallet) IsKnown(outpoint wire.OutPoint) (bool, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	_, ok := w.utxos[outpoint]
	return ok, nil
}

// CanBroadcast makes a context free sanity check of the transaction: the
// wallet has no access to the mempool.
func (w *Wallet) CanBroadcast(tx *wire.MsgTx) (bool, error) {
	return checkTransaction(tx) == nil, nil
}
