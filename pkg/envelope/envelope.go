// Package envelope encrypts the payloads exchanged by sender and receiver
// through the directory mailboxes, so that neither the relay nor the
// directory can read them.
package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// PaddedMessageBytes is the fixed size of every plaintext once padded.
	PaddedMessageBytes = 7168

	pubKeyLen     = btcec.PubKeyBytesLenCompressed
	lengthLen     = 4
	maxPayloadLen = PaddedMessageBytes - lengthLen
)

var (
	// ErrDecryptionFailure is the same error value returned by the ohttp
	// layer so that callers can test a single value.
	ErrDecryptionFailure = ohttp.ErrDecryptionFailure
	// ErrMessageTooLarge ...
	ErrMessageTooLarge = fmt.Errorf(
		"message exceeds %d bytes once padded", PaddedMessageBytes,
	)
	// ErrInvalidKey ...
	ErrInvalidKey = errors.New("invalid secp256k1 public key")

	senderToReceiverInfo = []byte("payjoin envelope sender to receiver")
	receiverToSenderInfo = []byte("payjoin envelope receiver to sender")

	idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// SealToReceiver encrypts a message from the sender, identified by its reply
// key, to the receiver's session key. The reply public key travels in clear
// so that the receiver knows where to send its answer.
func SealToReceiver(
	replyKey *btcec.PrivateKey, receiverKey *btcec.PublicKey, msg []byte,
) ([]byte, error) {
	return seal(replyKey, receiverKey, senderToReceiverInfo, msg)
}

// OpenFromSender decrypts a message sealed with SealToReceiver and returns
// it along with the sender's reply public key.
func OpenFromSender(
	receiverKey *btcec.PrivateKey, sealed []byte,
) ([]byte, *btcec.PublicKey, error) {
	return open(receiverKey, senderToReceiverInfo, sealed)
}

// SealToSender encrypts the receiver's answer to the sender's reply key using
// a one-time key.
func SealToSender(replyPubKey *btcec.PublicKey, msg []byte) ([]byte, error) {
	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return seal(ephemeral, replyPubKey, receiverToSenderInfo, msg)
}

// OpenFromReceiver decrypts a message sealed with SealToSender.
func OpenFromReceiver(replyKey *btcec.PrivateKey, sealed []byte) ([]byte, error) {
	msg, _, err := open(replyKey, receiverToSenderInfo, sealed)
	return msg, err
}

// ShortID returns the mailbox identifier of the given public key.
func ShortID(pubkey *btcec.PublicKey) string {
	h := sha256.Sum256(pubkey.SerializeCompressed())
	return idEncoding.EncodeToString(h[:8])
}

// ParsePubKey parses a compressed secp256k1 public key.
func ParsePubKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) != pubKeyLen {
		return nil, ErrInvalidKey
	}
	pubkey, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return pubkey, nil
}

func seal(
	key *btcec.PrivateKey, peer *btcec.PublicKey, info, msg []byte,
) ([]byte, error) {
	padded, err := pad(msg)
	if err != nil {
		return nil, err
	}
	pubkey := key.PubKey().SerializeCompressed()
	aead, err := newCipher(key, peer, pubkey, info)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, pubKeyLen+len(nonce)+len(padded)+aead.Overhead())
	out = append(out, pubkey...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, padded, pubkey), nil
}

func open(
	key *btcec.PrivateKey, info, sealed []byte,
) ([]byte, *btcec.PublicKey, error) {
	minLen := pubKeyLen + chacha20poly1305.NonceSize + chacha20poly1305.Overhead
	if len(sealed) < minLen {
		return nil, nil, fmt.Errorf("%w: message too short", ErrDecryptionFailure)
	}
	pubkeyBytes := sealed[:pubKeyLen]
	nonce := sealed[pubKeyLen : pubKeyLen+chacha20poly1305.NonceSize]
	ct := sealed[pubKeyLen+chacha20poly1305.NonceSize:]

	peer, err := ParsePubKey(pubkeyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDecryptionFailure, err)
	}
	aead, err := newCipher(key, peer, pubkeyBytes, info)
	if err != nil {
		return nil, nil, err
	}
	padded, err := aead.Open(nil, nonce, ct, pubkeyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDecryptionFailure, err)
	}
	msg, err := unpad(padded)
	if err != nil {
		return nil, nil, err
	}
	return msg, peer, nil
}

// the peer's serialized pubkey salts the key derivation, binding the key to
// the message header.
func newCipher(
	key *btcec.PrivateKey, peer *btcec.PublicKey, salt, info []byte,
) (cipher.AEAD, error) {
	shared := btcec.GenerateSharedSecret(key, peer)
	secret := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, info), secret); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(secret)
}

func pad(msg []byte) ([]byte, error) {
	if len(msg) > maxPayloadLen {
		return nil, ErrMessageTooLarge
	}
	padded := make([]byte, PaddedMessageBytes)
	binary.BigEndian.PutUint32(padded, uint32(len(msg)))
	copy(padded[lengthLen:], msg)
	return padded, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) != PaddedMessageBytes {
		return nil, fmt.Errorf("%w: unexpected message size", ErrDecryptionFailure)
	}
	l := binary.BigEndian.Uint32(padded)
	if l > maxPayloadLen {
		return nil, fmt.Errorf("%w: invalid message length", ErrDecryptionFailure)
	}
	return padded[lengthLen : lengthLen+l], nil
}
