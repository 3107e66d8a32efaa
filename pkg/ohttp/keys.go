package ohttp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

var (
	// ErrInvalidOhttpKeys is returned when a key configuration is malformed or
	// cannot be used to encapsulate requests.
	ErrInvalidOhttpKeys = errors.New("invalid ohttp keys")
	// ErrInvalidKeyConfig is returned when the key configuration served by a
	// directory cannot be decoded.
	ErrInvalidKeyConfig = errors.New("invalid ohttp key configuration")
	// ErrRelayUnreachable is returned when the relay cannot be reached or
	// replies with a non-success status.
	ErrRelayUnreachable = errors.New("ohttp relay unreachable")
	// ErrDecryptionFailure is returned when an encapsulated message does not
	// authenticate or is malformed.
	ErrDecryptionFailure = errors.New("decryption failure")
)

const (
	// KEM is the only supported key encapsulation mechanism.
	KEM = hpke.KEM_X25519_HKDF_SHA256
	// KDF is the key derivation function of the supported suite.
	KDF = hpke.KDF_HKDF_SHA256
	// AEAD is the authenticated cipher of the supported suite.
	AEAD = hpke.AEAD_ChaCha20Poly1305
)

// SymmetricSuite is a (KDF, AEAD) pair advertised by a key configuration.
type SymmetricSuite struct {
	KDF  hpke.KDF
	AEAD hpke.AEAD
}

func (s SymmetricSuite) isSupported() bool {
	return s.KDF == KDF && s.AEAD == AEAD
}

// KeyConfig is the public key configuration of a directory's OHTTP gateway.
type KeyConfig struct {
	KeyID     uint8
	KEM       hpke.KEM
	PublicKey kem.PublicKey
	Suites    []SymmetricSuite
}

// NewKeyConfig returns a key configuration advertising only the supported
// suite for the given public key.
func NewKeyConfig(keyID uint8, publicKey kem.PublicKey) *KeyConfig {
	return &KeyConfig{
		KeyID:     keyID,
		KEM:       KEM,
		PublicKey: publicKey,
		Suites:    []SymmetricSuite{{KDF, AEAD}},
	}
}

// DecodeKeyConfig parses a single key configuration. Trailing bytes are not
// allowed so that Encode always returns the exact input.
func DecodeKeyConfig(b []byte) (*KeyConfig, error) {
	cfg, rest, err := decodeKeyConfig(b)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf(
			"%w: %d unexpected trailing bytes", ErrInvalidOhttpKeys, len(rest),
		)
	}
	return cfg, nil
}

func decodeKeyConfig(b []byte) (*KeyConfig, []byte, error) {
	if len(b) < 3 {
		return nil, nil, fmt.Errorf("%w: too short", ErrInvalidOhttpKeys)
	}
	keyID := b[0]
	kemID := hpke.KEM(binary.BigEndian.Uint16(b[1:3]))
	if kemID != KEM {
		return nil, nil, fmt.Errorf(
			"%w: unsupported kem 0x%04x", ErrInvalidOhttpKeys, uint16(kemID),
		)
	}
	scheme := kemID.Scheme()
	b = b[3:]

	pkLen := scheme.PublicKeySize()
	if len(b) < pkLen+2 {
		return nil, nil, fmt.Errorf("%w: truncated public key", ErrInvalidOhttpKeys)
	}
	publicKey, err := scheme.UnmarshalBinaryPublicKey(b[:pkLen])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidOhttpKeys, err)
	}
	b = b[pkLen:]

	suitesLen := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if suitesLen == 0 || suitesLen%4 != 0 || len(b) < suitesLen {
		return nil, nil, fmt.Errorf(
			"%w: invalid symmetric suites length %d", ErrInvalidOhttpKeys, suitesLen,
		)
	}

	suites := make([]SymmetricSuite, 0, suitesLen/4)
	supported := false
	for i := 0; i < suitesLen; i += 4 {
		suite := SymmetricSuite{
			KDF:  hpke.KDF(binary.BigEndian.Uint16(b[i : i+2])),
			AEAD: hpke.AEAD(binary.BigEndian.Uint16(b[i+2 : i+4])),
		}
		supported = supported || suite.isSupported()
		suites = append(suites, suite)
	}
	if !supported {
		return nil, nil, fmt.Errorf(
			"%w: no supported symmetric suite", ErrInvalidOhttpKeys,
		)
	}

	return &KeyConfig{
		KeyID:     keyID,
		KEM:       kemID,
		PublicKey: publicKey,
		Suites:    suites,
	}, b[suitesLen:], nil
}

// Encode serializes the key configuration.
func (c *KeyConfig) Encode() ([]byte, error) {
	pk, err := c.PublicKey.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(c.KeyID)
	binary.Write(&buf, binary.BigEndian, uint16(c.KEM))
	buf.Write(pk)
	binary.Write(&buf, binary.BigEndian, uint16(len(c.Suites)*4))
	for _, s := range c.Suites {
		binary.Write(&buf, binary.BigEndian, uint16(s.KDF))
		binary.Write(&buf, binary.BigEndian, uint16(s.AEAD))
	}
	return buf.Bytes(), nil
}

// EncodeShort returns the compact key_id || public_key form used in payjoin
// URIs. The supported suite is implied.
func (c *KeyConfig) EncodeShort() ([]byte, error) {
	pk, err := c.PublicKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append([]byte{c.KeyID}, pk...), nil
}

// DecodeShortKeyConfig parses the compact form returned by EncodeShort.
func DecodeShortKeyConfig(b []byte) (*KeyConfig, error) {
	scheme := KEM.Scheme()
	if len(b) != 1+scheme.PublicKeySize() {
		return nil, fmt.Errorf("%w: invalid short form length", ErrInvalidOhttpKeys)
	}
	publicKey, err := scheme.UnmarshalBinaryPublicKey(b[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOhttpKeys, err)
	}
	return NewKeyConfig(b[0], publicKey), nil
}

// DecodeKeys parses the body served by a directory for its ohttp keys. Both
// a length prefixed list of configurations (application/ohttp-keys) and a
// single bare configuration are accepted; the first usable one is returned.
func DecodeKeys(b []byte) (*KeyConfig, error) {
	if cfg, err := decodeKeyConfigList(b); err == nil {
		return cfg, nil
	}
	cfg, err := DecodeKeyConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyConfig, err)
	}
	return cfg, nil
}

func decodeKeyConfigList(b []byte) (*KeyConfig, error) {
	var first *KeyConfig
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, ErrInvalidKeyConfig
		}
		l := int(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
		if l > len(b) {
			return nil, ErrInvalidKeyConfig
		}
		cfg, err := DecodeKeyConfig(b[:l])
		if err == nil && first == nil {
			first = cfg
		}
		b = b[l:]
	}
	if first == nil {
		return nil, ErrInvalidKeyConfig
	}
	return first, nil
}

// EncodeKeys serializes the configuration as a single element
// application/ohttp-keys list.
func EncodeKeys(c *KeyConfig) ([]byte, error) {
	cfg, err := c.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2, 2+len(cfg))
	binary.BigEndian.PutUint16(out, uint16(len(cfg)))
	return append(out, cfg...), nil
}
