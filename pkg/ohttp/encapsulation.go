package ohttp

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// ContentTypeRequest is the media type of an encapsulated request.
	ContentTypeRequest = "message/ohttp-req"
	// ContentTypeResponse is the media type of an encapsulated response.
	ContentTypeResponse = "message/ohttp-res"
	// ContentTypeKeys is the media type of a key configuration list.
	ContentTypeKeys = "application/ohttp-keys"

	requestLabel  = "message/bhttp request"
	responseLabel = "message/bhttp response"
	headerLen     = 7
)

var (
	suite = hpke.NewSuite(KEM, KDF, AEAD)
	// max(Nn, Nk) of ChaCha20-Poly1305
	responseNonceLen = chacha20poly1305.KeySize
)

// ClientContext holds what a client needs to open the response to an
// encapsulated request.
type ClientContext struct {
	enc    []byte
	secret []byte
}

// EncapsulateRequest seals a binary http request for the gateway owning cfg.
func EncapsulateRequest(
	cfg *KeyConfig, request []byte,
) ([]byte, *ClientContext, error) {
	if cfg == nil || cfg.PublicKey == nil {
		return nil, nil, ErrInvalidOhttpKeys
	}
	hdr := header(cfg.KeyID)

	sender, err := suite.NewSender(cfg.PublicKey, requestInfo(hdr))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidOhttpKeys, err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	ct, err := sealer.Seal(request, nil)
	if err != nil {
		return nil, nil, err
	}
	secret := sealer.Export([]byte(responseLabel), uint(responseNonceLen))

	out := make([]byte, 0, len(hdr)+len(enc)+len(ct))
	out = append(out, hdr...)
	out = append(out, enc...)
	out = append(out, ct...)
	return out, &ClientContext{enc, secret}, nil
}

// DecapsulateResponse opens the gateway response bound to this context.
func (c *ClientContext) DecapsulateResponse(encResponse []byte) ([]byte, error) {
	if len(encResponse) < responseNonceLen+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: response too short", ErrDecryptionFailure)
	}
	nonce, ct := encResponse[:responseNonceLen], encResponse[responseNonceLen:]
	aead, aeadNonce, err := responseCipher(c.secret, c.enc, nonce)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, aeadNonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptionFailure, err)
	}
	return pt, nil
}

// Gateway is the directory side of the encapsulation: it owns the private
// key advertised by its key configuration.
type Gateway struct {
	config     *KeyConfig
	privateKey kem.PrivateKey
}

// NewGateway returns a gateway with a freshly generated key pair.
func NewGateway(keyID uint8) (*Gateway, error) {
	pk, sk, err := KEM.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Gateway{NewKeyConfig(keyID, pk), sk}, nil
}

// NewGatewayFromSeed deterministically derives the gateway key pair from
// the given 32 bytes seed.
func NewGatewayFromSeed(keyID uint8, seed []byte) (*Gateway, error) {
	scheme := KEM.Scheme()
	if len(seed) != scheme.SeedSize() {
		return nil, fmt.Errorf("seed must be %d bytes", scheme.SeedSize())
	}
	pk, sk := scheme.DeriveKeyPair(seed)
	return &Gateway{NewKeyConfig(keyID, pk), sk}, nil
}

// KeyConfig returns the public configuration of the gateway.
func (g *Gateway) KeyConfig() *KeyConfig {
	return g.config
}

// ServerContext holds what the gateway needs to encapsulate the response to
// a decapsulated request.
type ServerContext struct {
	enc    []byte
	secret []byte
}

// DecapsulateRequest opens an encapsulated request addressed to the gateway.
func (g *Gateway) DecapsulateRequest(
	encapsulated []byte,
) ([]byte, *ServerContext, error) {
	encLen := KEM.Scheme().CiphertextSize()
	if len(encapsulated) < headerLen+encLen {
		return nil, nil, fmt.Errorf("%w: request too short", ErrDecryptionFailure)
	}
	hdr := encapsulated[:headerLen]
	if hdr[0] != g.config.KeyID ||
		hpke.KEM(binary.BigEndian.Uint16(hdr[1:3])) != KEM ||
		hpke.KDF(binary.BigEndian.Uint16(hdr[3:5])) != KDF ||
		hpke.AEAD(binary.BigEndian.Uint16(hdr[5:7])) != AEAD {
		return nil, nil, fmt.Errorf("%w: unknown key or suite", ErrDecryptionFailure)
	}
	enc := encapsulated[headerLen : headerLen+encLen]
	ct := encapsulated[headerLen+encLen:]

	receiver, err := suite.NewReceiver(g.privateKey, requestInfo(hdr))
	if err != nil {
		return nil, nil, err
	}
	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDecryptionFailure, err)
	}
	pt, err := opener.Open(ct, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDecryptionFailure, err)
	}
	secret := opener.Export([]byte(responseLabel), uint(responseNonceLen))

	return pt, &ServerContext{append([]byte{}, enc...), secret}, nil
}

// EncapsulateResponse seals the binary http response for the client.
func (s *ServerContext) EncapsulateResponse(response []byte) ([]byte, error) {
	nonce := make([]byte, responseNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	aead, aeadNonce, err := responseCipher(s.secret, s.enc, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, aeadNonce, response, nil), nil
}

func header(keyID uint8) []byte {
	hdr := make([]byte, headerLen)
	hdr[0] = keyID
	binary.BigEndian.PutUint16(hdr[1:3], uint16(KEM))
	binary.BigEndian.PutUint16(hdr[3:5], uint16(KDF))
	binary.BigEndian.PutUint16(hdr[5:7], uint16(AEAD))
	return hdr
}

func requestInfo(hdr []byte) []byte {
	info := append([]byte(requestLabel), 0x00)
	return append(info, hdr...)
}

func responseCipher(
	secret, enc, responseNonce []byte,
) (cipher.AEAD, []byte, error) {
	salt := make([]byte, 0, len(enc)+len(responseNonce))
	salt = append(salt, enc...)
	salt = append(salt, responseNonce...)
	prk := hkdf.Extract(sha256.New, secret, salt)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("key")), key); err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("nonce")), nonce); err != nil {
		return nil, nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}
	return aead, nonce, nil
}
