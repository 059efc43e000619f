package hashengine

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/swissborg/certificate-guardian/internal/certificate"
)

var ErrInvalidSalt = errors.New("invalid salt")

// Issued is everything computed for a new certificate. The caller persists
// it as one unit.
type Issued struct {
	Fields      certificate.Fields
	Fingerprint certificate.Fingerprint
	Salt        certificate.Salt
	Signature   certificate.Signature
}

// Engine computes salted fingerprints and signs them with a key that is
// fixed at construction and only read afterwards.
type Engine struct {
	signingKey *ecdsa.PrivateKey
	signer     common.Address
}

func NewEngine(signingKey *ecdsa.PrivateKey) (*Engine, error) {
	if signingKey == nil {
		return nil, errors.New("signing key is required")
	}

	return &Engine{
		signingKey: signingKey,
		signer:     crypto.PubkeyToAddress(signingKey.PublicKey),
	}, nil
}

// NewEngineFromHex parses a hex encoded secp256k1 private key, with or
// without 0x prefix.
func NewEngineFromHex(hexKey string) (*Engine, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("prepare signing key: %w", err)
	}
	return NewEngine(key)
}

func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && hexKey[0] == '0' && (hexKey[1] == 'x' || hexKey[1] == 'X') {
		hexKey = hexKey[2:]
	}
	return crypto.HexToECDSA(hexKey)
}

// Signer is the address derived from the signing key.
func (e *Engine) Signer() common.Address {
	return e.signer
}

func (e *Engine) PublicKey() *ecdsa.PublicKey {
	return &e.signingKey.PublicKey
}

// Issue generates a fresh salt, fingerprints the fields and signs the
// fingerprint. Nothing is persisted.
func (e *Engine) Issue(fields certificate.Fields) (*Issued, error) {
	normalized, err := fields.Normalize()
	if err != nil {
		return nil, err
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	fp, err := Recompute(normalized, salt)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(fp[:], e.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign fingerprint: %w", err)
	}

	return &Issued{
		Fields:      normalized,
		Fingerprint: fp,
		Salt:        salt,
		Signature:   sig,
	}, nil
}

// Recompute is the method form of the package level Recompute.
func (e *Engine) Recompute(fields certificate.Fields, salt certificate.Salt) (certificate.Fingerprint, error) {
	return Recompute(fields, salt)
}

// Attests reports whether sig is this engine's signature over fp.
func (e *Engine) Attests(fp certificate.Fingerprint, sig certificate.Signature) bool {
	return VerifySignature(fp, sig, e.PublicKey())
}

func NewSalt() (certificate.Salt, error) {
	salt := make([]byte, certificate.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate random salt: %w", err)
	}
	return salt, nil
}

// Recompute returns HMAC-SHA256(salt, Encode(fields)).
func Recompute(fields certificate.Fields, salt certificate.Salt) (certificate.Fingerprint, error) {
	var fp certificate.Fingerprint

	if len(salt) < certificate.MinSaltLength {
		return fp, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidSalt, len(salt), certificate.MinSaltLength)
	}

	msg, err := certificate.Encode(fields)
	if err != nil {
		return fp, err
	}

	mac := hmac.New(sha256.New, salt)
	_, _ = mac.Write(msg)
	copy(fp[:], mac.Sum(nil))

	return fp, nil
}

// VerifySignature checks a [R || S || V] or [R || S] signature over fp.
func VerifySignature(fp certificate.Fingerprint, sig certificate.Signature, pub *ecdsa.PublicKey) bool {
	if pub == nil {
		return false
	}
	if len(sig) != crypto.SignatureLength && len(sig) != crypto.SignatureLength-1 {
		return false
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), fp[:], sig[:crypto.SignatureLength-1])
}
