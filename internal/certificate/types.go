package certificate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// FingerprintLength matches the registry contract's bytes32 key.
	FingerprintLength = 32
	// SaltLength is the number of random bytes generated per certificate.
	SaltLength = 32
	// MinSaltLength is 128 bits.
	MinSaltLength = 16
)

var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// Fingerprint is the keyed hash of a certificate. It is treated as an opaque
// byte array and maps bit-exactly onto the registry's bytes32 key.
type Fingerprint [FingerprintLength]byte

// Salt is the per-certificate HMAC key.
type Salt = hexutil.Bytes

// Signature is a 65-byte secp256k1 signature [R || S || V] over a fingerprint.
type Signature = hexutil.Bytes

func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint

	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return fp, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	if len(b) != FingerprintLength {
		return fp, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidFingerprint, FingerprintLength, len(b))
	}

	copy(fp[:], b)
	return fp, nil
}

func (fp Fingerprint) Hex() string {
	return hexutil.Encode(fp[:])
}

func (fp Fingerprint) String() string {
	return fp.Hex()
}

// Short is used in log lines.
func (fp Fingerprint) Short() string {
	return fp.Hex()[:10]
}

func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}

// Hash converts to the go-ethereum representation used in event topics.
func (fp Fingerprint) Hash() common.Hash {
	return common.Hash(fp)
}

func (fp Fingerprint) MarshalText() ([]byte, error) {
	return []byte(fp.Hex()), nil
}

func (fp *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*fp = parsed
	return nil
}
