package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/store"
)

type Verdict string

const (
	VerifiedOnChain       Verdict = "VERIFIED_ON_CHAIN"
	RecordFoundNotOnChain Verdict = "RECORD_FOUND_NOT_ON_CHAIN"
	HashMismatch          Verdict = "HASH_MISMATCH"
	NotFound              Verdict = "NOT_FOUND"
	// ChainUnreachable is not a verdict on the certificate: the local
	// checks passed but the registry could not be read.
	ChainUnreachable Verdict = "CHAIN_UNREACHABLE"
)

// Terminal reports whether v is a final answer about the certificate.
func (v Verdict) Terminal() bool {
	return v != ChainUnreachable
}

// Records finds stored certificates by lookup key.
type Records interface {
	Lookup(key certificate.LookupKey) (*store.Record, error)
}

// Registry reads the on-chain registry.
type Registry interface {
	Verify(ctx context.Context, fp certificate.Fingerprint) (bool, error)
}

// Hasher recomputes fingerprints and checks the service signature.
type Hasher interface {
	Recompute(fields certificate.Fields, salt certificate.Salt) (certificate.Fingerprint, error)
	Attests(fp certificate.Fingerprint, sig certificate.Signature) bool
}

type Result struct {
	Verdict Verdict
	// Record is set for VERIFIED_ON_CHAIN, RECORD_FOUND_NOT_ON_CHAIN and
	// CHAIN_UNREACHABLE.
	Record *store.Record
	// Attested reports whether the stored signature verifies against the
	// service key. Only meaningful when Record is set.
	Attested   bool
	ChainError error
}

type Orchestrator struct {
	records  Records
	registry Registry
	hasher   Hasher
}

func NewOrchestrator(records Records, registry Registry, hasher Hasher) *Orchestrator {
	return &Orchestrator{
		records:  records,
		registry: registry,
		hasher:   hasher,
	}
}

// Verify classifies a candidate certificate. The record is found by key,
// or by the candidate's own institution and roll number when key is zero.
// Invalid input is returned as an error; every other outcome is a Result.
func (o *Orchestrator) Verify(ctx context.Context, candidate certificate.Fields, key certificate.LookupKey) (*Result, error) {
	normalized, err := candidate.Normalize()
	if err != nil {
		return nil, err
	}

	if key.IsZero() {
		key = normalized.Key()
	}

	logger := log.WithFields(log.Fields{
		"institution": key.InstitutionID,
		"roll":        key.RollNumber,
	})

	rec, err := o.records.Lookup(key)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("verification: no record")
		return &Result{Verdict: NotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup record: %w", err)
	}

	fp, err := o.hasher.Recompute(normalized, rec.Salt)
	if err != nil {
		return nil, fmt.Errorf("recompute fingerprint: %w", err)
	}

	if subtle.ConstantTimeCompare(fp[:], rec.Fingerprint[:]) != 1 {
		logger.Info("verification: fingerprint mismatch")
		return &Result{Verdict: HashMismatch}, nil
	}

	res := &Result{
		Record:   rec,
		Attested: o.hasher.Attests(rec.Fingerprint, rec.Signature),
	}
	logger = logger.WithField("fingerprint", rec.Fingerprint.Short())

	onChain, err := o.registry.Verify(ctx, rec.Fingerprint)
	switch {
	case err != nil:
		logger.WithError(err).Warn("verification: registry unreachable")
		res.Verdict = ChainUnreachable
		res.ChainError = err
	case onChain:
		res.Verdict = VerifiedOnChain
	default:
		res.Verdict = RecordFoundNotOnChain
	}

	logger.WithField("verdict", res.Verdict).Info("verification done")
	return res, nil
}
