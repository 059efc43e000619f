package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/chain"
	"github.com/swissborg/certificate-guardian/internal/hashengine"
	"github.com/swissborg/certificate-guardian/internal/store"
	"github.com/swissborg/certificate-guardian/internal/taskqueue"
)

// Store is the part of the record store used for issuance.
type Store interface {
	Put(rec *store.Record) error
	Get(fp certificate.Fingerprint) (*store.Record, error)
	SetTransaction(fp certificate.Fingerprint, tx common.Hash) error
	MarkOnChain(fp certificate.Fingerprint) error
	Unanchored(limit int) ([]store.Record, error)
}

// Registrar writes fingerprints to the registry.
type Registrar interface {
	Register(ctx context.Context, fp certificate.Fingerprint) (common.Hash, error)
}

const (
	DefaultWorkers         = 4
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 5 * time.Second
	DefaultMaxInterval     = 5 * time.Minute
	DefaultTaskExpiration  = 4 * time.Hour
)

type Options struct {
	// Workers is the size of the background retry pool. Zero disables
	// background retries.
	Workers         int
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	TaskExpiration  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = DefaultInitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.TaskExpiration <= 0 {
		o.TaskExpiration = DefaultTaskExpiration
	}
	return o
}

// Result is the outcome of an issuance. The record is always persisted;
// ChainErr is set when it could not be anchored on chain. AlreadyRegistered
// is set when the registry held the fingerprint before this registration,
// in which case there is no transaction id.
type Result struct {
	Record            *store.Record
	ChainErr          error
	AlreadyRegistered bool
}

// Anchored reports whether the registry holds the fingerprint as far as
// this issuance knows.
func (r *Result) Anchored() bool {
	return r.ChainErr == nil
}

type Service struct {
	engine    *hashengine.Engine
	store     Store
	registrar Registrar
	taskQueue *taskqueue.Queue
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(engine *hashengine.Engine, st Store, registrar Registrar, opts Options) (*Service, error) {
	if engine == nil || st == nil || registrar == nil {
		return nil, errors.New("engine, store and registrar are required")
	}

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		engine:    engine,
		store:     st,
		registrar: registrar,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.Workers > 0 {
		s.taskQueue = taskqueue.NewQueue(opts.Workers)
	}

	return s, nil
}

// Close cancels pending background registrations and waits for the
// running ones.
func (s *Service) Close() {
	s.cancel()
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}

// Issue fingerprints and signs the fields, persists the record and
// registers the fingerprint, blocking until the registration is confirmed
// or fails. A duplicate (institution, roll number) fails with
// store.ErrDuplicate before anything reaches the chain.
func (s *Service) Issue(ctx context.Context, fields certificate.Fields) (*Result, error) {
	issued, err := s.engine.Issue(fields)
	if err != nil {
		return nil, err
	}

	rec := &store.Record{
		ID:          uuid.New(),
		Fields:      issued.Fields,
		Fingerprint: issued.Fingerprint,
		Salt:        issued.Salt,
		Signature:   issued.Signature,
		Signer:      s.engine.Signer(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Put(rec); err != nil {
		return nil, fmt.Errorf("save certificate: %w", err)
	}

	log.WithFields(log.Fields{
		"id":          rec.ID,
		"fingerprint": rec.Fingerprint.Short(),
		"institution": rec.Fields.InstitutionID,
	}).Info("certificate issued")

	return s.anchor(ctx, rec), nil
}

// Register anchors an already issued certificate. It is idempotent: a
// fingerprint that is already on chain is not an error.
func (s *Service) Register(ctx context.Context, fp certificate.Fingerprint) (*Result, error) {
	rec, err := s.store.Get(fp)
	if err != nil {
		return nil, err
	}
	if rec.OnChain || rec.TransactionID != nil {
		return &Result{Record: rec, AlreadyRegistered: rec.TransactionID == nil}, nil
	}

	return s.anchor(ctx, rec), nil
}

// RetryPending queues registration of up to limit records that have no
// transaction id, e.g. after a restart. It returns the number queued.
func (s *Service) RetryPending(limit int) (int, error) {
	if s.taskQueue == nil {
		return 0, nil
	}

	recs, err := s.store.Unanchored(limit)
	if err != nil {
		return 0, fmt.Errorf("list unanchored certificates: %w", err)
	}

	for _, rec := range recs {
		s.scheduleRetry(rec.Fingerprint)
	}
	return len(recs), nil
}

// Wait blocks until the background queue is drained.
func (s *Service) Wait() {
	if s.taskQueue != nil {
		s.taskQueue.Wait()
	}
}

func (s *Service) anchor(ctx context.Context, rec *store.Record) *Result {
	logger := log.WithField("fingerprint", rec.Fingerprint.Short())
	res := &Result{Record: rec}

	tx, err := s.registrar.Register(ctx, rec.Fingerprint)
	switch {
	case err == nil:
		if err := s.store.SetTransaction(rec.Fingerprint, tx); err != nil {
			logger.WithError(err).Error("failed to record registration transaction")
			res.ChainErr = fmt.Errorf("record transaction %s: %w", tx.Hex(), err)
			return res
		}
		rec.TransactionID = &tx
		rec.OnChain = true
		logger.WithField("tx", tx.Hex()).Info("certificate registered on chain")

	case errors.Is(err, chain.ErrDuplicateEntry):
		logger.Warn("fingerprint already registered on chain")
		res.AlreadyRegistered = true
		if err := s.store.MarkOnChain(rec.Fingerprint); err != nil {
			logger.WithError(err).Error("failed to mark certificate as registered")
		} else {
			rec.OnChain = true
		}

	case errors.Is(err, chain.ErrInsufficientFunds):
		logger.WithError(err).Error("transaction account needs funding, registration not retried")
		res.ChainErr = err

	case chain.Retryable(err):
		if tx != (common.Hash{}) {
			logger = logger.WithField("tx", tx.Hex())
		}
		logger.WithError(err).Warn("registration failed, scheduling retry")
		s.scheduleRetry(rec.Fingerprint)
		res.ChainErr = err

	default:
		logger.WithError(err).Error("registration failed")
		res.ChainErr = err
	}

	return res
}

func (s *Service) scheduleRetry(fp certificate.Fingerprint) {
	if s.taskQueue == nil {
		return
	}

	logger := log.WithField("fingerprint", fp.Short())

	task := taskqueue.NewTask(
		func() (common.Hash, error) {
			return s.registrar.Register(s.ctx, fp)
		},
		func(tx common.Hash, err error) {
			switch {
			case err == nil:
				if err := s.store.SetTransaction(fp, tx); err != nil {
					logger.WithError(err).Error("failed to record registration transaction")
					return
				}
				logger.WithField("tx", tx.Hex()).Info("certificate registered on chain after retry")
			case errors.Is(err, chain.ErrDuplicateEntry):
				logger.Info("fingerprint already registered on chain")
				if err := s.store.MarkOnChain(fp); err != nil {
					logger.WithError(err).Error("failed to mark certificate as registered")
				}
			default:
				logger.WithError(err).Warn("registration retry failed")
			}
		},
		chain.Retryable,
	).WithBackoff(s.newBackOff())
	task.TTL = s.opts.TaskExpiration

	s.taskQueue.Add(task)
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	retries := s.opts.MaxAttempts - 1
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), s.ctx)
}
