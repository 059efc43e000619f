package store

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/internal/certificate"
)

var (
	ErrNotFound      = errors.New("certificate record not found")
	ErrDuplicate     = errors.New("certificate record already exists")
	ErrTxAlreadySet  = errors.New("transaction already recorded for certificate")
	ErrInvalidPaging = errors.New("page must be >= 1 and limit between 1 and 100")
)

const MaxPageLimit = 100

// Record is the off-chain half of an issued certificate. Fields are stored
// in normalized form.
type Record struct {
	ID            uuid.UUID               `json:"id"`
	Fields        certificate.Fields      `json:"fields"`
	Fingerprint   certificate.Fingerprint `json:"fingerprint"`
	Salt          certificate.Salt        `json:"salt"`
	Signature     certificate.Signature   `json:"signature"`
	Signer        common.Address          `json:"signer"`
	TransactionID *common.Hash            `json:"transaction_id,omitempty"`
	// OnChain is set once the fingerprint is known to be in the registry,
	// with or without a transaction id of ours.
	OnChain       bool                    `json:"on_chain"`
	CreatedAt     time.Time               `json:"created_at"`
}

func (r *Record) Key() certificate.LookupKey {
	return r.Fields.Key()
}

type Page struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
}

func (p Page) TotalPages() int {
	if p.Limit == 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// Key layout:
//
//	r/<fingerprint>                       -> JSON record
//	k/<hex institution>/<hex roll>        -> fingerprint
//	i/<hex institution>/<created ns>/<fp> -> empty (listing index)
var (
	recordPrefix      = []byte("r/")
	lookupPrefix      = []byte("k/")
	institutionPrefix = []byte("i/")
)

// Badger keeps certificate records in a badger database. Records are
// written once; only the transaction id may be added later, once.
type Badger struct {
	db *badger.DB
}

// Open opens a database at path, or an in-memory one when inMemory is set.
func Open(path string, inMemory bool) (*Badger, error) {
	opt := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLogger(log.StandardLogger().WithField("component", "badger"))
	if inMemory {
		opt = opt.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Badger{db: db}, nil
}

func New(db *badger.DB) *Badger {
	return &Badger{db: db}
}

func (s *Badger) Close() error {
	return s.db.Close()
}

// Put stores a new record. It fails with ErrDuplicate when the fingerprint
// or the (institution, roll number) pair is already taken.
func (s *Badger) Put(rec *Record) error {
	key, err := rec.Key().Normalize()
	if err != nil {
		return err
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(rec.Fingerprint)); err == nil {
			return fmt.Errorf("%w: fingerprint %s", ErrDuplicate, rec.Fingerprint)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check fingerprint: %w", err)
		}

		if _, err := txn.Get(lookupKey(key)); err == nil {
			return fmt.Errorf("%w: institution %q roll %q", ErrDuplicate, key.InstitutionID, key.RollNumber)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check lookup key: %w", err)
		}

		if err := txn.Set(recordKey(rec.Fingerprint), b); err != nil {
			return fmt.Errorf("failed to set certificate to db: %w", err)
		}
		if err := txn.Set(lookupKey(key), rec.Fingerprint[:]); err != nil {
			return fmt.Errorf("failed to set lookup key: %w", err)
		}
		if err := txn.Set(institutionKey(key.InstitutionID, rec.CreatedAt, rec.Fingerprint), nil); err != nil {
			return fmt.Errorf("failed to set institution index: %w", err)
		}
		return nil
	})
}

func (s *Badger) Get(fp certificate.Fingerprint) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, fp)
		return err
	})
	return rec, err
}

// Lookup finds the record for an institution and roll number.
func (s *Badger) Lookup(key certificate.LookupKey) (*Record, error) {
	key, err := key.Normalize()
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lookupKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("error retrieving lookup key: %w", err)
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var fp certificate.Fingerprint
		copy(fp[:], raw)
		rec, err = getRecord(txn, fp)
		return err
	})
	return rec, err
}

// SetTransaction records the registration transaction of a certificate.
// Setting the same hash again is a no-op; a different one fails.
func (s *Badger) SetTransaction(fp certificate.Fingerprint, tx common.Hash) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, fp)
		if err != nil {
			return err
		}

		if rec.TransactionID != nil {
			if *rec.TransactionID == tx {
				return nil
			}
			return fmt.Errorf("%w: %s has %s", ErrTxAlreadySet, fp, rec.TransactionID.Hex())
		}

		rec.TransactionID = &tx
		rec.OnChain = true
		return putRecord(txn, rec)
	})
}

// MarkOnChain records that the fingerprint was found already registered,
// so the record is no longer reported by Unanchored.
func (s *Badger) MarkOnChain(fp certificate.Fingerprint) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, fp)
		if err != nil {
			return err
		}
		if rec.OnChain {
			return nil
		}

		rec.OnChain = true
		return putRecord(txn, rec)
	})
}

// ListByInstitution returns one page of an institution's records, newest
// first.
func (s *Badger) ListByInstitution(institutionID string, page, limit int) (*Page, error) {
	if page < 1 || limit < 1 || limit > MaxPageLimit {
		return nil, ErrInvalidPaging
	}

	institutionID = certificate.NormalizeText(institutionID)
	if institutionID == "" {
		return nil, fmt.Errorf("%w: institution_id is required", certificate.ErrInvalidFields)
	}

	prefix := institutionPrefixFor(institutionID)
	out := &Page{Records: []Record{}, Page: page, Limit: limit}
	offset := (page - 1) * limit

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// past every key under prefix: timestamp, '/', fingerprint
		seek := append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, 8+1+certificate.FingerprintLength+1)...)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			idx := out.Total
			out.Total++
			if idx < offset || idx >= offset+limit {
				continue
			}

			k := it.Item().Key()
			var fp certificate.Fingerprint
			copy(fp[:], k[len(k)-certificate.FingerprintLength:])

			rec, err := getRecord(txn, fp)
			if err != nil {
				return err
			}
			out.Records = append(out.Records, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Unanchored returns up to limit records that are not known to be in the
// registry.
func (s *Badger) Unanchored(limit int) ([]Record, error) {
	var out []Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(recordPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}

			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if rec.TransactionID == nil && !rec.OnChain {
				out = append(out, rec)
			}
		}
		return nil
	})

	return out, err
}

func getRecord(txn *badger.Txn, fp certificate.Fingerprint) (*Record, error) {
	item, err := txn.Get(recordKey(fp))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving certificate: %w", err)
	}

	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(recordKey(rec.Fingerprint), b)
}

func recordKey(fp certificate.Fingerprint) []byte {
	return append(append([]byte{}, recordPrefix...), fp[:]...)
}

func lookupKey(k certificate.LookupKey) []byte {
	var b bytes.Buffer
	b.Write(lookupPrefix)
	b.WriteString(hex.EncodeToString([]byte(k.InstitutionID)))
	b.WriteByte('/')
	b.WriteString(hex.EncodeToString([]byte(k.RollNumber)))
	return b.Bytes()
}

func institutionPrefixFor(institutionID string) []byte {
	var b bytes.Buffer
	b.Write(institutionPrefix)
	b.WriteString(hex.EncodeToString([]byte(institutionID)))
	b.WriteByte('/')
	return b.Bytes()
}

func institutionKey(institutionID string, createdAt time.Time, fp certificate.Fingerprint) []byte {
	b := institutionPrefixFor(institutionID)
	b = binary.BigEndian.AppendUint64(b, uint64(createdAt.UnixNano()))
	b = append(b, '/')
	return append(b, fp[:]...)
}
