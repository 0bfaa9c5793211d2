package storage

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"samplerelay/internal/telemetry"
)

const bucketRecords = "records"

var (
	ErrSpoolClosed = errors.New("storage: spool closed")

	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	// sample timestamps carry milliseconds; the default unix mode drops them
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("storage: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: cbor decoder initialization failed: " + err.Error())
	}
}

// Spool is a telemetry sink that parks records in a local bbolt file so
// they survive until a later drain.
type Spool struct {
	db   *bbolt.DB
	path string
	log  *logrus.Entry
}

// OpenSpool opens or creates the spool at path. Writes are not fsynced
// until Flush.
func OpenSpool(path string, log *logrus.Entry) (*Spool, error) {
	if log == nil {
		log = nopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create spool dir")
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, NoSync: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open spool %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRecords))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init spool bucket")
	}

	return &Spool{db: db, path: path, log: log.WithField("spool", path)}, nil
}

func (s *Spool) Path() string { return s.path }

// Submit appends rec. Concurrent submits are coalesced into one transaction.
func (s *Spool) Submit(rec *telemetry.Record) error {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	err = s.db.Batch(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrSpoolClosed
	}
	return errors.Wrap(err, "spool record")
}

// Flush syncs the spool file to disk.
func (s *Spool) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Sync(); err != nil {
		return errors.Wrap(err, "sync spool")
	}
	return nil
}

// Len returns the number of spooled records.
func (s *Spool) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketRecords)).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *Spool) Close() error {
	if err := s.db.Sync(); err != nil {
		s.log.WithError(err).Warn("final spool sync failed")
	}
	return s.db.Close()
}

type spooled struct {
	key []byte
	rec *telemetry.Record
}

// peek returns up to n records in submission order. Entries that no
// longer decode are returned as keys with a nil record.
func (s *Spool) peek(n int) ([]spooled, error) {
	var out []spooled
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRecords)).Cursor()
		for k, v := c.First(); k != nil && len(out) < n; k, v = c.Next() {
			entry := spooled{key: append([]byte(nil), k...)}
			var rec telemetry.Record
			if err := decMode.Unmarshal(v, &rec); err == nil {
				entry.rec = &rec
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

func (s *Spool) remove(entries []spooled) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRecords))
		for _, e := range entries {
			if err := b.Delete(e.key); err != nil {
				return err
			}
		}
		return nil
	})
}

type DrainOptions struct {
	BatchSize      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds delivery attempts per batch. Zero retries until
	// ctx is done.
	MaxAttempts int
}

func (o *DrainOptions) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
}

type DrainStats struct {
	Delivered int
	Corrupt   int
	Batches   int
}

// Drain forwards spooled records to dst in submission order. A batch is
// deleted from the spool only after dst has accepted every record and
// flushed; failed batches are retried with exponential backoff.
func (s *Spool) Drain(ctx context.Context, dst telemetry.Sink, opts DrainOptions) (DrainStats, error) {
	opts.defaults()
	var stats DrainStats

	for {
		entries, err := s.peek(opts.BatchSize)
		if err != nil {
			return stats, errors.Wrap(err, "read spool")
		}
		if len(entries) == 0 {
			return stats, nil
		}

		backoff := opts.InitialBackoff
		for attempt := 1; ; attempt++ {
			err = deliver(ctx, dst, entries)
			if err == nil {
				break
			}
			if ctx.Err() != nil || (opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts) {
				return stats, errors.Wrapf(err, "deliver batch after %d attempt(s)", attempt)
			}
			s.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"batch":   len(entries),
			}).Warn("spool batch delivery failed, will retry")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return stats, errors.Wrap(ctx.Err(), "drain interrupted")
			}
			backoff *= 2
			if backoff > opts.MaxBackoff {
				backoff = opts.MaxBackoff
			}
		}

		if err := s.remove(entries); err != nil {
			return stats, errors.Wrap(err, "remove delivered records")
		}
		for _, e := range entries {
			if e.rec == nil {
				stats.Corrupt++
			} else {
				stats.Delivered++
			}
		}
		stats.Batches++
	}
}

func deliver(ctx context.Context, dst telemetry.Sink, entries []spooled) error {
	for _, e := range entries {
		if e.rec == nil {
			continue
		}
		if err := dst.Submit(e.rec); err != nil {
			return errors.Wrapf(err, "submit record %s", e.rec.ID)
		}
	}
	return dst.Flush(ctx)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func nopLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
