package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// Tx wraps a Firestore transaction. Reads execute immediately; writes are staged and
// flushed after the unit of work callback returns so every read precedes every write.
// Staged writes are not visible to reads issued later in the same transaction.
type Tx struct {
	tx *firestore.Transaction

	mu     sync.Mutex
	staged []func(*firestore.Transaction) error
}

// Get reads a document inside the transaction.
func (t *Tx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return t.tx.Get(ref)
}

// Documents runs a query inside the transaction.
func (t *Tx) Documents(q firestore.Queryer) *firestore.DocumentIterator {
	return t.tx.Documents(q)
}

// Create stages a create that fails when the document exists.
func (t *Tx) Create(ref *firestore.DocumentRef, data any) {
	t.stage(func(tx *firestore.Transaction) error { return tx.Create(ref, data) })
}

// Set stages an upsert.
func (t *Tx) Set(ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) {
	t.stage(func(tx *firestore.Transaction) error { return tx.Set(ref, data, opts...) })
}

// Update stages a partial update.
func (t *Tx) Update(ref *firestore.DocumentRef, updates []firestore.Update, preconds ...firestore.Precondition) {
	t.stage(func(tx *firestore.Transaction) error { return tx.Update(ref, updates, preconds...) })
}

// Delete stages a delete.
func (t *Tx) Delete(ref *firestore.DocumentRef) {
	t.stage(func(tx *firestore.Transaction) error { return tx.Delete(ref) })
}

func (t *Tx) stage(write func(*firestore.Transaction) error) {
	t.mu.Lock()
	t.staged = append(t.staged, write)
	t.mu.Unlock()
}

func (t *Tx) flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, write := range t.staged {
		if err := write(t.tx); err != nil {
			return err
		}
	}
	return nil
}

type txKey struct{}

// TxFromContext returns the active transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

// UnitOfWork runs callbacks inside Firestore transactions. Repositories built on
// BaseRepository pick the transaction up from the callback context.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork constructs a UnitOfWork backed by the provider's client.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx executes fn in a transaction. Nested calls join the outer transaction.
// Firestore may invoke fn more than once on contention.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction callback is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	if u == nil || u.provider == nil {
		return WrapError("transaction", errors.New("firestore: provider is nil"))
	}
	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range u.opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	err = client.RunTransaction(txnCtx, func(ctx context.Context, ftx *firestore.Transaction) error {
		tx := &Tx{tx: ftx}
		if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
			return err
		}
		return tx.flush()
	}, firestore.MaxAttempts(cfg.attempts))
	if err == nil {
		return nil
	}
	var repoErr *Error
	if errors.As(err, &repoErr) || !isGRPCStatus(err) {
		// Domain errors returned by fn pass through untouched.
		return err
	}
	return WrapError("transaction", err)
}
