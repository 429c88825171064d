package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotencyKeys"
	defaultMaxAttempts = 5
	defaultCleanupSize = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding key documents.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries on contention.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore keeps one document per scoped key, mutated only inside transactions.
// It backs the middleware when Redis is not configured.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	var result Reservation
	err := s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error {
		reservation, fresh, err := reserveRecord(existing, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		result = reservation
		if fresh == nil {
			return nil
		}
		return tx.Set(ref, *fresh)
	})
	return result, err
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error {
		record, err := completeRecord(existing, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, record)
	})
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, existing *Record) error {
		if !releasable(existing, fingerprint) {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes up to limit expired documents in one batch. Deployments that
// configure a Firestore TTL policy on expiresAt rarely find anything here.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupSize
	}
	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// inTx loads the key's record (nil when absent) and runs fn in the same transaction.
func (s *FirestoreStore) inTx(ctx context.Context, key string, fn func(*firestore.Transaction, *firestore.DocumentRef, *Record) error) error {
	ref := s.client.Collection(s.collection).Doc(recordID(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fn(tx, ref, nil)
		}
		if err != nil {
			return err
		}
		var record Record
		if err := snap.DataTo(&record); err != nil {
			return err
		}
		return fn(tx, ref, &record)
	}, firestore.MaxAttempts(s.maxAttempts))
}
