package bioindex

import (
	"fmt"
	"sync"
	"time"

	theine "github.com/Yiling-J/theine-go"
	"github.com/google/uuid"
)

const (
	defaultContinuationTTL      = 5 * time.Minute
	defaultContinuationCapacity = 10000
)

// -----------------------------------------------------------------------------
// Continuation
// -----------------------------------------------------------------------------

// ContinuationKind tags the operation a continuation resumes.
type ContinuationKind int

const (
	// KindRecords resumes a record fetch.
	KindRecords ContinuationKind = iota

	// KindKeys resumes a match key listing.
	KindKeys
)

// Continuation is an explicit resumption record: the suspended reader (or
// key iterator) plus the original query and formatting parameters and the
// current page number. Resumption dispatches on Kind rather than invoking a
// captured closure, so entries stay inspectable.
type Continuation struct {
	Kind ContinuationKind

	// Reader is the suspended record stream for KindRecords.
	Reader *RecordReader

	// Keys is the suspended key stream for KindKeys.
	Keys KeyIterator

	// Index, Query, and Queries echo the originating request.
	Index   string
	Query   Query
	Queries []Query

	// Format is the requested output shape for record pages.
	Format Format

	// Limit is the caller's record or key cap, 0 for none.
	Limit int

	// Page is the page number the next drain will produce.
	Page int

	// QuerySeconds is the wall-clock cost of resolving the originating
	// request, echoed in the first page's profile. Minted follow-up
	// continuations leave it zero.
	QuerySeconds float64
}

// -----------------------------------------------------------------------------
// ContinuationStore
// -----------------------------------------------------------------------------

// ContinuationStore maps opaque, unguessable tokens to suspended
// continuations with a single-use, expiring lifecycle.
//
// Redeem atomically looks up and removes a binding, so two concurrent
// redemptions of the same token can never both succeed; the second always
// observes "not found". Entries older than the TTL are evicted by the
// underlying cache at any time, including concurrently with redemption.
//
// Expiry doubles as the release path for abandoned streams: when an
// unredeemed record continuation falls out of the cache, its reader is
// closed so any fan-out workers behind it drain out.
type ContinuationStore struct {
	mu    sync.Mutex
	cache *theine.Cache[string, *Continuation]
	ttl   time.Duration
}

// ContinuationStoreOption configures a ContinuationStore.
type ContinuationStoreOption func(*ContinuationStore)

// WithTTL sets the expiry window for unredeemed continuations.
// The default is 5 minutes.
func WithTTL(ttl time.Duration) ContinuationStoreOption {
	return func(s *ContinuationStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewContinuationStore creates a process-wide continuation store.
func NewContinuationStore(opts ...ContinuationStoreOption) (*ContinuationStore, error) {
	cache, err := theine.NewBuilder[string, *Continuation](defaultContinuationCapacity).
		RemovalListener(func(_ string, cont *Continuation, reason theine.RemoveReason) {
			// REMOVED is an explicit delete on redemption; the stream lives on.
			if reason == theine.REMOVED {
				return
			}
			if cont.Reader != nil {
				cont.Reader.Close()
			}
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("bioindex: building continuation cache: %w", err)
	}

	s := &ContinuationStore{
		cache: cache,
		ttl:   defaultContinuationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint stores a continuation and returns a fresh unguessable token for it.
func (s *ContinuationStore) Mint(cont *Continuation) (string, error) {
	if cont == nil {
		return "", fmt.Errorf("bioindex: nil continuation")
	}

	token := newToken()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.SetWithTTL(token, cont, 1, s.ttl)
	return token, nil
}

// Redeem atomically looks up and invalidates a token, returning the bound
// continuation. Absent tokens (already redeemed, evicted, or never minted)
// and continuations over failed readers yield ErrContinuationNotFound.
func (s *ContinuationStore) Redeem(token string) (*Continuation, error) {
	s.mu.Lock()
	cont, ok := s.cache.Get(token)
	if ok {
		s.cache.Delete(token)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrContinuationNotFound
	}
	if cont.Reader != nil && cont.Reader.Failed() {
		cont.Reader.Close()
		return nil, ErrContinuationNotFound
	}
	return cont, nil
}

// Close releases the store's cache resources.
func (s *ContinuationStore) Close() {
	s.cache.Close()
}

// newToken returns a fresh token with negligible collision probability. The
// two concatenated v4 UUIDs carry 244 bits of cryptographic randomness.
func newToken() string {
	return uuid.NewString() + uuid.NewString()
}

// Nonce returns a short random identifier for response payloads.
func Nonce() string {
	return uuid.NewString()
}
