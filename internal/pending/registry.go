package pending

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/cache"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/metrics"
)

const (
	settledCapacity = 4096
	settledTTL      = 30 * time.Minute

	outcomeConfirmed = "confirmed"
)

// ErrTeardown is the uniform rejection for messages outstanding when
// subscriptions are torn down.
var ErrTeardown = &apperror.Error{Kind: apperror.KindResourceUnavailable, Message: "please try again"}

// ErrExpired rejects a message the handle reported as expired.
var ErrExpired = &apperror.Error{Kind: apperror.KindInternal, Message: "message expired"}

type key struct {
	address model.Address
	hash    string
}

// Future is the awaitable outcome of one sent message.
type Future struct {
	address model.Address
	hash    string
	done    chan struct{}
	tx      *model.Transaction
	err     error
}

// Hash returns the message body hash.
func (f *Future) Hash() string {
	return f.hash
}

// Address returns the sending contract.
func (f *Future) Address() model.Address {
	return f.address
}

// Done is closed once the message is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the message settles or ctx is done. A ctx error does
// not settle the message.
func (f *Future) Wait(ctx context.Context) (*model.Transaction, error) {
	select {
	case <-f.done:
		return f.tx, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry tracks sent messages until their terminal outcome. Every
// registered id settles exactly once, whichever of confirmation, expiry,
// send failure or teardown gets there first.
type Registry struct {
	owner  string
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[key]*Future
	settled   *cache.LRU[key, string]
	onSettled []func(model.Address)
}

// NewRegistry creates an empty registry. owner labels metrics.
func NewRegistry(owner string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		owner:   owner,
		logger:  logger.With("component", "pending", "owner", owner),
		entries: make(map[key]*Future),
		settled: cache.NewLRU[key, string](settledCapacity, settledTTL),
	}
}

// OnSettled registers fn to run after any message of an address settles.
// It is called without registry locks held.
func (r *Registry) OnSettled(fn func(addr model.Address)) {
	r.mu.Lock()
	r.onSettled = append(r.onSettled, fn)
	r.mu.Unlock()
}

// Register starts tracking hash for addr.
func (r *Registry) Register(addr model.Address, hash string) (*Future, error) {
	if hash == "" {
		return nil, apperror.InvalidRequest("message hash is empty", nil)
	}
	k := key{address: addr, hash: hash}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[k]; ok {
		return nil, apperror.InvalidRequest("message "+hash+" is already pending", nil)
	}
	f := &Future{address: addr, hash: hash, done: make(chan struct{})}
	r.entries[k] = f
	r.settled.Remove(k)
	metrics.PendingMessages.WithLabelValues(r.owner).Inc()
	return f, nil
}

// Resolve confirms the message with tx. It reports false when the id is not
// pending, which is expected for duplicate notifications.
func (r *Registry) Resolve(addr model.Address, hash string, tx *model.Transaction) bool {
	return r.settle(key{address: addr, hash: hash}, tx, nil)
}

// Reject fails the message with err.
func (r *Registry) Reject(addr model.Address, hash string, err error) bool {
	return r.settle(key{address: addr, hash: hash}, nil, err)
}

// RejectAddress fails every pending message of addr and returns how many
// were settled.
func (r *Registry) RejectAddress(addr model.Address, err error) int {
	r.mu.Lock()
	var keys []key
	for k := range r.entries {
		if k.address == addr {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, k := range keys {
		if r.settle(k, nil, err) {
			n++
		}
	}
	return n
}

// RejectAll fails every pending message and returns how many were settled.
func (r *Registry) RejectAll(err error) int {
	r.mu.Lock()
	keys := make([]key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	n := 0
	for _, k := range keys {
		if r.settle(k, nil, err) {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("rejected outstanding messages", "count", n, "error", err)
	}
	return n
}

// HasPending reports whether addr has unsettled messages.
func (r *Registry) HasPending(addr model.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if k.address == addr {
			return true
		}
	}
	return false
}

// Pending returns the sorted unsettled message hashes of addr.
func (r *Registry) Pending(addr model.Address) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for k := range r.entries {
		if k.address == addr {
			out = append(out, k.hash)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of unsettled messages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) settle(k key, tx *model.Transaction, err error) bool {
	r.mu.Lock()
	f, ok := r.entries[k]
	if !ok {
		_, duplicate := r.settled.Get(k)
		r.mu.Unlock()
		r.logUnknown(k, duplicate)
		return false
	}
	delete(r.entries, k)

	outcome := outcomeConfirmed
	if err != nil {
		outcome = string(apperror.KindOf(err))
	}
	r.settled.Put(k, outcome)
	hooks := append([]func(model.Address){}, r.onSettled...)
	r.mu.Unlock()

	f.tx = tx
	f.err = err
	close(f.done)

	metrics.PendingMessages.WithLabelValues(r.owner).Dec()
	metrics.MessageSettlementsTotal.WithLabelValues(r.owner, outcome).Inc()
	r.logger.Debug("message settled", "address", k.address, "hash", k.hash, "outcome", outcome)

	for _, fn := range hooks {
		fn(k.address)
	}
	return true
}

func (r *Registry) logUnknown(k key, duplicate bool) {
	kind := "unknown"
	if duplicate {
		kind = "duplicate"
	}
	metrics.DuplicateNotificationsTotal.WithLabelValues(r.owner, kind).Inc()
	if duplicate {
		r.logger.Debug("ignoring notification for settled message", "address", k.address, "hash", k.hash)
		return
	}
	r.logger.Debug("ignoring notification for unknown message", "address", k.address, "hash", k.hash)
}
