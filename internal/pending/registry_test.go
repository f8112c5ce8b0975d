package pending

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = model.Address("0:aaaa")
	bob   = model.Address("0:bbbb")
)

func newRegistry() *Registry {
	return NewRegistry("test", slog.Default())
}

func TestRegister_RejectsDuplicateInFlight(t *testing.T) {
	r := newRegistry()
	_, err := r.Register(alice, "h1")
	require.NoError(t, err)

	_, err = r.Register(alice, "h1")
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)

	// Same hash on another address is a different id.
	_, err = r.Register(bob, "h1")
	assert.NoError(t, err)

	_, err = r.Register(alice, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)
}

func TestResolve_SettlesFuture(t *testing.T) {
	r := newRegistry()
	f, err := r.Register(alice, "h1")
	require.NoError(t, err)
	assert.True(t, r.HasPending(alice))

	tx := &model.Transaction{Hash: "tx1", InMessageHash: "h1"}
	assert.True(t, r.Resolve(alice, "h1", tx))

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tx, got)
	assert.False(t, r.HasPending(alice))
	assert.Zero(t, r.Len())
}

func TestSettle_DuplicateNotificationsAreNoops(t *testing.T) {
	r := newRegistry()
	f, err := r.Register(alice, "h1")
	require.NoError(t, err)

	require.True(t, r.Resolve(alice, "h1", &model.Transaction{Hash: "tx1"}))
	assert.False(t, r.Resolve(alice, "h1", &model.Transaction{Hash: "tx2"}))
	assert.False(t, r.Reject(alice, "h1", ErrExpired))
	assert.False(t, r.Resolve(alice, "never-registered", nil))

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tx1", got.Hash)
}

func TestReject_ExpiredMessage(t *testing.T) {
	r := newRegistry()
	f, err := r.Register(alice, "h1")
	require.NoError(t, err)

	require.True(t, r.Reject(alice, "h1", ErrExpired))
	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, err, apperror.ErrInternal)
}

func TestRejectAddress(t *testing.T) {
	r := newRegistry()
	fa1, _ := r.Register(alice, "h1")
	fa2, _ := r.Register(alice, "h2")
	fb, _ := r.Register(bob, "h3")

	assert.Equal(t, []string{"h1", "h2"}, r.Pending(alice))
	assert.Equal(t, 2, r.RejectAddress(alice, ErrTeardown))

	for _, f := range []*Future{fa1, fa2} {
		_, err := f.Wait(context.Background())
		assert.ErrorIs(t, err, apperror.ErrResourceUnavailable)
	}
	select {
	case <-fb.Done():
		t.Fatal("bob's message must stay pending")
	default:
	}
	assert.Equal(t, 1, r.Len())
}

func TestRejectAll_RacingResolveSettlesExactlyOnce(t *testing.T) {
	r := newRegistry()

	var settledCalls atomic.Int32
	r.OnSettled(func(model.Address) { settledCalls.Add(1) })

	const n = 200
	futures := make([]*Future, n)
	for i := range futures {
		f, err := r.Register(alice, "h"+strconv.Itoa(i))
		require.NoError(t, err)
		futures[i] = f
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, f := range futures {
		wg.Add(1)
		go func(f *Future) {
			defer wg.Done()
			if r.Resolve(alice, f.Hash(), &model.Transaction{Hash: "tx-" + f.Hash()}) {
				wins.Add(1)
			}
		}(f)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		wins.Add(int32(r.RejectAll(ErrTeardown)))
	}()
	wg.Wait()

	assert.Equal(t, int32(n), wins.Load())
	assert.Equal(t, int32(n), settledCalls.Load())
	assert.Zero(t, r.Len())

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, ErrTeardown)
		}
	}
}

func TestWait_ContextDoesNotSettle(t *testing.T) {
	r := newRegistry()
	f, err := r.Register(alice, "h1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Wait(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, r.HasPending(alice))
}

func TestRegister_AfterSettlementAllowsResend(t *testing.T) {
	r := newRegistry()
	_, err := r.Register(alice, "h1")
	require.NoError(t, err)
	require.True(t, r.Reject(alice, "h1", apperror.ResourceUnavailable("send failed", nil)))

	f, err := r.Register(alice, "h1")
	require.NoError(t, err)
	require.True(t, r.Resolve(alice, "h1", &model.Transaction{Hash: "tx"}))
	_, err = f.Wait(context.Background())
	assert.NoError(t, err)
}
