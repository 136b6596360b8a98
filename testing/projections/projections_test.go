package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers/view"
	"github.com/AshkanYarmoradi/go-stoat/testing/testutil"
)

// =============================================================================
// Test Read Model
// =============================================================================

type balanceView struct {
	AccountID string
	Owner     string
	Balance   int64
	Events    int
	Closed    bool
}

func balanceProjection() view.Projection[balanceView] {
	return view.ProjectionFuncs[balanceView]{
		ViewIDFunc: view.ByAggregateID,
		DefaultFunc: func(id string) balanceView {
			return balanceView{AccountID: id}
		},
		UpdateFunc: func(v balanceView, env stoat.Envelope) (balanceView, bool) {
			switch e := env.Payload.(type) {
			case testutil.AccountOpened:
				v.Owner = e.Owner
			case testutil.MoneyDeposited:
				v.Balance += e.Amount
			case testutil.MoneyWithdrawn:
				v.Balance -= e.Amount
			case testutil.AccountClosed:
				v.Closed = true
			default:
				return v, false
			}
			v.Events++
			return v, true
		},
	}
}

type unrelated struct{}

func (unrelated) EventType() string { return "Unrelated" }

type failingStore struct{ err error }

func (s failingStore) Find(context.Context, string) (balanceView, bool, error) {
	return balanceView{}, false, s.err
}

func (s failingStore) Save(context.Context, string, balanceView) error { return s.err }

// =============================================================================
// Tests
// =============================================================================

func TestViewFixture_GivenEvents(t *testing.T) {
	f := TestView[balanceView](t, balanceProjection()).
		GivenEvents("Account", "acc-1",
			testutil.AccountOpened{Owner: "ada"},
			testutil.MoneyDeposited{Amount: 100},
		).
		GivenEvents("Account", "acc-1", testutil.MoneyWithdrawn{Amount: 30}).
		GivenEvents("Account", "acc-2", testutil.AccountOpened{Owner: "bob"}, unrelated{})

	f.ThenView("acc-1", balanceView{AccountID: "acc-1", Owner: "ada", Balance: 70, Events: 3})
	f.ThenViewMatches("acc-2", func(t TB, v balanceView) {
		assert.Equal(t, "bob", v.Owner)
		assert.Equal(t, 1, v.Events)
	})
	f.ThenViewNotExists("acc-3")
	f.ThenViewCount(2)

	envs := f.Envelopes()
	require.Len(t, envs, 5)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{envs[0].Sequence, envs[1].Sequence, envs[2].Sequence})
	assert.Equal(t, "Account-acc-1", envs[0].StreamID)
	assert.Equal(t, "MoneyWithdrawn", envs[2].EventType)
	assert.Equal(t, uint64(0), envs[3].Sequence)
	assert.NotEqual(t, envs[0].ID, envs[1].ID)
}

func TestViewFixture_GivenEnvelopes(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := TestView[balanceView](t, balanceProjection()).
		WithContext(context.Background()).
		WithClock(func() time.Time { return at }).
		GivenEnvelopes(stoat.Envelope{AggregateType: "Account", AggregateID: "acc-9", Payload: testutil.MoneyDeposited{Amount: 5}}).
		GivenEvents("Account", "acc-9", testutil.AccountClosed{})

	f.ThenView("acc-9", balanceView{AccountID: "acc-9", Balance: 5, Events: 2, Closed: true})
	assert.Equal(t, at, f.Envelopes()[1].RecordedAt)
	assert.Equal(t, "view:test", f.Dispatcher().Name())
}

func TestViewFixture_CustomStore(t *testing.T) {
	store := view.NewMemoryStore[balanceView]()
	f := TestView[balanceView](t, balanceProjection()).WithStore(store).
		GivenEvents("Account", "acc-1", testutil.AccountOpened{Owner: "ada"})

	assert.Same(t, store, f.Store())
	assert.Equal(t, []string{"acc-1"}, store.IDs())
}

func TestViewFixture_Failures(t *testing.T) {
	t.Run("dispatch error", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			TestView[balanceView](m, balanceProjection()).
				WithStore(failingStore{err: errors.New("boom")}).
				GivenEvents("Account", "acc-1", testutil.AccountOpened{})
		})
		assert.True(t, mt.Fatal_)
		assert.Contains(t, mt.Message, "Failed to dispatch")
	})

	t.Run("missing view", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			TestView[balanceView](m, balanceProjection()).ThenView("nope", balanceView{})
		})
		assert.True(t, mt.Fatal_)
		assert.Contains(t, mt.Message, "not found")
	})

	t.Run("view mismatch", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			TestView[balanceView](m, balanceProjection()).
				GivenEvents("Account", "acc-1", testutil.AccountOpened{Owner: "ada"}).
				ThenView("acc-1", balanceView{AccountID: "acc-1"})
		})
		assert.True(t, mt.Failed())
		assert.False(t, mt.Fatal_)
	})

	t.Run("unexpected view", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			TestView[balanceView](m, balanceProjection()).
				GivenEvents("Account", "acc-1", testutil.AccountOpened{}).
				ThenViewNotExists("acc-1")
		})
		assert.True(t, mt.Failed())
	})

	t.Run("count mismatch", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			TestView[balanceView](m, balanceProjection()).ThenViewCount(1)
		})
		assert.True(t, mt.Failed())
	})

	t.Run("store without Len", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			TestView[balanceView](m, balanceProjection()).
				WithStore(failingStore{}).
				ThenViewCount(0)
		})
		assert.True(t, mt.Fatal_)
		assert.Contains(t, mt.Message, "cannot count")
	})
}

func TestViewFixture_WithEngine(t *testing.T) {
	store := view.NewMemoryStore[balanceView]()
	dispatcher := view.New("balances", balanceProjection(), store)
	engine := testutil.NewBankEngine(testutil.NewMockAdapter(), nil, stoat.WithDispatchers(dispatcher))
	ctx := context.Background()
	cc := stoat.NewCommandContext()

	id, err := engine.Create(ctx, testutil.OpenAccount{Owner: "ada"}, cc)
	require.NoError(t, err)
	require.NoError(t, engine.Update(ctx, id, testutil.Deposit{Amount: 12}, cc))
	require.NoError(t, engine.Drain(ctx))

	// The fixture reads the same store the engine wrote to.
	TestView[balanceView](t, balanceProjection()).
		WithStore(store).
		ThenView(id, balanceView{AccountID: id, Owner: "ada", Balance: 12, Events: 2})
}
