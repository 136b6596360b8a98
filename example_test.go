package stoat_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters/memory"
	"github.com/AshkanYarmoradi/go-stoat/testing/testutil"
)

func Example() {
	ctx := context.Background()

	store := stoat.NewEventStore[testutil.Account](memory.NewAdapter(), testutil.AccountAggregate{})
	store.RegisterEvents(testutil.AccountEvents()...)

	engine := stoat.NewEngine[testutil.Account, testutil.OpenAccount, testutil.AccountCommand](
		store, testutil.AccountHandler{},
		stoat.WithErrorHandler(func(err error) { fmt.Println("dispatch:", err) }),
	)

	id, err := engine.Create(ctx, testutil.OpenAccount{Owner: "alice"}, stoat.NewCommandContext())
	if err != nil {
		panic(err)
	}
	if err := engine.Update(ctx, id, testutil.Deposit{Amount: 100}, stoat.NewCommandContext()); err != nil {
		panic(err)
	}

	err = engine.Update(ctx, id, testutil.Withdraw{Amount: 500}, stoat.NewCommandContext())
	var ce *stoat.CqrsError
	if errors.As(err, &ce) {
		fmt.Println(ce.Code, ce.InternalCode, ce.Status)
	}

	state, version, err := store.Load(ctx, id)
	if err != nil {
		panic(err)
	}
	fmt.Println(state.Owner, state.Balance, version)

	// Output:
	// BANK_INSUFFICIENT_FUNDS 42001 422
	// alice 100 2
}
