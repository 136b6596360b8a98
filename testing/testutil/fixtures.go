package testutil

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Bank account fixture shared by package tests.

// AccountOpened is the first event of every account stream.
type AccountOpened struct {
	Owner string `json:"owner"`
}

// EventType implements stoat.Event.
func (AccountOpened) EventType() string { return "AccountOpened" }

// MoneyDeposited increases the balance.
type MoneyDeposited struct {
	Amount int64 `json:"amount"`
}

// EventType implements stoat.Event.
func (MoneyDeposited) EventType() string { return "MoneyDeposited" }

// MoneyWithdrawn decreases the balance.
type MoneyWithdrawn struct {
	Amount int64 `json:"amount"`
}

// EventType implements stoat.Event.
func (MoneyWithdrawn) EventType() string { return "MoneyWithdrawn" }

// AccountClosed ends the account.
type AccountClosed struct{}

// EventType implements stoat.Event.
func (AccountClosed) EventType() string { return "AccountClosed" }

// Account is the aggregate state.
type Account struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
	Closed  bool   `json:"closed"`
}

// AccountAggregate is the aggregate definition.
type AccountAggregate struct{}

// AggregateType implements stoat.Aggregate.
func (AccountAggregate) AggregateType() string { return "Account" }

// Default implements stoat.Aggregate.
func (AccountAggregate) Default(id string) Account { return Account{ID: id} }

// Identity implements stoat.Aggregate.
func (AccountAggregate) Identity(a Account) string { return a.ID }

// Apply implements stoat.Aggregate.
func (AccountAggregate) Apply(a Account, e stoat.Event) (Account, error) {
	switch ev := e.(type) {
	case AccountOpened:
		a.Owner = ev.Owner
	case MoneyDeposited:
		a.Balance += ev.Amount
	case MoneyWithdrawn:
		if ev.Amount > a.Balance {
			return a, fmt.Errorf("withdrawal of %d exceeds balance %d", ev.Amount, a.Balance)
		}
		a.Balance -= ev.Amount
	case AccountClosed:
		a.Closed = true
	default:
		return a, fmt.Errorf("unknown event %q", e.EventType())
	}
	return a, nil
}

// OpenAccount creates an account.
type OpenAccount struct {
	Owner string
}

// Validate implements stoat.Validator.
func (c OpenAccount) Validate() error {
	if c.Owner == "" {
		return stoat.NewValidationError("owner", "owner is required")
	}
	return nil
}

// AccountCommand is the update command union.
type AccountCommand interface {
	isAccountCommand()
}

// Deposit adds money.
type Deposit struct{ Amount int64 }

// Withdraw removes money.
type Withdraw struct{ Amount int64 }

// CloseAccount closes the account.
type CloseAccount struct{}

// Touch is accepted and produces no events.
type Touch struct{}

func (Deposit) isAccountCommand()      {}
func (Withdraw) isAccountCommand()     {}
func (CloseAccount) isAccountCommand() {}
func (Touch) isAccountCommand()        {}

// Validate implements stoat.Validator.
func (c Deposit) Validate() error {
	if c.Amount <= 0 {
		return stoat.NewValidationError("amount", "amount must be positive")
	}
	return nil
}

// CommandType implements stoat.Typed.
func (Deposit) CommandType() string { return "Deposit" }

// CommandType implements stoat.Typed.
func (Withdraw) CommandType() string { return "Withdraw" }

// BankErrors is the fixture's error domain.
var BankErrors = stoat.MustDefineDomain("bank", 42,
	stoat.CodeSpec{Index: 1, Name: "INSUFFICIENT_FUNDS", HTTPStatus: http.StatusUnprocessableEntity},
	stoat.CodeSpec{Index: 2, Name: "ACCOUNT_CLOSED", HTTPStatus: http.StatusConflict},
)

// AccountHandler implements stoat.CommandHandler for accounts.
type AccountHandler struct{}

// HandleCreate implements stoat.CommandHandler.
func (AccountHandler) HandleCreate(_ context.Context, cmd OpenAccount, cc stoat.CommandContext) ([]stoat.Event, error) {
	return []stoat.Event{AccountOpened{Owner: cmd.Owner}}, nil
}

// HandleUpdate implements stoat.CommandHandler.
func (AccountHandler) HandleUpdate(_ context.Context, a Account, cmd AccountCommand, _ stoat.CommandContext) ([]stoat.Event, error) {
	if a.Closed {
		return nil, BankErrors.Code("ACCOUNT_CLOSED").Newf("account %s is closed", a.ID)
	}
	switch c := cmd.(type) {
	case Deposit:
		return []stoat.Event{MoneyDeposited{Amount: c.Amount}}, nil
	case Withdraw:
		if c.Amount > a.Balance {
			return nil, BankErrors.Code("INSUFFICIENT_FUNDS").Newf("balance %d is below %d", a.Balance, c.Amount)
		}
		return []stoat.Event{MoneyWithdrawn{Amount: c.Amount}}, nil
	case CloseAccount:
		return []stoat.Event{AccountClosed{}}, nil
	case Touch:
		return nil, nil
	default:
		return nil, stoat.Validation(fmt.Sprintf("unsupported command %T", cmd))
	}
}

// AccountEvents lists the fixture's events for registration.
func AccountEvents() []stoat.Event {
	return []stoat.Event{AccountOpened{}, MoneyDeposited{}, MoneyWithdrawn{}, AccountClosed{}}
}

// BankEngine is the engine type for the account fixture.
type BankEngine = stoat.Engine[Account, OpenAccount, AccountCommand]

// NewBankEngine wires the account fixture over adapter.
func NewBankEngine(adapter adapters.EventStoreAdapter, storeOpts []stoat.StoreOption, opts ...stoat.EngineOption) *BankEngine {
	store := stoat.NewEventStore[Account](adapter, AccountAggregate{}, storeOpts...)
	store.RegisterEvents(AccountEvents()...)
	return stoat.NewEngine[Account, OpenAccount, AccountCommand](store, AccountHandler{}, opts...)
}
