package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *recorder) Notify(_ context.Context, ev ledger.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type fixture struct {
	svc    *ledger.Service
	store  *memory.Store
	clock  *clock
	events *recorder
}

// newFixture seeds "12345" with balance 200 and debts [100 Mayo, 150 Junio],
// and "1425" with balance 500 and [250 Julio].
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	st := memory.New()
	rec := &recorder{}
	n := 0
	svc := ledger.NewService(st,
		ledger.WithClock(clk.Now),
		ledger.WithNotifier(rec),
		ledger.WithIDGenerator(func() string { n++; return fmt.Sprintf("pay-%d", n) }),
	)

	accounts := ledger.DemoAccounts()
	accounts[0].Balance = 200
	if err := svc.Seed(context.Background(), accounts); err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, store: st, clock: clk, events: rec}
}

func (f *fixture) account(t *testing.T, id string) *ledger.Account {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", id, err)
	}
	return acc
}

func TestListDebts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		ids     []string
		want    []ledger.Debt
		wantErr error
	}{
		{
			name: "single client",
			ids:  []string{"12345"},
			want: []ledger.Debt{{Amount: 100, Period: "Mayo"}, {Amount: 150, Period: "Junio"}},
		},
		{
			name: "caller order preserved",
			ids:  []string{"1425", "12345"},
			want: []ledger.Debt{{Amount: 250, Period: "Julio"}, {Amount: 100, Period: "Mayo"}, {Amount: 150, Period: "Junio"}},
		},
		{
			name: "unknown ids skipped",
			ids:  []string{"nope", "1425"},
			want: []ledger.Debt{{Amount: 250, Period: "Julio"}},
		},
		{
			name: "duplicates counted once",
			ids:  []string{"1425", "1425"},
			want: []ledger.Debt{{Amount: 250, Period: "Julio"}},
		},
		{name: "only unknown", ids: []string{"nope"}, wantErr: ledger.ErrNotFound},
		{name: "no ids", ids: nil, wantErr: ledger.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.ListDebts(ctx, tt.ids)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListDebtsKnownButEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.PutAccount(ctx, &ledger.Account{ClientID: "empty", Balance: 5, HasBalance: true})

	if _, err := f.svc.ListDebts(ctx, []string{"empty"}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.PutAccount(ctx, &ledger.Account{ClientID: "zero", Balance: 0, HasBalance: true})
	_ = f.store.PutAccount(ctx, &ledger.Account{ClientID: "debts-only", Debts: []ledger.Debt{{Amount: 1}}})

	if got, err := f.svc.Balance(ctx, "12345"); err != nil || got != 200 {
		t.Errorf("Balance(12345) = %d, %v", got, err)
	}
	if got, err := f.svc.Balance(ctx, "zero"); err != nil || got != 0 {
		t.Errorf("Balance(zero) = %d, %v; zero must be a found value", got, err)
	}
	for _, id := range []string{"nope", "debts-only"} {
		if _, err := f.svc.Balance(ctx, id); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("Balance(%s) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestPaySuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Pay(ctx, "12345")
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if r.PaymentID != "pay-1" || r.Amount != 100 || r.Remaining != 100 {
		t.Errorf("receipt = %+v", r)
	}

	acc := f.account(t, "12345")
	if acc.Balance != 100 {
		t.Errorf("balance = %d, want 100", acc.Balance)
	}
	if want := []ledger.Debt{{Amount: 150, Period: "Junio"}}; !reflect.DeepEqual(acc.Debts, want) {
		t.Errorf("debts = %v, want %v", acc.Debts, want)
	}

	p, err := f.svc.Payment(ctx, r.PaymentID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Amount != 100 || p.Debt != (ledger.Debt{Amount: 100, Period: "Mayo"}) || p.ClientID != "12345" {
		t.Errorf("payment = %+v", p)
	}
	if !p.PaidAt.Equal(f.clock.Now()) {
		t.Errorf("paid_at = %v", p.PaidAt)
	}

	if len(f.events.events) != 1 || f.events.events[0].Type != ledger.EventPaymentCreated {
		t.Errorf("events = %+v", f.events.events)
	}
}

func TestPayOnlyOldestDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.SetBalance(ctx, "12345", 1000)

	if _, err := f.svc.Pay(ctx, "12345"); err != nil {
		t.Fatal(err)
	}
	if acc := f.account(t, "12345"); len(acc.Debts) != 1 || acc.Balance != 900 {
		t.Fatalf("after first pay: %+v", acc)
	}
	if _, err := f.svc.Pay(ctx, "12345"); err != nil {
		t.Fatal(err)
	}
	if acc := f.account(t, "12345"); len(acc.Debts) != 0 || acc.Balance != 750 {
		t.Fatalf("after second pay: %+v", acc)
	}
	if _, err := f.svc.Pay(ctx, "12345"); !errors.Is(err, ledger.ErrNoDebt) {
		t.Fatalf("third pay err = %v, want ErrNoDebt", err)
	}
}

func TestPayInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.SetBalance(ctx, "12345", 50)
	before := f.account(t, "12345")

	_, err := f.svc.Pay(ctx, "12345")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	after := f.account(t, "12345")
	if after.Balance != 50 {
		t.Errorf("balance = %d, want 50", after.Balance)
	}
	if !reflect.DeepEqual(before.Debts, after.Debts) || len(after.Payments) != 0 {
		t.Errorf("state mutated: before %+v after %+v", before, after)
	}
	if len(f.events.events) != 0 {
		t.Errorf("unexpected events: %+v", f.events.events)
	}
}

func TestPayExactBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.svc.SetBalance(ctx, "12345", 100)

	r, err := f.svc.Pay(ctx, "12345")
	if err != nil {
		t.Fatal(err)
	}
	if r.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", r.Remaining)
	}
}

func TestPayNoDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.PutAccount(ctx, &ledger.Account{ClientID: "paid-up", Balance: 10, HasBalance: true})

	for _, id := range []string{"paid-up", "unknown"} {
		if _, err := f.svc.Pay(ctx, id); !errors.Is(err, ledger.ErrNoDebt) {
			t.Errorf("Pay(%s) err = %v, want ErrNoDebt", id, err)
		}
	}
	if acc := f.account(t, "paid-up"); acc.Balance != 10 || len(acc.Payments) != 0 {
		t.Errorf("state mutated: %+v", acc)
	}
	if _, err := f.store.GetAccount(ctx, "unknown"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("failed pay created an account: %v", err)
	}
}

func TestPayUnknownBalanceDefaultsToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.PutAccount(ctx, &ledger.Account{ClientID: "nobal", Debts: []ledger.Debt{{Amount: 10, Period: "Mayo"}}})

	if _, err := f.svc.Pay(ctx, "nobal"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestPayThenCancelRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.account(t, "12345")

	r, err := f.svc.Pay(ctx, "12345")
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	if err := f.svc.Cancel(ctx, r.PaymentID, "12345"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	after := f.account(t, "12345")
	if after.Balance != 200 {
		t.Errorf("balance = %d, want 200", after.Balance)
	}
	want := []ledger.Debt{{Amount: 100, Period: "Mayo"}, {Amount: 150, Period: "Junio"}}
	if !reflect.DeepEqual(after.Debts, want) {
		t.Errorf("debts = %v, want %v", after.Debts, want)
	}
	if !reflect.DeepEqual(before.Debts, after.Debts) || len(after.Payments) != 0 {
		t.Errorf("pay+cancel not identity: before %+v after %+v", before, after)
	}
	if _, err := f.svc.Payment(ctx, r.PaymentID); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Errorf("payment record survived cancel: %v", err)
	}
	if got := f.events.events[len(f.events.events)-1]; got.Type != ledger.EventPaymentCancelled || got.Balance != 200 {
		t.Errorf("last event = %+v", got)
	}
}

func TestCancelRestoresDebtToFront(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _ := f.svc.Pay(ctx, "12345")
	if _, err := f.svc.AddDebt(ctx, "12345", ledger.Debt{Amount: 50, Period: "Julio"}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Cancel(ctx, r.PaymentID, "12345"); err != nil {
		t.Fatal(err)
	}

	want := []ledger.Debt{{Amount: 100, Period: "Mayo"}, {Amount: 150, Period: "Junio"}, {Amount: 50, Period: "Julio"}}
	if got := f.account(t, "12345").Debts; !reflect.DeepEqual(got, want) {
		t.Errorf("debts = %v, want %v", got, want)
	}
}

func TestCancelErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Pay(ctx, "12345")
	if err != nil {
		t.Fatal(err)
	}
	snapshot := f.account(t, "12345")

	if err := f.svc.Cancel(ctx, "does-not-exist", "12345"); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Errorf("unknown payment err = %v", err)
	}
	if err := f.svc.Cancel(ctx, r.PaymentID, "1425"); !errors.Is(err, ledger.ErrForbidden) {
		t.Errorf("mismatched client err = %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	if err := f.svc.Cancel(ctx, r.PaymentID, "1425"); !errors.Is(err, ledger.ErrForbidden) {
		t.Errorf("ownership must be checked before expiry, err = %v", err)
	}

	f.clock.Advance(time.Nanosecond)
	if err := f.svc.Cancel(ctx, r.PaymentID, "12345"); !errors.Is(err, ledger.ErrExpired) {
		t.Errorf("expired err = %v", err)
	}

	after := f.account(t, "12345")
	if after.Balance != snapshot.Balance || !reflect.DeepEqual(after.Debts, snapshot.Debts) || len(after.Payments) != 1 {
		t.Errorf("failed cancels mutated state: before %+v after %+v", snapshot, after)
	}
	if _, err := f.svc.Payment(ctx, r.PaymentID); err != nil {
		t.Errorf("expired payment record should linger: %v", err)
	}
}

func TestCancelAtWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _ := f.svc.Pay(ctx, "12345")
	f.clock.Advance(5 * time.Minute)
	if err := f.svc.Cancel(ctx, r.PaymentID, "12345"); err != nil {
		t.Fatalf("cancel at exactly 5m should succeed: %v", err)
	}
}

func TestCancelTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _ := f.svc.Pay(ctx, "12345")
	if err := f.svc.Cancel(ctx, r.PaymentID, "12345"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Cancel(ctx, r.PaymentID, "12345"); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Fatalf("second cancel err = %v", err)
	}
	if acc := f.account(t, "12345"); acc.Balance != 200 {
		t.Errorf("double credit: balance = %d", acc.Balance)
	}
}

func TestConcurrentPaysNeverOverspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	debts := make([]ledger.Debt, 50)
	for i := range debts {
		debts[i] = ledger.Debt{Amount: 10, Period: fmt.Sprintf("m%d", i)}
	}
	_ = f.store.PutAccount(ctx, &ledger.Account{ClientID: "c", Balance: 205, HasBalance: true, Debts: debts})
	var mu sync.Mutex
	ids := 0
	svc := ledger.NewService(f.store, ledger.WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		ids++
		return fmt.Sprintf("c-%d", ids)
	}))

	var wg sync.WaitGroup
	var okCount, insufficient int
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Pay(ctx, "c")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	acc := f.account(t, "c")
	if okCount != 20 || insufficient != 30 {
		t.Errorf("ok=%d insufficient=%d, want 20/30", okCount, insufficient)
	}
	if acc.Balance != 5 || len(acc.Debts) != 30 || len(acc.Payments) != 20 {
		t.Errorf("account = balance %d, %d debts, %d payments", acc.Balance, len(acc.Debts), len(acc.Payments))
	}
}

func TestSetBalanceAndAddDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetBalance(ctx, "new", -1); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("negative balance err = %v", err)
	}
	if _, err := f.svc.AddDebt(ctx, "new", ledger.Debt{Amount: 0}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero debt err = %v", err)
	}

	acc, err := f.svc.SetBalance(ctx, "new", 30)
	if err != nil || acc.Balance != 30 || !acc.HasBalance {
		t.Fatalf("SetBalance = %+v, %v", acc, err)
	}
	acc, err = f.svc.AddDebt(ctx, "new", ledger.Debt{Amount: 30, Period: "Agosto"})
	if err != nil || len(acc.Debts) != 1 {
		t.Fatalf("AddDebt = %+v, %v", acc, err)
	}
	if _, err := f.svc.Pay(ctx, "new"); err != nil {
		t.Fatalf("Pay after admin setup: %v", err)
	}
}

func TestAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Account(ctx, "nope"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	acc, err := f.svc.Account(ctx, "1425")
	if err != nil || acc.Balance != 500 {
		t.Errorf("Account(1425) = %+v, %v", acc, err)
	}
}

func TestPrunePayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := ledger.NewService(f.store, ledger.WithClock(f.clock.Now), ledger.WithPaymentRetention(time.Hour))

	old, _ := svc.Pay(ctx, "12345")
	f.clock.Advance(2 * time.Hour)
	fresh, _ := svc.Pay(ctx, "1425")

	n, err := svc.PrunePayments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := svc.Payment(ctx, old.PaymentID); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Errorf("old payment not pruned: %v", err)
	}
	if _, err := svc.Payment(ctx, fresh.PaymentID); err != nil {
		t.Errorf("fresh payment pruned: %v", err)
	}
	if err := svc.Cancel(ctx, old.PaymentID, "12345"); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Errorf("cancel of pruned payment err = %v", err)
	}

	before := f.account(t, "1425").Version
	if n, _ := svc.PrunePayments(ctx); n != 0 {
		t.Errorf("second prune removed %d", n)
	}
	if after := f.account(t, "1425").Version; after != before {
		t.Errorf("no-op prune wrote the account (version %d -> %d)", before, after)
	}
}

type failingStore struct {
	ledger.Store
	err error
}

func (f failingStore) GetAccount(context.Context, string) (*ledger.Account, error) { return nil, f.err }
func (f failingStore) FindPayment(context.Context, string) (*ledger.Payment, error) { return nil, f.err }
func (f failingStore) UpdateAccount(context.Context, string, func(*ledger.Account) error) error {
	return f.err
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	boom := errors.New("backend down")
	svc := ledger.NewService(failingStore{err: boom})
	ctx := context.Background()

	if _, err := svc.ListDebts(ctx, []string{"x"}); !errors.Is(err, boom) {
		t.Errorf("ListDebts err = %v", err)
	}
	if _, err := svc.Balance(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Balance err = %v", err)
	}
	if _, err := svc.Pay(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Pay err = %v", err)
	}
	if err := svc.Cancel(ctx, "p", "x"); !errors.Is(err, boom) {
		t.Errorf("Cancel err = %v", err)
	}
}

func TestSeedSkipsExistingAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Pay(ctx, "12345")
	if err != nil {
		t.Fatal(err)
	}
	fresh := &ledger.Account{ClientID: "777", Balance: 30, HasBalance: true}
	if err := f.svc.Seed(ctx, append(ledger.DemoAccounts(), fresh)); err != nil {
		t.Fatal(err)
	}

	acc := f.account(t, "12345")
	if acc.Balance != 100 || len(acc.Debts) != 1 {
		t.Errorf("12345 after reseed = balance %d debts %v", acc.Balance, acc.Debts)
	}
	if _, ok := acc.Payments[r.PaymentID]; !ok {
		t.Errorf("payment %s lost on reseed", r.PaymentID)
	}
	if bal, err := f.svc.Balance(ctx, "777"); err != nil || bal != 30 {
		t.Errorf("new client balance = %d, %v", bal, err)
	}
}
