package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/taskmgr818/billpay/internal/ledger"
	"github.com/taskmgr818/billpay/internal/session"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "billpay.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAccountRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAccount(ctx, "x"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("err = %v", err)
	}

	paidAt := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	acc := &ledger.Account{
		ClientID:   "x",
		Balance:    10,
		HasBalance: true,
		Debts:      []ledger.Debt{{Amount: 5, Period: "Mayo"}, {Amount: 7, Period: "Junio"}},
		Payments: map[string]ledger.Payment{
			"p1": {ID: "p1", ClientID: "x", Amount: 3, Debt: ledger.Debt{Amount: 3, Period: "Abril"}, PaidAt: paidAt},
		},
	}
	if err := s.PutAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAccount(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != 10 || !got.HasBalance || got.Version != 1 {
		t.Errorf("scalars = %+v", got)
	}
	if !reflect.DeepEqual(got.Debts, acc.Debts) {
		t.Errorf("debts = %v", got.Debts)
	}
	if p := got.Payments["p1"]; !p.PaidAt.Equal(paidAt) || p.Debt.Period != "Abril" {
		t.Errorf("payment = %+v", p)
	}
}

func TestZeroBalanceIsDistinctFromMissing(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_ = s.PutAccount(ctx, &ledger.Account{ClientID: "a", Balance: 0, HasBalance: true})
	_ = s.PutAccount(ctx, &ledger.Account{ClientID: "b", Debts: []ledger.Debt{{Amount: 1, Period: "m"}}})

	a, _ := s.GetAccount(ctx, "a")
	b, _ := s.GetAccount(ctx, "b")
	if !a.HasBalance || b.HasBalance {
		t.Errorf("has_balance a=%v b=%v", a.HasBalance, b.HasBalance)
	}
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_ = s.PutAccount(ctx, &ledger.Account{ClientID: "x", Balance: 10, HasBalance: true})
	err := s.UpdateAccount(ctx, "x", func(acc *ledger.Account) error {
		acc.Balance = 0
		acc.Debts = append(acc.Debts, ledger.Debt{Amount: 1})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := s.GetAccount(ctx, "x")
	if got.Balance != 10 || len(got.Debts) != 0 || got.Version != 1 {
		t.Errorf("failed update leaked: %+v", got)
	}

	_ = s.UpdateAccount(ctx, "ghost", func(*ledger.Account) error { return boom })
	if _, err := s.GetAccount(ctx, "ghost"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("failed update created account: %v", err)
	}
}

func TestPaymentLookup(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_ = s.UpdateAccount(ctx, "c", func(acc *ledger.Account) error {
		acc.Payments["p1"] = ledger.Payment{ID: "p1", Amount: 4, PaidAt: time.Unix(100, 0)}
		return nil
	})
	p, err := s.FindPayment(ctx, "p1")
	if err != nil || p.ClientID != "c" || p.Amount != 4 {
		t.Fatalf("FindPayment = %+v, %v", p, err)
	}

	_ = s.UpdateAccount(ctx, "c", func(acc *ledger.Account) error {
		delete(acc.Payments, "p1")
		return nil
	})
	if _, err := s.FindPayment(ctx, "p1"); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestListClients(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		_ = s.PutAccount(ctx, &ledger.Account{ClientID: id})
	}
	ids, err := s.ListClients(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("ListClients = %v, %v", ids, err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.UpdateAccount(ctx, "n", func(acc *ledger.Account) error {
				acc.Balance++
				return nil
			}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	acc, _ := s.GetAccount(ctx, "n")
	if acc.Balance != 50 || acc.Version != 50 {
		t.Errorf("balance=%d version=%d, want 50/50", acc.Balance, acc.Version)
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	svc := ledger.NewService(s)
	_ = svc.Seed(ctx, ledger.DemoAccounts())
	r, err := svc.Pay(ctx, "1425")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	svc2 := ledger.NewService(s2)

	if bal, err := svc2.Balance(ctx, "1425"); err != nil || bal != 250 {
		t.Errorf("balance after reopen = %d, %v", bal, err)
	}
	if err := svc2.Cancel(ctx, r.PaymentID, "1425"); err != nil {
		t.Errorf("cancel after reopen: %v", err)
	}
}

func TestSeedOnRestartKeepsState(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	svc := ledger.NewService(s)
	if err := svc.Seed(ctx, ledger.DemoAccounts()); err != nil {
		t.Fatal(err)
	}
	r, err := svc.Pay(ctx, "12345")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	svc2 := ledger.NewService(s2)
	if err := svc2.Seed(ctx, ledger.DemoAccounts()); err != nil {
		t.Fatal(err)
	}

	if bal, err := svc2.Balance(ctx, "12345"); err != nil || bal != 400 {
		t.Errorf("balance after restart = %d, %v, want 400", bal, err)
	}
	debts, err := svc2.ListDebts(ctx, []string{"12345"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []ledger.Debt{{Amount: 150, Period: "Junio"}}; !reflect.DeepEqual(debts, want) {
		t.Errorf("debts after restart = %v, want %v", debts, want)
	}
	if _, err := svc2.Payment(ctx, r.PaymentID); err != nil {
		t.Errorf("payment after restart: %v", err)
	}
}

func TestSessions(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, tok := range []string{"a", "b"} {
		_ = s.PutSession(ctx, &session.Session{
			Token:     tok,
			ID:        tok,
			CreatedAt: start,
			ExpiresAt: start.Add(time.Duration(i+1) * time.Minute),
		})
	}

	got, err := s.GetSession(ctx, "a")
	if err != nil || !got.ExpiresAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("GetSession = %+v, %v", got, err)
	}
	if _, err := s.GetSession(ctx, "zzz"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("err = %v", err)
	}

	n, err := s.DeleteExpiredSessions(ctx, start.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("swept %d, %v; want 1", n, err)
	}
	if _, err := s.GetSession(ctx, "b"); err != nil {
		t.Errorf("live session swept: %v", err)
	}
}
