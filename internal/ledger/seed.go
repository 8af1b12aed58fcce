package ledger

// DemoAccounts returns the two reference clients.
func DemoAccounts() []*Account {
	return []*Account{
		{
			ClientID:   "12345",
			Balance:    500,
			HasBalance: true,
			Debts:      []Debt{{Amount: 100, Period: "Mayo"}, {Amount: 150, Period: "Junio"}},
		},
		{
			ClientID:   "1425",
			Balance:    500,
			HasBalance: true,
			Debts:      []Debt{{Amount: 250, Period: "Julio"}},
		},
	}
}
