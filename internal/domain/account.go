package domain

import "fmt"

// Account identifies one user's credentials on one exchange.
type Account struct {
	UserID   string `json:"user_id"`
	Exchange string `json:"exchange"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s@%s", a.UserID, a.Exchange)
}

// TakeProfitConfig is the account-level profit target.
// targetProfit = InitialBalance * Percentage / 100
type TakeProfitConfig struct {
	UserID         string  `json:"user_id"`
	Exchange       string  `json:"exchange"`
	Percentage     float64 `json:"percentage" validate:"gt=0,lte=100"`
	InitialBalance float64 `json:"initial_balance" validate:"gt=0"`
}

func (c *TakeProfitConfig) Account() Account {
	return Account{UserID: c.UserID, Exchange: c.Exchange}
}

func (c *TakeProfitConfig) TargetProfit() float64 {
	return c.InitialBalance * c.Percentage / 100
}

// RetryPolicy controls whether closed positions are scheduled for re-entry.
// Edits only affect records created afterwards; records freeze their own copy.
type RetryPolicy struct {
	UserID                 string  `json:"user_id"`
	Exchange               string  `json:"exchange"`
	MaxRetry               int     `json:"max_retry" validate:"min=1,max=10"`
	VolumeReductionPercent float64 `json:"volume_reduction_percent" validate:"min=1,max=50"`
	Enabled                bool    `json:"enabled"`
}
