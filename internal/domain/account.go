package domain

import "time"

// Account is any party that can receive money from a settlement: a customer,
// a worker or seller, or one of the platform's collector accounts.
type Account struct {
	ID         string
	ReferredBy *string
	CreatedAt  time.Time
}

// Referrer returns the account that earns commission on this account's
// transactions, if any.
func (a *Account) Referrer() (string, bool) {
	if a.ReferredBy == nil || *a.ReferredBy == "" || *a.ReferredBy == a.ID {
		return "", false
	}
	return *a.ReferredBy, true
}
