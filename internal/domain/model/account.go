package model

import "time"

// Account is a network-access account as reported by the account-manager API.
type Account struct {
	ID          string
	Username    string
	PlanCode    string
	DeviceLimit int
	Reseller    bool
	ExpiresAt   time.Time
	Disabled    bool
}

// AccountSpec describes an account to create on the account-manager API.
// ClientRef carries our order id so a replayed create upserts instead of
// duplicating.
type AccountSpec struct {
	Username    string
	Password    string
	PlanCode    string
	Days        int
	DeviceLimit int
	Reseller    bool
	ClientRef   string
}

// AccountUpdate is a partial update; nil fields are left untouched.
type AccountUpdate struct {
	PlanCode    *string
	DeviceLimit *int
	Disabled    *bool
}
