package types

import "time"

// Client is the owner of an eGauge meter. ID is the sanitized name and is
// unique.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClientBulkAction is an action applied to every stored client.
type ClientBulkAction string

const (
	ClientBulkActivateAll    ClientBulkAction = "activate_all"
	ClientBulkDeactivateAll  ClientBulkAction = "deactivate_all"
	ClientBulkDeleteInactive ClientBulkAction = "delete_inactive"
)
