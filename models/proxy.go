package models

import (
	"time"

	"github.com/google/uuid"
)

// ProxyStatus is the operational status of a proxy
type ProxyStatus string

const (
	ProxyStatusActive   ProxyStatus = "active"
	ProxyStatusInactive ProxyStatus = "inactive"
	ProxyStatusError    ProxyStatus = "error"
)

// DefaultProxyMaxAccounts applies when a proxy has no explicit capacity
const DefaultProxyMaxAccounts = 3

// Proxy is a network egress endpoint shared by a bounded number of accounts
// Table: proxies
// Invariant: account_count never exceeds COALESCE(max_accounts, 3) and never drops below zero
type Proxy struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_proxies_uuid" json:"uuid"`

	Host     string  `gorm:"size:255;not null" json:"host"`
	Port     int     `gorm:"not null" json:"port"`
	Username *string `gorm:"size:255" json:"username,omitempty"`
	Password *string `gorm:"size:255" json:"-"`
	Provider *string `gorm:"size:100" json:"provider,omitempty"`

	Status         ProxyStatus `gorm:"size:50;not null;default:active;index:idx_proxies_status" json:"status"`
	MaxAccounts    *int        `json:"max_accounts,omitempty"`
	AccountCount   int         `gorm:"not null;default:0;index:idx_proxies_account_count" json:"account_count"`
	LastAssignedAt *time.Time  `json:"last_assigned_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Proxy) TableName() string { return "proxies" }

// Capacity returns the effective account capacity of the proxy
func (p *Proxy) Capacity() int {
	if p == nil {
		return 0
	}
	if p.MaxAccounts == nil {
		return DefaultProxyMaxAccounts
	}
	return *p.MaxAccounts
}

// FreeSlots returns how many more accounts the proxy may take
func (p *Proxy) FreeSlots() int {
	free := p.Capacity() - p.AccountCount
	if free < 0 {
		return 0
	}
	return free
}

// ProxyFilter provides filter fields for repository queries
type ProxyFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	Host          *string
	Status        *ProxyStatus
	HasCapacity   *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ProxyStats aggregates pool capacity
type ProxyStats struct {
	TotalProxies     int64 `json:"total_proxies"`
	ActiveProxies    int64 `json:"active_proxies"`
	TotalCapacity    int64 `json:"total_capacity"`
	UsedCapacity     int64 `json:"used_capacity"`
	AvailableProxies int64 `json:"available_proxies"`
}
