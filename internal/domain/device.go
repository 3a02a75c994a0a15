package domain

import "time"

// TrustedDevice is a device fingerprint previously associated with a
// customer. Transactions from an active trusted device are exempt from the
// unrecognized-device penalty.
type TrustedDevice struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId"`
	CustomerID        string     `json:"customerId"`
	DeviceFingerprint string     `json:"deviceFingerprint"`
	DeviceInfo        DeviceInfo `json:"deviceInfo"`
	IsActive          bool       `json:"isActive"`
	RegisteredAt      time.Time  `json:"registeredAt"`
	LastUsedAt        time.Time  `json:"lastUsedAt"`
}

// DeviceInfo is descriptive metadata captured at registration.
type DeviceInfo struct {
	UserAgent string `json:"userAgent,omitempty"`
	IsMobile  bool   `json:"isMobile,omitempty"`
	Label     string `json:"label,omitempty"`
}
