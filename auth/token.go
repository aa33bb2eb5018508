package auth

import (
	"fmt"
	"time"
)

// RecordStatus is the tracked presence state of a token record.
type RecordStatus string

// Token record states.
const (
	StatusActive  RecordStatus = "active"
	StatusRemoved RecordStatus = "removed"
)

// TokenRecord is the ephemeral record of a credential currently present
// at a gate. Two records are equal iff their (device, value, gate)
// tuples match.
type TokenRecord struct {
	AuthDevice string
	TokenValue string
	GateName   string
	Status     RecordStatus
	LastSeen   time.Time
}

func newTokenRecord(authDevice, tokenValue, gateName string, now time.Time) *TokenRecord {
	return &TokenRecord{
		AuthDevice: authDevice,
		TokenValue: tokenValue,
		GateName:   gateName,
		Status:     StatusActive,
		LastSeen:   now,
	}
}

// SameTuple reports tuple equality with another record.
func (r *TokenRecord) SameTuple(other *TokenRecord) bool {
	if other == nil {
		return false
	}
	return r.AuthDevice == other.AuthDevice &&
		r.TokenValue == other.TokenValue &&
		r.GateName == other.GateName
}

func (r *TokenRecord) String() string {
	return fmt.Sprintf("%s=%s@%s", r.AuthDevice, r.TokenValue, r.GateName)
}
