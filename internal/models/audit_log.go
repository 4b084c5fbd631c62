package models

import "gorm.io/datatypes"

// AuditLog records one invitation lifecycle event. ActorID is empty for
// anonymous invitees and for background repairs.
type AuditLog struct {
	BaseModel

	ActorID    *string `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	Action     string  `gorm:"not null;index" json:"action"`
	Resource   string  `gorm:"index" json:"resource"`
	PropertyID string  `gorm:"index" json:"property_id,omitempty"`
	Result     string  `gorm:"not null" json:"result"`
	IPAddress  string  `json:"ip_address,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`

	Metadata datatypes.JSON `json:"metadata"`
}
