package models

// Property is owned by an identity with the owner role. Property CRUD lives
// elsewhere; this subsystem only reads it.
type Property struct {
	BaseModel

	OwnerID string `gorm:"type:uuid;not null;index" json:"owner_id"`
	Name    string `gorm:"not null" json:"name"`
	Address string `json:"address"`
}
