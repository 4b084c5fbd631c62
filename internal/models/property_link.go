package models

// PropertyLink grants an identity access to a property under the role implied
// by the table it is stored in.
type PropertyLink struct {
	BaseModel

	PropertyID string `gorm:"type:uuid;not null" json:"property_id"`
	SubjectID  string `gorm:"type:uuid;not null;index" json:"subject_id"`

	Role RoleKind `gorm:"-" json:"role"`
}

// PropertyTenant is the migration shape of the tenant link table.
type PropertyTenant struct {
	BaseModel

	PropertyID string `gorm:"type:uuid;not null;uniqueIndex:idx_property_tenants_pair,priority:1"`
	SubjectID  string `gorm:"type:uuid;not null;uniqueIndex:idx_property_tenants_pair,priority:2;index"`
}

func (PropertyTenant) TableName() string { return "property_tenants" }

// PropertyServiceProvider is the migration shape of the service provider link table.
type PropertyServiceProvider struct {
	BaseModel

	PropertyID string `gorm:"type:uuid;not null;uniqueIndex:idx_property_service_providers_pair,priority:1"`
	SubjectID  string `gorm:"type:uuid;not null;uniqueIndex:idx_property_service_providers_pair,priority:2;index"`
}

func (PropertyServiceProvider) TableName() string { return "property_service_providers" }
