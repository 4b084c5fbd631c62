package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
// Invitation and link tables are migrated through their per-role shapes so
// each table gets its own index names.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Identity{},
		&models.Profile{},
		&models.Property{},
		&models.TenantInvitation{},
		&models.ServiceProviderInvitation{},
		&models.PropertyTenant{},
		&models.PropertyServiceProvider{},
		&models.RateCounter{},
		&models.AuditLog{},
	)
}
