package models

import "gorm.io/gorm"

// AllModels is every table owned by this service, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&Account{}, &AccountAddress{},
		&Song{}, &Collection{},
		&ScheduledNotification{},
		&IdempotencyKey{},
		&ReconciliationReport{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
