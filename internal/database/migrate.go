package database

import (
	"fmt"

	"gorm.io/gorm"

	"storefront/internal/model"
	"storefront/pkg/log"
)

// Models every table owned by the fulfillment pipeline, in creation order
func Models() []interface{} {
	return []interface{}{
		&model.Product{},
		&model.StockRecord{},
		&model.Order{},
		&model.OrderItem{},
		&model.StockLog{},
	}
}

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		log.Infof("Migrated model: %T", m)
	}

	log.Info("Database migration completed successfully")
	return nil
}

// CheckTables reports tables that are missing
func CheckTables(db *gorm.DB) ([]string, error) {
	var missing []string
	for _, m := range Models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return nil, fmt.Errorf("failed to parse %T: %w", m, err)
		}
		if !db.Migrator().HasTable(stmt.Schema.Table) {
			log.Warnf("Table not found: %s", stmt.Schema.Table)
			missing = append(missing, stmt.Schema.Table)
		}
	}
	return missing, nil
}
