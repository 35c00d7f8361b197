package database

import (
	"fmt"

	"gorm.io/gorm/clause"

	"rookery/internal/domain"
)

// UpsertProxyHealth persists a proxy's health snapshot keyed by its identity.
// Health persistence is advisory: callers log and continue on error, only the
// batch state store is a halt-the-run boundary.
func UpsertProxyHealth(record domain.ProxyRecord) error {
	if DB == nil {
		return fmt.Errorf("proxy health: %w", ErrDatabaseNotConfigured)
	}

	record.ID = 0
	err := DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "host"},
			{Name: "port"},
			{Name: "protocol"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"consecutive_failures",
			"last_checked_at",
			"last_latency_ms",
			"disabled",
			"last_error",
			"updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("proxy health: upsert %s: %w", record.Key(), err)
	}
	return nil
}

// LoadProxyRecords returns every persisted proxy record in insertion order, so
// a restarted process resumes with the health state it had.
func LoadProxyRecords() ([]domain.ProxyRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("proxy health: %w", ErrDatabaseNotConfigured)
	}

	var records []domain.ProxyRecord
	if err := DB.Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("proxy health: load: %w", err)
	}
	return records, nil
}

// HealthPersister adapts the handlers to the pool's persistence contract.
type HealthPersister struct{}

func (HealthPersister) SaveHealth(record domain.ProxyRecord) error {
	return UpsertProxyHealth(record)
}
