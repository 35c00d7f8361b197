package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"rookery/internal/domain"
)

var (
	ErrBatchNotFound         = errors.New("batch not found")
	ErrBatchSignatureEmpty   = errors.New("batch signature is required")
	ErrBatchCountZero        = errors.New("batch must request at least one item")
	ErrBatchNotComplete      = errors.New("batch still has non-terminal items")
	ErrBatchItemMissing      = errors.New("batch item was not persisted yet")
	ErrBatchStatusUnknown    = errors.New("unknown batch item status")
	ErrBatchAlreadyComplete  = errors.New("batch is already complete")
	ErrBatchCountMismatch    = errors.New("existing batch was created for a different item count")
	ErrDatabaseNotConfigured = errors.New("database connection was not initialised")
)

var validItemStatuses = map[string]struct{}{
	domain.ItemStatusPending:    {},
	domain.ItemStatusInProgress: {},
	domain.ItemStatusSucceeded:  {},
	domain.ItemStatusAbandoned:  {},
}

// GetOrCreateBatch loads the batch with the given signature, creating it (with
// count pending items) when it does not exist. On load, items left in_progress
// by an unclean stop are reset to pending before the batch is returned; that
// state cannot be trusted after a crash. The second return value reports
// whether an existing batch was resumed.
func GetOrCreateBatch(signature string, count uint) (*domain.Batch, bool, error) {
	if DB == nil {
		return nil, false, fmt.Errorf("batch: %w", ErrDatabaseNotConfigured)
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, false, ErrBatchSignatureEmpty
	}
	if count == 0 {
		return nil, false, ErrBatchCountZero
	}

	var result *domain.Batch
	resumed := false

	err := DB.Transaction(func(tx *gorm.DB) error {
		var existing domain.Batch
		err := tx.Where("signature = ?", signature).First(&existing).Error
		switch {
		case err == nil:
			if existing.RequestedCount != count {
				return ErrBatchCountMismatch
			}
			if err := tx.Model(&domain.BatchItem{}).
				Where("batch_id = ? AND status = ?", existing.ID, domain.ItemStatusInProgress).
				Update("status", domain.ItemStatusPending).Error; err != nil {
				return fmt.Errorf("batch: reset interrupted items: %w", err)
			}
			items, err := loadBatchItems(tx, existing.ID)
			if err != nil {
				return err
			}
			existing.Items = items
			result = &existing
			resumed = true
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			created := domain.Batch{
				Signature:      signature,
				RequestedCount: count,
			}
			if err := tx.Create(&created).Error; err != nil {
				return fmt.Errorf("batch: create: %w", err)
			}

			items := make([]domain.BatchItem, 0, count)
			for idx := uint(0); idx < count; idx++ {
				items = append(items, domain.BatchItem{
					BatchID:   created.ID,
					ItemIndex: idx,
					Status:    domain.ItemStatusPending,
				})
			}
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("batch: create items: %w", err)
			}
			created.Items = items
			result = &created
			return nil

		default:
			return fmt.Errorf("batch: lookup: %w", err)
		}
	})

	if err != nil {
		return nil, false, err
	}
	return result, resumed, nil
}

func loadBatchItems(tx *gorm.DB, batchID uint64) ([]domain.BatchItem, error) {
	var items []domain.BatchItem
	if err := tx.
		Where("batch_id = ?", batchID).
		Order("item_index ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("batch: load items: %w", err)
	}
	return items, nil
}

// GetBatchBySignature loads a batch and its items without mutating anything.
func GetBatchBySignature(signature string) (*domain.Batch, error) {
	if DB == nil {
		return nil, fmt.Errorf("batch: %w", ErrDatabaseNotConfigured)
	}

	var batch domain.Batch
	if err := DB.Where("signature = ?", signature).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("batch: lookup: %w", err)
	}

	items, err := loadBatchItems(DB, batch.ID)
	if err != nil {
		return nil, err
	}
	batch.Items = items
	return &batch, nil
}

// SaveBatchItem writes an item's current state synchronously. The orchestrator
// must not reuse the item's lane until this returns, resume correctness
// depends on it.
func SaveBatchItem(item *domain.BatchItem) error {
	if DB == nil {
		return fmt.Errorf("batch: %w", ErrDatabaseNotConfigured)
	}
	if item == nil || item.ID == 0 {
		return ErrBatchItemMissing
	}
	if _, ok := validItemStatuses[item.Status]; !ok {
		return fmt.Errorf("%w: %q", ErrBatchStatusUnknown, item.Status)
	}

	res := DB.Model(&domain.BatchItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":         item.Status,
			"attempts":       item.Attempts,
			"last_proxy":     item.LastProxy,
			"last_error":     item.LastError,
			"result_payload": item.ResultPayload,
		})
	if res.Error != nil {
		return fmt.Errorf("batch: save item %d: %w", item.ItemIndex, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch: save item %d: %w", item.ItemIndex, ErrBatchItemMissing)
	}
	return nil
}

// CompleteBatch stamps completed_at once every item is terminal. Completed
// batches are immutable afterwards; calling this twice is an error.
func CompleteBatch(batchID uint64) error {
	if DB == nil {
		return fmt.Errorf("batch: %w", ErrDatabaseNotConfigured)
	}

	return DB.Transaction(func(tx *gorm.DB) error {
		var batch domain.Batch
		if err := tx.First(&batch, batchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBatchNotFound
			}
			return fmt.Errorf("batch: lookup: %w", err)
		}
		if batch.CompletedAt != nil {
			return ErrBatchAlreadyComplete
		}

		var open int64
		if err := tx.Model(&domain.BatchItem{}).
			Where("batch_id = ? AND status NOT IN ?", batchID, []string{domain.ItemStatusSucceeded, domain.ItemStatusAbandoned}).
			Count(&open).Error; err != nil {
			return fmt.Errorf("batch: count open items: %w", err)
		}
		if open > 0 {
			return ErrBatchNotComplete
		}

		now := time.Now().UTC()
		return tx.Model(&domain.Batch{}).
			Where("id = ?", batchID).
			Update("completed_at", now).Error
	})
}

// ExportBatchItems returns a batch's items in original index order, optionally
// filtered by status. An empty filter returns every item.
func ExportBatchItems(signature string, statusFilter string) ([]domain.BatchItem, error) {
	if DB == nil {
		return nil, fmt.Errorf("batch: %w", ErrDatabaseNotConfigured)
	}

	var batch domain.Batch
	if err := DB.Where("signature = ?", signature).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("batch: lookup: %w", err)
	}

	query := DB.Where("batch_id = ?", batch.ID)
	if statusFilter != "" {
		if _, ok := validItemStatuses[statusFilter]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrBatchStatusUnknown, statusFilter)
		}
		query = query.Where("status = ?", statusFilter)
	}

	var items []domain.BatchItem
	if err := query.Order("item_index ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("batch: export: %w", err)
	}
	return items, nil
}

// BatchStore adapts the package-level handlers to the orchestrator's state
// store contract.
type BatchStore struct{}

func (BatchStore) SaveItem(item *domain.BatchItem) error {
	return SaveBatchItem(item)
}

func (BatchStore) CompleteBatch(batchID uint64) error {
	return CompleteBatch(batchID)
}
