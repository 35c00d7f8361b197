package domain

import "time"

// BatchItem statuses. pending, in_progress and the retry transition back to
// pending are driven by the orchestrator; succeeded and abandoned are terminal.
const (
	ItemStatusPending    = "pending"
	ItemStatusInProgress = "in_progress"
	ItemStatusSucceeded  = "succeeded"
	ItemStatusAbandoned  = "abandoned"
)

// Batch is one logical request to produce RequestedCount accounts.
// Signature is derived from the request parameters so re-invocation with the
// same parameters resolves to the same batch.
type Batch struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement"`
	Signature      string      `gorm:"not null;size:191;uniqueIndex"`
	RequestedCount uint        `gorm:"not null"`
	Items          []BatchItem `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time   `gorm:"autoCreateTime"`
	CompletedAt    *time.Time
}

func (Batch) TableName() string {
	return "batches"
}

func (b Batch) IsComplete() bool {
	return b.CompletedAt != nil
}

// BatchItem tracks one account-creation slot. ItemIndex is the position in the
// requested batch and is stable across resume.
type BatchItem struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	BatchID       uint64 `gorm:"not null;uniqueIndex:idx_batch_item,priority:1"`
	ItemIndex     uint   `gorm:"not null;uniqueIndex:idx_batch_item,priority:2"`
	Status        string `gorm:"not null;size:16;default:'pending'"`
	Attempts      uint   `gorm:"not null;default:0"`
	LastProxy     string `gorm:"size:255;default:''"`
	LastError     string `gorm:"size:512;default:''"`
	ResultPayload []byte
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (BatchItem) TableName() string {
	return "batch_items"
}

// IsTerminal reports whether the item needs no further work.
func (it BatchItem) IsTerminal() bool {
	return it.Status == ItemStatusSucceeded || it.Status == ItemStatusAbandoned
}
