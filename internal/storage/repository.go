package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// RecordStore is the narrow contract the core depends on: a keyed record
// store. The records exchanged are the snake_case documents produced by
// ToStorage; the core never depends on a particular storage technology.
type RecordStore interface {
	Insert(ctx context.Context, record map[string]any) (map[string]any, error)
	Update(ctx context.Context, id uuid.UUID, record map[string]any) (map[string]any, error)
	Get(ctx context.Context, id uuid.UUID) (map[string]any, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByStatus(ctx context.Context, status string, limit int) ([]map[string]any, error)
}

// SheetRecord is the persisted row. The full translated document lives in
// the jsonb column; a few fields are extracted into columns for listing.
type SheetRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
	DocumentType string         `gorm:"column:document_type;not null" json:"document_type"`
	Status       string         `gorm:"not null;index" json:"status"`
	ProductName  string         `json:"product_name"`
	CustomerName string         `json:"customer_name"`
	Data         []byte         `gorm:"type:jsonb;not null" json:"data"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&SheetRecord{}); err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}

// SheetRepository implements RecordStore on gorm/postgres.
type SheetRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewSheetRepository creates a new sheet repository
func NewSheetRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SheetRepository {
	return &SheetRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

func stringField(record map[string]any, section, field string) string {
	sec, ok := record[section].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := sec[field].(string)
	return v
}

func recordRow(id uuid.UUID, record map[string]any) (*SheetRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal record document")
	}
	status, _ := record["status"].(string)
	docType, _ := record["document_type"].(string)
	return &SheetRecord{
		ID:           id,
		DocumentType: docType,
		Status:       status,
		ProductName:  stringField(record, "product_identification", "productName"),
		CustomerName: stringField(record, "customer_info", "companyName"),
		Data:         data,
	}, nil
}

func rowDocument(row *SheetRecord) (map[string]any, error) {
	var record map[string]any
	if err := json.Unmarshal(row.Data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to decode record document")
	}
	record["id"] = row.ID.String()
	record["created_at"] = row.CreatedAt.Format(time.RFC3339Nano)
	record["updated_at"] = row.UpdatedAt.Format(time.RFC3339Nano)
	return record, nil
}

// Insert stores a new record, assigning its id and creation timestamp, and
// returns the record with both set.
func (r *SheetRepository) Insert(ctx context.Context, record map[string]any) (map[string]any, error) {
	row, err := recordRow(uuid.New(), record)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, errors.Wrap(err, "failed to insert sheet record")
	}
	return rowDocument(row)
}

// Update replaces the stored record for id and returns the stored state.
func (r *SheetRepository) Update(ctx context.Context, id uuid.UUID, record map[string]any) (map[string]any, error) {
	row, err := recordRow(id, record)
	if err != nil {
		return nil, err
	}
	result := r.db.WithContext(ctx).
		Model(&SheetRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"document_type": row.DocumentType,
			"status":        row.Status,
			"product_name":  row.ProductName,
			"customer_name": row.CustomerName,
			"data":          row.Data,
		})
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to update sheet record")
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Get fetches the record for id.
func (r *SheetRepository) Get(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	var row SheetRecord
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get sheet record")
	}
	return rowDocument(&row)
}

// Delete soft-deletes the record for id.
func (r *SheetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&SheetRecord{}, "id = ?", id)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to delete sheet record")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns up to limit records in the given lifecycle status.
func (r *SheetRepository) ListByStatus(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	var rows []SheetRecord
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sheet records")
	}
	records := make([]map[string]any, 0, len(rows))
	for i := range rows {
		record, err := rowDocument(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
