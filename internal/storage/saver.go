package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/backstage/services/specsheet/internal/document"
)

// Saver performs translated writes against the record store. Upsert
// semantics: a sheet without a persisted id is inserted (gaining its id
// and creation timestamp), a sheet with one is updated keyed on it.
type Saver struct {
	records RecordStore
	now     func() time.Time
}

// NewSaver creates a saver over the given record store.
func NewSaver(records RecordStore) *Saver {
	return &Saver{records: records, now: time.Now}
}

// Save writes the sheet and returns the persisted state (with id and
// timestamps assigned by the store). A failed write leaves the caller's
// in-memory sheet untouched; there is no automatic retry.
func (sv *Saver) Save(ctx context.Context, sheet document.SpecSheet) (document.SpecSheet, error) {
	if sheet.CreatedAt == nil {
		now := sv.now()
		sheet.CreatedAt = &now
	}
	record, err := ToStorage(sheet)
	if err != nil {
		return document.SpecSheet{}, err
	}

	var stored map[string]any
	if sheet.ID == uuid.Nil {
		stored, err = sv.records.Insert(ctx, record)
		if err != nil {
			return document.SpecSheet{}, errors.Wrap(err, "failed to insert sheet")
		}
	} else {
		stored, err = sv.records.Update(ctx, sheet.ID, record)
		if err != nil {
			return document.SpecSheet{}, errors.Wrap(err, "failed to update sheet")
		}
	}
	return FromStorage(stored)
}

// Load fetches and translates the sheet with the given id.
func (sv *Saver) Load(ctx context.Context, id uuid.UUID) (document.SpecSheet, error) {
	record, err := sv.records.Get(ctx, id)
	if err != nil {
		return document.SpecSheet{}, err
	}
	return FromStorage(record)
}
