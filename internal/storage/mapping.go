package storage

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/backstage/services/specsheet/internal/document"
)

// fieldNames maps the in-memory camelCase field names onto the stored
// snake_case schema. The snake_case side is the bit-exact contract with
// documents already persisted by the storage collaborator; renaming any of
// these breaks interoperability with existing records.
var fieldNames = map[string]string{
	"documentType":            "document_type",
	"createdAt":               "created_at",
	"updatedAt":               "updated_at",
	"createdBy":               "created_by",
	"customerInfo":            "customer_info",
	"productIdentification":   "product_identification",
	"packagingClaims":         "packaging_claims",
	"billOfMaterials":         "bill_of_materials",
	"productionDetails":       "production_details",
	"packoutDetails":          "packout_details",
	"mixInstructions":         "mix_instructions",
	"productTesting":          "product_testing",
	"equipmentSpecifications": "equipment_specifications",
	"activityLog":             "activity_log",
}

var storageNames = invert(fieldNames)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// MapToStorage renames the known top-level keys of an internal document
// map to their storage names and wraps the activity log. Unknown keys pass
// through untouched, so the translation is lossless. The internal activity
// log is a bare array; the storage schema wraps it as {"logs": [...]}.
func MapToStorage(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		name, known := fieldNames[k]
		if !known {
			out[k] = v
			continue
		}
		if k == "activityLog" {
			out[name] = map[string]any{"logs": v}
			continue
		}
		out[name] = v
	}
	return out
}

// MapFromStorage is the inverse of MapToStorage: renaming then renaming
// back reproduces the original map exactly for every known field.
func MapFromStorage(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		name, known := storageNames[k]
		if !known {
			out[k] = v
			continue
		}
		if k == "activity_log" {
			if wrapped, ok := v.(map[string]any); ok {
				out[name] = wrapped["logs"]
				continue
			}
		}
		out[name] = v
	}
	return out
}

// ToStorage translates a sheet into the storage collaborator's record
// shape. A sheet that has never been persisted carries no id key.
func ToStorage(sheet document.SpecSheet) (map[string]any, error) {
	raw, err := json.Marshal(sheet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal sheet")
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode sheet document")
	}
	if sheet.ID == uuid.Nil {
		delete(doc, "id")
	}
	return MapToStorage(doc), nil
}

// FromStorage translates a stored record back into a sheet.
func FromStorage(rec map[string]any) (document.SpecSheet, error) {
	doc := MapFromStorage(rec)
	raw, err := json.Marshal(doc)
	if err != nil {
		return document.SpecSheet{}, errors.Wrap(err, "failed to marshal stored record")
	}
	var sheet document.SpecSheet
	if err := json.Unmarshal(raw, &sheet); err != nil {
		return document.SpecSheet{}, errors.Wrap(err, "failed to decode stored record")
	}
	return sheet, nil
}
