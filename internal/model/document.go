package model

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Remote collection names.
const (
	CollectionCategories = "categories"
	CollectionMenuItems  = "menuItems"
	CollectionTables     = "tables"
	CollectionOrders     = "orders"
	CollectionSyncLogs   = "syncLogs"
)

// DefaultSnapshotCollections is the fixed set of collections mirrored locally.
var DefaultSnapshotCollections = []string{
	CollectionCategories,
	CollectionMenuItems,
	CollectionTables,
	CollectionOrders,
}

// Well-known document field names written by replay.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDeleted   = "deleted"
	FieldStatus    = "status"
)

// Fields is the body of a document: field name to JSON-compatible value.
type Fields map[string]any

// Clone returns a shallow copy so callers can add fields without
// mutating the original payload.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f)+2)
	maps.Copy(out, f)
	return out
}

// With returns a copy of f with key set to value.
func (f Fields) With(key string, value any) Fields {
	out := f.Clone()
	out[key] = value
	return out
}

// Document is a remote document: its id plus its fields.
//
// Documents serialize flat, as {"id": ..., ...fields}.
type Document struct {
	ID     string
	Fields Fields
}

// MarshalJSON flattens the id into the field map.
func (d Document) MarshalJSON() ([]byte, error) {
	flat := d.flatten()
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat {"id": ..., ...fields} form.
func (d *Document) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if flat == nil {
		return fmt.Errorf("document must be a JSON object")
	}
	id, ok := flat["id"].(string)
	if !ok {
		return fmt.Errorf("document id must be a string")
	}
	delete(flat, "id")
	d.ID = id
	d.Fields = Fields(flat)
	return nil
}

func (d Document) flatten() map[string]any {
	flat := make(map[string]any, len(d.Fields)+1)
	maps.Copy(flat, d.Fields)
	flat["id"] = d.ID
	return flat
}
