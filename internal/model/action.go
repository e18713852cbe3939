package model

import (
	"encoding/json"
	"fmt"
)

// ActionKind identifies an administrative mutation.
type ActionKind string

const (
	KindCreateMenuItem    ActionKind = "createMenuItem"
	KindUpdateMenuItem    ActionKind = "updateMenuItem"
	KindDeleteMenuItem    ActionKind = "deleteMenuItem"
	KindCreateCategory    ActionKind = "createCategory"
	KindUpdateCategory    ActionKind = "updateCategory"
	KindDeleteCategory    ActionKind = "deleteCategory"
	KindCreateTable       ActionKind = "createTable"
	KindUpdateTable       ActionKind = "updateTable"
	KindDeleteTable       ActionKind = "deleteTable"
	KindUpdateOrderStatus ActionKind = "updateOrderStatus"
)

var actionKinds = []ActionKind{
	KindCreateMenuItem, KindUpdateMenuItem, KindDeleteMenuItem,
	KindCreateCategory, KindUpdateCategory, KindDeleteCategory,
	KindCreateTable, KindUpdateTable, KindDeleteTable,
	KindUpdateOrderStatus,
}

// ActionKinds returns every kind this build can replay, in a stable order.
func ActionKinds() []ActionKind {
	out := make([]ActionKind, len(actionKinds))
	copy(out, actionKinds)
	return out
}

// ParseActionKind returns the kind named s, or false if s is not a known kind.
func ParseActionKind(s string) (ActionKind, bool) {
	for _, k := range actionKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Collection returns the remote collection the kind targets.
func (k ActionKind) Collection() string {
	switch k {
	case KindCreateMenuItem, KindUpdateMenuItem, KindDeleteMenuItem:
		return CollectionMenuItems
	case KindCreateCategory, KindUpdateCategory, KindDeleteCategory:
		return CollectionCategories
	case KindCreateTable, KindUpdateTable, KindDeleteTable:
		return CollectionTables
	case KindUpdateOrderStatus:
		return CollectionOrders
	default:
		return ""
	}
}

// Action is the sealed sum type of administrative mutations.
//
// Every concrete type lives in this package; consumers dispatch with an
// exhaustive type switch. UnknownAction carries persisted entries whose
// kind this build does not recognise so they fail loudly on replay
// instead of vanishing.
type Action interface {
	Kind() ActionKind
	isAction()
}

// MenuItemFields is the full body of a menu item document.
type MenuItemFields struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	CategoryID  string `json:"categoryId,omitempty"`
	Available   bool   `json:"available"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Fields converts the item to document fields.
func (m MenuItemFields) Fields() Fields {
	f := Fields{
		"name":      m.Name,
		"price":     m.Price,
		"available": m.Available,
	}
	if m.Description != "" {
		f["description"] = m.Description
	}
	if m.CategoryID != "" {
		f["categoryId"] = m.CategoryID
	}
	if m.ImageURL != "" {
		f["imageUrl"] = m.ImageURL
	}
	return f
}

// CategoryFields is the full body of a category document.
type CategoryFields struct {
	Title string `json:"title"`
	Order int64  `json:"order,omitempty"`
}

// Fields converts the category to document fields.
func (c CategoryFields) Fields() Fields {
	f := Fields{"title": c.Title}
	if c.Order != 0 {
		f["order"] = c.Order
	}
	return f
}

// TableFields is the full body of a table document.
type TableFields struct {
	Number int64  `json:"number"`
	Seats  int64  `json:"seats,omitempty"`
	Label  string `json:"label,omitempty"`
}

// Fields converts the table to document fields.
func (t TableFields) Fields() Fields {
	f := Fields{"number": t.Number}
	if t.Seats != 0 {
		f["seats"] = t.Seats
	}
	if t.Label != "" {
		f["label"] = t.Label
	}
	return f
}

// Patch is a partial update of an existing document.
type Patch struct {
	ID   string `json:"id"`
	Data Fields `json:"data,omitempty"`
}

// Removal names a document to soft-delete.
type Removal struct {
	ID string `json:"id"`
}

type CreateMenuItem struct{ MenuItemFields }
type UpdateMenuItem struct{ Patch }
type DeleteMenuItem struct{ Removal }
type CreateCategory struct{ CategoryFields }
type UpdateCategory struct{ Patch }
type DeleteCategory struct{ Removal }
type CreateTable struct{ TableFields }
type UpdateTable struct{ Patch }
type DeleteTable struct{ Removal }

// UpdateOrderStatus moves an existing order to a new status.
type UpdateOrderStatus struct {
	ID     string      `json:"id"`
	Status OrderStatus `json:"status"`
}

// UnknownAction is a persisted action that cannot be replayed: either its
// kind is not recognised or its payload does not decode. The raw payload
// is kept so the entry round-trips through the queue unchanged.
type UnknownAction struct {
	Type    ActionKind
	Payload json.RawMessage
	// DecodeErr is set when the kind is known but the payload is malformed.
	DecodeErr error
}

func (CreateMenuItem) Kind() ActionKind    { return KindCreateMenuItem }
func (UpdateMenuItem) Kind() ActionKind    { return KindUpdateMenuItem }
func (DeleteMenuItem) Kind() ActionKind    { return KindDeleteMenuItem }
func (CreateCategory) Kind() ActionKind    { return KindCreateCategory }
func (UpdateCategory) Kind() ActionKind    { return KindUpdateCategory }
func (DeleteCategory) Kind() ActionKind    { return KindDeleteCategory }
func (CreateTable) Kind() ActionKind       { return KindCreateTable }
func (UpdateTable) Kind() ActionKind       { return KindUpdateTable }
func (DeleteTable) Kind() ActionKind       { return KindDeleteTable }
func (UpdateOrderStatus) Kind() ActionKind { return KindUpdateOrderStatus }
func (u UnknownAction) Kind() ActionKind   { return u.Type }

func (CreateMenuItem) isAction()    {}
func (UpdateMenuItem) isAction()    {}
func (DeleteMenuItem) isAction()    {}
func (CreateCategory) isAction()    {}
func (UpdateCategory) isAction()    {}
func (DeleteCategory) isAction()    {}
func (CreateTable) isAction()       {}
func (UpdateTable) isAction()       {}
func (DeleteTable) isAction()       {}
func (UpdateOrderStatus) isAction() {}
func (UnknownAction) isAction()     {}

// EncodeActionPayload returns the JSON payload stored alongside the kind.
func EncodeActionPayload(a Action) (json.RawMessage, error) {
	if u, ok := a.(UnknownAction); ok {
		if len(u.Payload) == 0 {
			return json.RawMessage("null"), nil
		}
		return u.Payload, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", a.Kind(), err)
	}
	return data, nil
}

// DecodeAction builds the typed action for kind from its JSON payload.
//
// Kinds this build does not know decode to UnknownAction without error.
// A known kind with a malformed payload is an error.
func DecodeAction(kind ActionKind, payload []byte) (Action, error) {
	switch kind {
	case KindCreateMenuItem:
		return decodeAs[CreateMenuItem](kind, payload)
	case KindUpdateMenuItem:
		return decodeAs[UpdateMenuItem](kind, payload)
	case KindDeleteMenuItem:
		return decodeAs[DeleteMenuItem](kind, payload)
	case KindCreateCategory:
		return decodeAs[CreateCategory](kind, payload)
	case KindUpdateCategory:
		return decodeAs[UpdateCategory](kind, payload)
	case KindDeleteCategory:
		return decodeAs[DeleteCategory](kind, payload)
	case KindCreateTable:
		return decodeAs[CreateTable](kind, payload)
	case KindUpdateTable:
		return decodeAs[UpdateTable](kind, payload)
	case KindDeleteTable:
		return decodeAs[DeleteTable](kind, payload)
	case KindUpdateOrderStatus:
		return decodeAs[UpdateOrderStatus](kind, payload)
	default:
		raw := make(json.RawMessage, len(payload))
		copy(raw, payload)
		return UnknownAction{Type: kind, Payload: raw}, nil
	}
}

func decodeAs[T Action](kind ActionKind, payload []byte) (Action, error) {
	var a T
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return a, nil
}
