package model

import (
	"encoding/json"
	"fmt"
)

// Queue names the durable list an entry was enqueued on.
type Queue string

const (
	QueueOrders  Queue = "orders"
	QueueActions Queue = "actions"
)

// OrderSubmission is a queued "create a new order" mutation.
type OrderSubmission struct {
	ID        string
	Payload   OrderPayload
	Timestamp int64
}

// AdminAction is a queued administrative CRUD mutation.
type AdminAction struct {
	ID        string
	Action    Action
	Timestamp int64
}

// Entry is the tagged union of queued mutations. Exactly one of Order and
// Admin is set, matching Queue.
type Entry struct {
	Queue Queue
	Order *OrderSubmission
	Admin *AdminAction
}

// OrderEntry tags an order submission as an Entry.
func OrderEntry(o OrderSubmission) Entry {
	return Entry{Queue: QueueOrders, Order: &o}
}

// ActionEntry tags an admin action as an Entry.
func ActionEntry(a AdminAction) Entry {
	return Entry{Queue: QueueActions, Admin: &a}
}

// ID returns the enqueue-assigned entry id.
func (e Entry) ID() string {
	switch {
	case e.Order != nil:
		return e.Order.ID
	case e.Admin != nil:
		return e.Admin.ID
	}
	return ""
}

// Timestamp returns the enqueue time in Unix milliseconds.
func (e Entry) Timestamp() int64 {
	switch {
	case e.Order != nil:
		return e.Order.Timestamp
	case e.Admin != nil:
		return e.Admin.Timestamp
	}
	return 0
}

// Label is a short human-readable description used in logs and CLI output.
func (e Entry) Label() string {
	switch {
	case e.Order != nil:
		return "order"
	case e.Admin != nil && e.Admin.Action != nil:
		return string(e.Admin.Action.Kind())
	}
	return "invalid"
}

// entryWire is the on-disk and audit encoding shared by both queues.
type entryWire struct {
	Queue     Queue           `json:"queue"`
	ID        string          `json:"id"`
	Type      ActionKind      `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (o OrderSubmission) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode order payload: %w", err)
	}
	return json.Marshal(entryWire{
		Queue:     QueueOrders,
		ID:        o.ID,
		Payload:   payload,
		Timestamp: o.Timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OrderSubmission) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var payload OrderPayload
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return fmt.Errorf("decode order %s payload: %w", w.ID, err)
		}
	}
	o.ID = w.ID
	o.Payload = payload
	o.Timestamp = w.Timestamp
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a AdminAction) MarshalJSON() ([]byte, error) {
	if a.Action == nil {
		return nil, fmt.Errorf("admin action %s has no action", a.ID)
	}
	payload, err := EncodeActionPayload(a.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryWire{
		Queue:     QueueActions,
		ID:        a.ID,
		Type:      a.Action.Kind(),
		Payload:   payload,
		Timestamp: a.Timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler. A payload that does not decode
// for its kind is preserved as an UnknownAction rather than rejected.
func (a *AdminAction) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	action, err := DecodeAction(w.Type, w.Payload)
	if err != nil {
		action = UnknownAction{Type: w.Type, Payload: w.Payload, DecodeErr: err}
	}
	a.ID = w.ID
	a.Action = action
	a.Timestamp = w.Timestamp
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Order != nil:
		return e.Order.MarshalJSON()
	case e.Admin != nil:
		return e.Admin.MarshalJSON()
	}
	return nil, fmt.Errorf("entry has neither order nor admin action")
}

// UnmarshalJSON implements json.Unmarshaler, dispatching on the queue tag.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var head struct {
		Queue Queue `json:"queue"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Queue {
	case QueueOrders:
		var o OrderSubmission
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		*e = OrderEntry(o)
	case QueueActions:
		var a AdminAction
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*e = ActionEntry(a)
	default:
		return fmt.Errorf("unknown entry queue %q", head.Queue)
	}
	return nil
}
