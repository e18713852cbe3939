package model

// OrderStatus is the lifecycle state of an order document.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderServed    OrderStatus = "served"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPreparing, OrderReady, OrderServed, OrderPaid, OrderCancelled:
		return true
	}
	return false
}

// OrderItem is one line of an order. Prices are in minor currency units.
type OrderItem struct {
	MenuItemID string `json:"menuItemId"`
	Name       string `json:"name,omitempty"`
	Quantity   int64  `json:"quantity"`
	Price      int64  `json:"price"`
	Note       string `json:"note,omitempty"`
}

// OrderPayload is the body of a customer order submission.
type OrderPayload struct {
	TableID      string      `json:"tableId,omitempty"`
	Items        []OrderItem `json:"items"`
	Total        int64       `json:"total"`
	Status       OrderStatus `json:"status,omitempty"`
	CustomerName string      `json:"customerName,omitempty"`
	Note         string      `json:"note,omitempty"`
}

// Fields converts the order to document fields.
func (o OrderPayload) Fields() Fields {
	items := make([]any, 0, len(o.Items))
	for _, it := range o.Items {
		item := map[string]any{
			"menuItemId": it.MenuItemID,
			"quantity":   it.Quantity,
			"price":      it.Price,
		}
		if it.Name != "" {
			item["name"] = it.Name
		}
		if it.Note != "" {
			item["note"] = it.Note
		}
		items = append(items, item)
	}
	f := Fields{
		"items": items,
		"total": o.Total,
	}
	if o.TableID != "" {
		f["tableId"] = o.TableID
	}
	if o.Status != "" {
		f[FieldStatus] = string(o.Status)
	}
	if o.CustomerName != "" {
		f["customerName"] = o.CustomerName
	}
	if o.Note != "" {
		f["note"] = o.Note
	}
	return f
}
