/**
 * @description
 * This file defines the Go structs that model the incoming webhook payloads
 * from Lemon Squeezy. These structures are essential for safely unmarshaling
 * the JSON received at the webhook endpoint and processing it in a type-safe
 * manner.
 *
 * @notes
 * - Lemon Squeezy nests the event name under `meta.event_name` and carries
 *   checkout passthrough data under `meta.custom_data`. The assignment id is
 *   resolved from custom data first, then from the first order item.
 */
package domain

import (
	"strings"
)

// Lemon Squeezy event names the service acts on. Any other event is
// acknowledged and ignored.
const (
	WebhookEventOrderCreated  = "order_created"
	WebhookEventOrderRefunded = "order_refunded"
)

// LemonSqueezyWebhookEvent represents the top-level webhook payload.
type LemonSqueezyWebhookEvent struct {
	Meta WebhookMeta   `json:"meta"`
	Data OrderResource `json:"data"`
}

// WebhookMeta carries the event name and the custom data attached to the
// checkout that produced this order.
type WebhookMeta struct {
	EventName  string            `json:"event_name"`
	CustomData map[string]string `json:"custom_data,omitempty"`
}

// OrderResource is the `data` object of an order event.
type OrderResource struct {
	ID         string          `json:"id"` // provider order id
	Type       string          `json:"type"`
	Attributes OrderAttributes `json:"attributes"`
}

// OrderAttributes holds the order fields the service consumes. Totals are in
// the smallest currency unit, matching the provider's representation.
type OrderAttributes struct {
	Identifier     string     `json:"identifier"`
	OrderNumber    int64      `json:"order_number"`
	Total          int64      `json:"total"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	UserEmail      string     `json:"user_email"`
	CardBrand      string     `json:"card_brand"`
	FirstOrderItem *OrderItem `json:"first_order_item,omitempty"`
}

// OrderItem is a single line item on an order.
type OrderItem struct {
	ProductName string            `json:"product_name"`
	VariantName string            `json:"variant_name"`
	Price       int64             `json:"price"`
	CustomData  map[string]string `json:"custom_data,omitempty"`
}

// AssignmentID resolves the target assignment id for an order event, checking
// the checkout custom data first and falling back to the first line item.
// An empty return means the event does not reference an assignment.
func (e LemonSqueezyWebhookEvent) AssignmentID() string {
	if id := strings.TrimSpace(e.Meta.CustomData["assignment_id"]); id != "" {
		return id
	}
	if item := e.Data.Attributes.FirstOrderItem; item != nil {
		return strings.TrimSpace(item.CustomData["assignment_id"])
	}
	return ""
}

// PaymentMethod derives a human-readable payment method from the order
// attributes, defaulting to the provider name when the card brand is absent.
func (e LemonSqueezyWebhookEvent) PaymentMethod() string {
	if brand := strings.TrimSpace(e.Data.Attributes.CardBrand); brand != "" {
		return brand
	}
	return "lemon_squeezy"
}
