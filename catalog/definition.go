package catalog

import (
	"encoding/json"
	"regexp"
)

// TestEventType is synthesized by the admin "send test event" operation.
const TestEventType = "webhook.test"

// namePattern accepts dot-separated lowercase segments such as "order.created"
// or "invoice.payment.failed".
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Definition describes one event type a webhook may subscribe to.
type Definition struct {
	// Name follows the "<noun>.<verb>" convention, e.g. "invoice.authorized".
	Name string `json:"name" yaml:"name"`

	Description string `json:"description" yaml:"description"`

	// Group is an optional category for docs and UIs.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// Example is a sample payload for documentation.
	Example json.RawMessage `json:"example,omitempty" yaml:"-"`
}

// ValidName reports whether name is a well-formed event type name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

var builtin = []Definition{
	{Name: "order.created", Description: "A new order was placed.", Group: "order"},
	{Name: "order.updated", Description: "An order's lines or totals changed.", Group: "order"},
	{Name: "order.cancelled", Description: "An order was cancelled.", Group: "order"},
	{Name: "order.fulfilled", Description: "All lines of an order were shipped.", Group: "order"},
	{Name: "invoice.created", Description: "An invoice was issued.", Group: "invoice"},
	{Name: "invoice.authorized", Description: "An invoice was authorized by the tax authority.", Group: "invoice"},
	{Name: "invoice.cancelled", Description: "An invoice was cancelled.", Group: "invoice"},
	{Name: "invoice.paid", Description: "An invoice was fully paid.", Group: "invoice"},
	{Name: "payment.received", Description: "A payment was recorded against an order or invoice.", Group: "payment"},
	{Name: "stock.low", Description: "A product's stock fell below its minimum level.", Group: "stock"},
	{Name: "stock.out", Description: "A product ran out of stock.", Group: "stock"},
	{Name: "product.created", Description: "A product was added to the catalog.", Group: "product"},
	{Name: "product.updated", Description: "A product's data or price changed.", Group: "product"},
	{Name: "customer.created", Description: "A customer was registered.", Group: "customer"},
	{
		Name:        TestEventType,
		Description: "Synthetic event sent on demand to check an endpoint.",
		Group:       "webhook",
		Example:     json.RawMessage(`{"message":"This is a test webhook event."}`),
	},
}
