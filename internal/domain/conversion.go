package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	EventTypeTrack      = "track"
	EventOrderCompleted = "Order Completed"
	EventFormSubmitted  = "Form Submitted"

	defaultCurrency = "USD"
	defaultSKU      = "PRODUCT"
	defaultItemName = "Product"
)

// EventContext is the subset of the analytics event context the relay reads.
type EventContext struct {
	Traits map[string]any `json:"traits,omitempty"`
}

// ConversionEvent is an inbound analytics-bus notification.
type ConversionEvent struct {
	Type        string         `json:"type"`
	Event       string         `json:"event"`
	UserID      string         `json:"userId,omitempty"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	MessageID   string         `json:"messageId,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Context     EventContext   `json:"context"`
}

// ParseConversionEvent decodes a webhook body. Bodies that nest the event one
// level under an "event" object are unwrapped first.
func ParseConversionEvent(body []byte) (*ConversionEvent, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrValidation)
	}

	if nested, ok := envelope["event"]; ok {
		trimmed := bytes.TrimSpace(nested)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			body = trimmed
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var event ConversionEvent
	if err := decoder.Decode(&event); err != nil {
		return nil, fmt.Errorf("%w: invalid event payload: %v", ErrValidation, err)
	}
	if event.Properties == nil {
		event.Properties = map[string]any{}
	}
	if event.Context.Traits == nil {
		event.Context.Traits = map[string]any{}
	}

	return &event, nil
}

func (e *ConversionEvent) IsOrderCompleted() bool {
	return strings.TrimSpace(e.Type) == EventTypeTrack && strings.TrimSpace(e.Event) == EventOrderCompleted
}

func (e *ConversionEvent) Property(key string) string {
	return StringValue(e.Properties[key])
}

func (e *ConversionEvent) Trait(key string) string {
	return StringValue(e.Context.Traits[key])
}

func (e *ConversionEvent) OrderID() string {
	return e.Property("orderId")
}

func (e *ConversionEvent) Currency() string {
	if currency := strings.ToUpper(e.Property("currency")); currency != "" {
		return currency
	}
	return defaultCurrency
}

// Total falls back to revenue when total is missing or zero.
func (e *ConversionEvent) Total() decimal.Decimal {
	if total, ok := DecimalValue(e.Properties["total"]); ok && !total.IsZero() {
		return total
	}
	if revenue, ok := DecimalValue(e.Properties["revenue"]); ok {
		return revenue
	}
	return decimal.Zero
}

func (e *ConversionEvent) Email() string {
	return firstNonBlank(e.Property("email"), e.Trait("email"))
}

func (e *ConversionEvent) FirstName() string {
	return firstNonBlank(e.Property("firstName"), e.Trait("firstName"))
}

func (e *ConversionEvent) LastName() string {
	return firstNonBlank(e.Property("lastName"), e.Trait("lastName"))
}

func (e *ConversionEvent) CustomerID() string {
	return firstNonBlank(strings.TrimSpace(e.UserID), e.Property("customerId"))
}

// Products returns the raw line items carried in properties.products.
func (e *ConversionEvent) Products() []map[string]any {
	raw, ok := e.Properties["products"].([]any)
	if !ok {
		return nil
	}

	products := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if product, ok := item.(map[string]any); ok {
			products = append(products, product)
		}
	}
	return products
}

func (e *ConversionEvent) Order() Order {
	products := e.Products()
	items := make([]LineItem, 0, len(products))
	for _, product := range products {
		items = append(items, lineItemFromProduct(product))
	}

	return Order{
		ID:       e.OrderID(),
		Currency: e.Currency(),
		Total:    e.Total(),
		Customer: Customer{
			ID:        e.CustomerID(),
			Email:     e.Email(),
			FirstName: e.FirstName(),
			LastName:  e.LastName(),
		},
		Items: items,
	}
}

// Customer identifies the buyer on a commission conversion.
type Customer struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// LineItem is a normalized order line.
type LineItem struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Order is a purchase eligible for affiliate commission.
type Order struct {
	ID       string          `json:"orderId"`
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Customer Customer        `json:"customer"`
	Items    []LineItem      `json:"items,omitempty"`
}

func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: orderId is required", ErrValidation)
	}
	if o.Total.IsNegative() {
		return fmt.Errorf("%w: total must not be negative", ErrValidation)
	}
	return nil
}

// Normalize applies the same defaults the relay uses for webhook orders.
func (o Order) Normalize() Order {
	o.ID = strings.TrimSpace(o.ID)
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	if o.Currency == "" {
		o.Currency = defaultCurrency
	}
	items := make([]LineItem, len(o.Items))
	for i, item := range o.Items {
		items[i] = item.normalize()
	}
	o.Items = items
	return o
}

func (i LineItem) normalize() LineItem {
	if strings.TrimSpace(i.SKU) == "" {
		i.SKU = defaultSKU
	}
	if strings.TrimSpace(i.Name) == "" {
		i.Name = defaultItemName
	}
	if i.Quantity <= 0 {
		i.Quantity = 1
	}
	return i
}

func lineItemFromProduct(product map[string]any) LineItem {
	item := LineItem{
		SKU:  firstNonBlank(StringValue(product["sku"]), StringValue(product["productId"])),
		Name: StringValue(product["name"]),
	}
	if price, ok := DecimalValue(product["price"]); ok {
		item.Price = price
	}
	if quantity, ok := DecimalValue(product["quantity"]); ok {
		item.Quantity = int(quantity.IntPart())
	}
	return item.normalize()
}

// StringValue renders a decoded JSON scalar as trimmed text. Objects, arrays,
// booleans and nil yield an empty string.
func StringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// DecimalValue parses numbers and numeric strings.
func DecimalValue(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Zero, false
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
