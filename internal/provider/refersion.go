package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

const (
	VendorRefersion = "refersion"

	DefaultRefersionBaseURL = "https://api.refersion.com"
	refersionConversionPath = "/v2/conversion"
)

type refersionItem struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type refersionConversionRequest struct {
	OrderID       string          `json:"order_id"`
	CurrencyCode  string          `json:"currency_code"`
	Total         float64         `json:"total"`
	AffiliateCode string          `json:"affiliate_code"`
	Email         string          `json:"email,omitempty"`
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	CustomerID    *string         `json:"customer_id"`
	Items         []refersionItem `json:"items"`
}

type refersionConversionResponse struct {
	ID any `json:"id"`
}

// RefersionClient creates conversions through the commission API.
type RefersionClient struct {
	client    *resty.Client
	baseURL   string
	publicKey string
	secretKey string
}

func NewRefersionClient(baseURL, publicKey, secretKey string, timeout time.Duration) (*RefersionClient, error) {
	return NewRefersionClientWithClient(baseURL, publicKey, secretKey, newVendorClient(timeout))
}

func NewRefersionClientWithClient(baseURL, publicKey, secretKey string, client *resty.Client) (*RefersionClient, error) {
	normalized, err := normalizeBaseURL(VendorRefersion, baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("refersion secret key is required")
	}
	client, err = prepareVendorClient(client)
	if err != nil {
		return nil, err
	}

	return &RefersionClient{
		client:    client,
		baseURL:   normalized,
		publicKey: strings.TrimSpace(publicKey),
		secretKey: strings.TrimSpace(secretKey),
	}, nil
}

// CreateConversion posts the order and returns the commission record id.
func (c *RefersionClient) CreateConversion(ctx context.Context, affiliateID string, order domain.Order) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("refersion client is not initialized")
	}
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return "", fmt.Errorf("%w: affiliate id is required", domain.ErrValidation)
	}

	request := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Refersion-Public-Key", c.publicKey).
		SetHeader("Refersion-Secret-Key", c.secretKey).
		SetBody(newRefersionConversionRequest(affiliateID, order.Normalize()))

	response, err := execute(VendorRefersion, request, http.MethodPost, c.baseURL+refersionConversionPath)
	if err != nil {
		return "", err
	}

	return conversionID(response.Body()), nil
}

// conversionID reads the record id from a success body. The id may be a
// string or a number; an unreadable body yields an empty id.
func conversionID(body []byte) string {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var result refersionConversionResponse
	if err := decoder.Decode(&result); err != nil {
		return ""
	}
	return domain.StringValue(result.ID)
}

func newRefersionConversionRequest(affiliateID string, order domain.Order) refersionConversionRequest {
	items := make([]refersionItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, refersionItem{
			SKU:      item.SKU,
			Name:     item.Name,
			Price:    item.Price.InexactFloat64(),
			Quantity: item.Quantity,
		})
	}

	var customerID *string
	if id := strings.TrimSpace(order.Customer.ID); id != "" {
		customerID = &id
	}

	return refersionConversionRequest{
		OrderID:       order.ID,
		CurrencyCode:  order.Currency,
		Total:         order.Total.InexactFloat64(),
		AffiliateCode: affiliateID,
		Email:         order.Customer.Email,
		FirstName:     order.Customer.FirstName,
		LastName:      order.Customer.LastName,
		CustomerID:    customerID,
		Items:         items,
	}
}
