package attribution

import (
	"fmt"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

type fieldScope int

const (
	scopeProperties fieldScope = iota
	scopeTraits
)

type affiliateField struct {
	scope fieldScope
	key   string
}

func (f affiliateField) path() string {
	if f.scope == scopeTraits {
		return "context.traits." + f.key
	}
	return "properties." + f.key
}

// affiliateFields is the single precedence list for conversion events.
var affiliateFields = []affiliateField{
	{scope: scopeProperties, key: "affiliateId"},
	{scope: scopeProperties, key: "refersionId"},
	{scope: scopeProperties, key: "rfsn"},
	{scope: scopeProperties, key: "refersion_affiliate_id"},
	{scope: scopeProperties, key: "refersion_affiliateId"},
	{scope: scopeProperties, key: "refersionid"},
	{scope: scopeTraits, key: "affiliateId"},
	{scope: scopeTraits, key: "refersionId"},
	{scope: scopeTraits, key: "refersion_affiliate_id"},
	{scope: scopeTraits, key: "rfsn"},
}

var productAffiliateKeys = []string{"affiliateId", "refersionId"}

// ExtractAffiliate returns the first non-blank affiliate identifier in the
// event and the path it was read from. Both strings and numbers are accepted.
func ExtractAffiliate(event *domain.ConversionEvent) (affiliateID string, field string) {
	if event == nil {
		return "", ""
	}

	for _, f := range affiliateFields {
		var value string
		if f.scope == scopeTraits {
			value = event.Trait(f.key)
		} else {
			value = event.Property(f.key)
		}
		if value != "" {
			return value, f.path()
		}
	}

	for i, product := range event.Products() {
		for _, key := range productAffiliateKeys {
			if value := domain.StringValue(product[key]); value != "" {
				return value, fmt.Sprintf("properties.products[%d].%s", i, key)
			}
		}
	}

	return "", ""
}

// SearchedFields lists every path ExtractAffiliate inspects, in order.
func SearchedFields() []string {
	fields := make([]string, 0, len(affiliateFields)+len(productAffiliateKeys))
	for _, f := range affiliateFields {
		fields = append(fields, f.path())
	}
	for _, key := range productAffiliateKeys {
		fields = append(fields, "properties.products[]."+key)
	}
	return fields
}
