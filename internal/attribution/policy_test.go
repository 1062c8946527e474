package attribution

import (
	"testing"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

func TestExtractAffiliate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantID    string
		wantField string
	}{
		{
			name:      "direct property wins over traits",
			body:      `{"properties":{"affiliateId":"P1","rfsn":"P3"},"context":{"traits":{"affiliateId":"T1"}}}`,
			wantID:    "P1",
			wantField: "properties.affiliateId",
		},
		{
			name:      "alternate property before traits",
			body:      `{"properties":{"refersion_affiliate_id":"ALT"},"context":{"traits":{"affiliateId":"T1"}}}`,
			wantID:    "ALT",
			wantField: "properties.refersion_affiliate_id",
		},
		{
			name:      "numeric identifier",
			body:      `{"properties":{"refersionId":12345}}`,
			wantID:    "12345",
			wantField: "properties.refersionId",
		},
		{
			name:      "blank values are skipped",
			body:      `{"properties":{"affiliateId":"  ","rfsn":"R"}}`,
			wantID:    "R",
			wantField: "properties.rfsn",
		},
		{
			name:      "trait fallback",
			body:      `{"properties":{},"context":{"traits":{"rfsn":"TR"}}}`,
			wantID:    "TR",
			wantField: "context.traits.rfsn",
		},
		{
			name:      "first product carrying an id",
			body:      `{"properties":{"products":[{"sku":"A"},{"refersionId":"PR2"},{"affiliateId":"PR3"}]}}`,
			wantID:    "PR2",
			wantField: "properties.products[1].refersionId",
		},
		{
			name: "nothing",
			body: `{"properties":{"orderId":"O1","total":10}}`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			event, err := domain.ParseConversionEvent([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseConversionEvent() error = %v", err)
			}

			gotID, gotField := ExtractAffiliate(event)
			if gotID != tt.wantID || gotField != tt.wantField {
				t.Fatalf("ExtractAffiliate() = %q, %q, want %q, %q", gotID, gotField, tt.wantID, tt.wantField)
			}
		})
	}
}

func TestSearchedFieldsFollowPrecedence(t *testing.T) {
	t.Parallel()

	fields := SearchedFields()
	if len(fields) != 12 {
		t.Fatalf("len(SearchedFields()) = %d, want 12", len(fields))
	}
	if fields[0] != "properties.affiliateId" {
		t.Fatalf("fields[0] = %q, want properties.affiliateId", fields[0])
	}
	if fields[6] != "context.traits.affiliateId" {
		t.Fatalf("fields[6] = %q, want context.traits.affiliateId", fields[6])
	}
	if fields[len(fields)-1] != "properties.products[].refersionId" {
		t.Fatalf("last field = %q", fields[len(fields)-1])
	}
}
