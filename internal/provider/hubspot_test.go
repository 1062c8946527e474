package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

func TestHubSpotClientLookupAffiliate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm/v3/objects/contacts/search" {
			t.Errorf("path = %s, want contact search", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		var req hubspotSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		switch req.FilterGroups[0].Filters[0].Value {
		case "known@example.com":
			_, _ = w.Write([]byte(`{"results":[{"id":"1","properties":{"email":"known@example.com","refersionid":"CRM-7"}}]}`))
		case "blank@example.com":
			_, _ = w.Write([]byte(`{"results":[{"id":"2","properties":{"email":"blank@example.com","refersionid":""}}]}`))
		default:
			_, _ = w.Write([]byte(`{"results":[]}`))
		}
	}))
	defer server.Close()

	client, err := NewHubSpotClient(server.URL, "token-1", time.Second)
	if err != nil {
		t.Fatalf("NewHubSpotClient() error = %v", err)
	}

	id, err := client.LookupAffiliate(context.Background(), " Known@Example.com ")
	if err != nil {
		t.Fatalf("LookupAffiliate() unexpected error: %v", err)
	}
	if id != "CRM-7" {
		t.Fatalf("LookupAffiliate() = %q, want CRM-7", id)
	}

	for _, email := range []string{"blank@example.com", "missing@example.com"} {
		if _, err := client.LookupAffiliate(context.Background(), email); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("LookupAffiliate(%q) error = %v, want ErrNotFound", email, err)
		}
	}
}

func TestHubSpotClientLookupUnauthorized(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"expired token"}`))
	}))
	defer server.Close()

	client, err := NewHubSpotClient(server.URL, "token-1", time.Second)
	if err != nil {
		t.Fatalf("NewHubSpotClient() error = %v", err)
	}

	_, err = client.LookupAffiliate(context.Background(), "a@example.com")
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("LookupAffiliate() error = %v, want 401 ProviderError", err)
	}
	if IsTransient(err) {
		t.Fatal("401 should be permanent")
	}
}

func TestHubSpotFormsClientSubmit(t *testing.T) {
	t.Parallel()

	var gotBody hubspotFormRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submissions/v3/integration/submit/portal-1/form-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_, _ = w.Write([]byte(`{"inlineMessage":"Thanks"}`))
	}))
	defer server.Close()

	client, err := NewHubSpotFormsClient(server.URL, "portal-1", time.Second)
	if err != nil {
		t.Fatalf("NewHubSpotFormsClient() error = %v", err)
	}
	client.now = func() time.Time { return time.UnixMilli(1700000000000) }

	err = client.Submit(context.Background(), "form-9", FormSubmission{
		Fields: []FormField{
			{Name: "email", Value: "lead@example.com"},
			{Name: "refersionid", Value: "AFF1"},
			{Name: "utm_source", Value: ""},
		},
		PageURI: "https://site.example.com/contact",
		HUTK:    "hutk-1",
	})
	if err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}

	if gotBody.SubmittedAt != "1700000000000" {
		t.Fatalf("submittedAt = %q", gotBody.SubmittedAt)
	}
	if len(gotBody.Fields) != 2 {
		t.Fatalf("fields = %+v, want empty values dropped", gotBody.Fields)
	}
	if gotBody.Context.PageURI != "https://site.example.com/contact" || gotBody.Context.HUTK != "hutk-1" {
		t.Fatalf("context = %+v", gotBody.Context)
	}
}

func TestHubSpotFormsClientRejectsEmptyFormID(t *testing.T) {
	t.Parallel()

	client, err := NewHubSpotFormsClient(DefaultHubSpotFormsBaseURL, "portal-1", time.Second)
	if err != nil {
		t.Fatalf("NewHubSpotFormsClient() error = %v", err)
	}
	if err := client.Submit(context.Background(), " ", FormSubmission{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Submit() error = %v, want ErrValidation", err)
	}
}
