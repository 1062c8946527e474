package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

const (
	VendorHubSpot = "hubspot"

	DefaultHubSpotBaseURL      = "https://api.hubapi.com"
	DefaultHubSpotFormsBaseURL = "https://api.hsforms.com"

	hubspotContactSearchPath = "/crm/v3/objects/contacts/search"
	hubspotFormSubmitPath    = "/submissions/v3/integration/submit"
	hubspotAffiliateProperty = "refersionid"
)

type hubspotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubspotFilterGroup struct {
	Filters []hubspotFilter `json:"filters"`
}

type hubspotSearchRequest struct {
	FilterGroups []hubspotFilterGroup `json:"filterGroups"`
	Properties   []string             `json:"properties"`
	Limit        int                  `json:"limit"`
}

type hubspotSearchResponse struct {
	Results []struct {
		ID         string            `json:"id"`
		Properties map[string]string `json:"properties"`
	} `json:"results"`
}

// HubSpotClient looks up the affiliate stored on a CRM contact.
type HubSpotClient struct {
	client      *resty.Client
	baseURL     string
	accessToken string
}

func NewHubSpotClient(baseURL, accessToken string, timeout time.Duration) (*HubSpotClient, error) {
	return NewHubSpotClientWithClient(baseURL, accessToken, newVendorClient(timeout))
}

func NewHubSpotClientWithClient(baseURL, accessToken string, client *resty.Client) (*HubSpotClient, error) {
	normalized, err := normalizeBaseURL(VendorHubSpot, baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("hubspot access token is required")
	}
	client, err = prepareVendorClient(client)
	if err != nil {
		return nil, err
	}

	return &HubSpotClient{
		client:      client,
		baseURL:     normalized,
		accessToken: strings.TrimSpace(accessToken),
	}, nil
}

// LookupAffiliate returns the contact's affiliate id, or domain.ErrNotFound
// when no contact with the email carries one.
func (c *HubSpotClient) LookupAffiliate(ctx context.Context, email string) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("hubspot client is not initialized")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrValidation)
	}

	request := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(hubspotSearchRequest{
			FilterGroups: []hubspotFilterGroup{{
				Filters: []hubspotFilter{{PropertyName: "email", Operator: "EQ", Value: email}},
			}},
			Properties: []string{"email", hubspotAffiliateProperty},
			Limit:      1,
		})

	response, err := execute(VendorHubSpot, request, http.MethodPost, c.baseURL+hubspotContactSearchPath)
	if err != nil {
		return "", err
	}

	var result hubspotSearchResponse
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", &ProviderError{Vendor: VendorHubSpot, Message: "malformed search response", Cause: err}
	}
	for _, contact := range result.Results {
		if id := strings.TrimSpace(contact.Properties[hubspotAffiliateProperty]); id != "" {
			return id, nil
		}
	}

	return "", domain.ErrNotFound
}

// FormField is one submitted form value.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormSubmission is a form post forwarded to the forms API.
type FormSubmission struct {
	Fields   []FormField
	PageURI  string
	PageName string
	HUTK     string
}

type hubspotFormContext struct {
	PageURI  string `json:"pageUri,omitempty"`
	PageName string `json:"pageName,omitempty"`
	HUTK     string `json:"hutk,omitempty"`
}

type hubspotFormRequest struct {
	SubmittedAt string             `json:"submittedAt"`
	Fields      []FormField        `json:"fields"`
	Context     hubspotFormContext `json:"context"`
}

// HubSpotFormsClient submits forms to the unauthenticated forms API.
type HubSpotFormsClient struct {
	client   *resty.Client
	baseURL  string
	portalID string
	now      func() time.Time
}

func NewHubSpotFormsClient(baseURL, portalID string, timeout time.Duration) (*HubSpotFormsClient, error) {
	return NewHubSpotFormsClientWithClient(baseURL, portalID, newVendorClient(timeout))
}

func NewHubSpotFormsClientWithClient(baseURL, portalID string, client *resty.Client) (*HubSpotFormsClient, error) {
	normalized, err := normalizeBaseURL(VendorHubSpot, baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(portalID) == "" {
		return nil, fmt.Errorf("hubspot portal id is required")
	}
	client, err = prepareVendorClient(client)
	if err != nil {
		return nil, err
	}

	return &HubSpotFormsClient{
		client:   client,
		baseURL:  normalized,
		portalID: strings.TrimSpace(portalID),
		now:      time.Now,
	}, nil
}

func (c *HubSpotFormsClient) Submit(ctx context.Context, formID string, submission FormSubmission) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("hubspot forms client is not initialized")
	}
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return fmt.Errorf("%w: form id is required", domain.ErrValidation)
	}

	fields := make([]FormField, 0, len(submission.Fields))
	for _, field := range submission.Fields {
		if strings.TrimSpace(field.Name) == "" || strings.TrimSpace(field.Value) == "" {
			continue
		}
		fields = append(fields, field)
	}

	endpoint := fmt.Sprintf("%s%s/%s/%s", c.baseURL, hubspotFormSubmitPath,
		url.PathEscape(c.portalID), url.PathEscape(formID))

	request := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(hubspotFormRequest{
			SubmittedAt: fmt.Sprintf("%d", c.now().UnixMilli()),
			Fields:      fields,
			Context: hubspotFormContext{
				PageURI:  submission.PageURI,
				PageName: submission.PageName,
				HUTK:     submission.HUTK,
			},
		})

	_, err := execute(VendorHubSpot, request, http.MethodPost, endpoint)
	return err
}
