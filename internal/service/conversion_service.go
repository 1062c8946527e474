package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"github.com/kursadbilgin/attribution-relay/internal/provider"
	"go.uber.org/zap"
)

// ErrFormsUnavailable means the forms API did not accept a submission.
var ErrFormsUnavailable = errors.New("forms api unavailable")

// Hidden form fields that carry attribution to the CRM.
const (
	FieldAffiliateID = "refersionid"
	FieldCapturedAt  = "refersion_timestamp"
	FieldSourceURL   = "refersion_source_url"
	FieldUTMSource   = "utm_source"
	FieldUTMMedium   = "utm_medium"
	FieldUTMCampaign = "utm_campaign"
)

type FormSubmitter interface {
	Submit(ctx context.Context, formID string, submission provider.FormSubmission) error
}

// FormInput is a form post made on a tracked page.
type FormInput struct {
	FormID      string
	Fields      []provider.FormField
	PageURI     string
	PageName    string
	HUTK        string
	AnonymousID string
}

// PurchaseInput is a checkout completed on a tracked page.
type PurchaseInput struct {
	Order       domain.Order
	PageURI     string
	AnonymousID string
}

// ConversionService runs the form and checkout flows of a tracked page:
// resolve attribution, do the local work, then propagate in the background.
type ConversionService struct {
	forms  FormSubmitter
	logger *zap.Logger
}

func NewConversionService(forms FormSubmitter, logger *zap.Logger) *ConversionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversionService{forms: forms, logger: logger}
}

// SubmitForm forwards the form with attribution fields added. Attribution
// problems never fail the submission; a forms API failure does.
func (s *ConversionService) SubmitForm(
	ctx context.Context,
	session *attribution.Session,
	nav attribution.Navigation,
	input FormInput,
) (attribution.Resolution, error) {
	if strings.TrimSpace(input.FormID) == "" {
		return attribution.Resolution{}, fmt.Errorf("%w: formId is required", domain.ErrValidation)
	}
	if s.forms == nil {
		return attribution.Resolution{}, fmt.Errorf("%w: forms api is not configured", ErrFormsUnavailable)
	}

	identity := identityFromFields(input.Fields)
	session.CaptureAndPersist(ctx, nav)
	resolution := session.Resolve(ctx, nav, identity)

	submission := provider.FormSubmission{
		Fields:   withAttributionFields(input.Fields, resolution.Record),
		PageURI:  input.PageURI,
		PageName: input.PageName,
		HUTK:     input.HUTK,
	}
	if err := s.forms.Submit(ctx, input.FormID, submission); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return resolution, err
		}
		return resolution, fmt.Errorf("%w: %v", ErrFormsUnavailable, err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("form submitted",
		zap.String("formId", input.FormID),
		zap.String("attributionSource", string(resolution.Source)),
		zap.Bool("attributed", resolution.Found()),
	)

	session.PropagateAsync(ctx, resolution.Record, attribution.Conversion{
		Kind:        attribution.ConversionForm,
		Identity:    identity,
		AnonymousID: input.AnonymousID,
		FormID:      input.FormID,
		PageURL:     input.PageURI,
	})
	return resolution, nil
}

// RecordPurchase resolves attribution for a completed checkout and reports it
// in the background.
func (s *ConversionService) RecordPurchase(
	ctx context.Context,
	session *attribution.Session,
	nav attribution.Navigation,
	input PurchaseInput,
) (attribution.Resolution, error) {
	order := input.Order.Normalize()
	if err := order.Validate(); err != nil {
		return attribution.Resolution{}, err
	}

	var identity *domain.UserIdentity
	if order.Customer.Email != "" {
		identity = &domain.UserIdentity{
			Email:     order.Customer.Email,
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
		}
	}

	session.CaptureAndPersist(ctx, nav)
	resolution := session.Resolve(ctx, nav, identity)

	observability.WithContextLogger(s.logger, ctx).Info("purchase recorded",
		zap.String("orderId", order.ID),
		zap.String("attributionSource", string(resolution.Source)),
		zap.Bool("attributed", resolution.Found()),
	)

	session.PropagateAsync(ctx, resolution.Record, attribution.Conversion{
		Kind:        attribution.ConversionPurchase,
		Identity:    identity,
		AnonymousID: input.AnonymousID,
		PageURL:     input.PageURI,
		Order:       &order,
	})
	return resolution, nil
}

func identityFromFields(fields []provider.FormField) *domain.UserIdentity {
	identity := &domain.UserIdentity{}
	for _, field := range fields {
		value := strings.TrimSpace(field.Value)
		switch strings.ToLower(strings.TrimSpace(field.Name)) {
		case "email":
			identity.Email = value
		case "firstname", "first_name":
			identity.FirstName = value
		case "lastname", "last_name":
			identity.LastName = value
		}
	}
	if *identity == (domain.UserIdentity{}) {
		return nil
	}
	return identity
}

// withAttributionFields appends tracking fields the form did not already carry.
func withAttributionFields(fields []provider.FormField, rec *domain.AttributionRecord) []provider.FormField {
	out := make([]provider.FormField, 0, len(fields)+6)
	present := make(map[string]bool, len(fields))
	for _, field := range fields {
		out = append(out, field)
		if strings.TrimSpace(field.Value) != "" {
			present[strings.ToLower(strings.TrimSpace(field.Name))] = true
		}
	}
	if !rec.Valid() {
		return out
	}

	tracking := []provider.FormField{
		{Name: FieldAffiliateID, Value: rec.AffiliateID},
		{Name: FieldSourceURL, Value: rec.SourceURL},
		{Name: FieldUTMSource, Value: rec.UTMSource},
		{Name: FieldUTMMedium, Value: rec.UTMMedium},
		{Name: FieldUTMCampaign, Value: rec.UTMCampaign},
	}
	if !rec.CapturedAt.IsZero() {
		tracking = append(tracking, provider.FormField{Name: FieldCapturedAt, Value: rec.CapturedAt.UTC().Format(time.RFC3339)})
	}

	for _, field := range tracking {
		if field.Value == "" || present[field.Name] {
			continue
		}
		out = append(out, field)
	}
	return out
}
