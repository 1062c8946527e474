package attribution

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	vendorAnalytics  = "segment"
	vendorCommission = "refersion"
)

// Analytics is the analytics-bus tracking API.
type Analytics interface {
	Identify(ctx context.Context, userID, anonymousID string, traits map[string]any) error
	Track(ctx context.Context, userID, anonymousID, event string, properties map[string]any) error
}

// Commission creates affiliate conversions and returns the platform record id.
type Commission interface {
	CreateConversion(ctx context.Context, affiliateID string, order domain.Order) (string, error)
}

type ConversionKind string

const (
	ConversionForm     ConversionKind = "form"
	ConversionPurchase ConversionKind = "purchase"
)

// Conversion is the local form or order data a propagation reports.
type Conversion struct {
	Kind        ConversionKind
	Identity    *domain.UserIdentity
	AnonymousID string
	FormID      string
	PageURL     string
	Order       *domain.Order
}

func (c Conversion) eventName() string {
	if c.Kind == ConversionPurchase {
		return domain.EventOrderCompleted
	}
	return domain.EventFormSubmitted
}

// CallOutcome reports one vendor call. Skipped calls have Attempted=false.
type CallOutcome struct {
	Attempted bool
	ID        string
	Err       error
}

func (o CallOutcome) Succeeded() bool {
	return o.Attempted && o.Err == nil
}

type PropagationResult struct {
	Identify   CallOutcome
	Track      CallOutcome
	Commission CallOutcome
}

func (p PropagationResult) Failed() bool {
	return p.Identify.Err != nil || p.Track.Err != nil || p.Commission.Err != nil
}

// Propagate reports a conversion to the analytics bus and, for attributed
// purchases, to the commission platform. Calls are independent: one failing
// never cancels or rolls back another.
func (r *Resolver) Propagate(ctx context.Context, rec *domain.AttributionRecord, conversion Conversion) PropagationResult {
	var (
		result PropagationResult
		g      errgroup.Group
	)

	userID := ""
	if conversion.Identity.HasEmail() {
		userID = strings.ToLower(strings.TrimSpace(conversion.Identity.Email))
	}
	anonymousID := strings.TrimSpace(conversion.AnonymousID)
	hasUser := userID != "" || anonymousID != ""

	if r.analytics != nil && hasUser {
		traits := identifyTraits(rec, conversion.Identity)
		properties := trackProperties(rec, conversion)

		g.Go(func() error {
			result.Identify = r.call(ctx, vendorAnalytics, func(callCtx context.Context) (string, error) {
				return "", r.analytics.Identify(callCtx, userID, anonymousID, traits)
			})
			return nil
		})
		g.Go(func() error {
			result.Track = r.call(ctx, vendorAnalytics, func(callCtx context.Context) (string, error) {
				return "", r.analytics.Track(callCtx, userID, anonymousID, conversion.eventName(), properties)
			})
			return nil
		})
	}

	if r.commission != nil && conversion.Kind == ConversionPurchase && conversion.Order != nil && rec.Valid() {
		affiliateID := rec.AffiliateID
		order := conversion.Order.Normalize()

		g.Go(func() error {
			result.Commission = r.call(ctx, vendorCommission, func(callCtx context.Context) (string, error) {
				return r.commission.CreateConversion(callCtx, affiliateID, order)
			})
			return nil
		})
	}

	_ = g.Wait()

	if result.Failed() {
		r.logger.Warn("attribution propagation incomplete",
			zap.String("kind", string(conversion.Kind)),
			zap.NamedError("identifyError", result.Identify.Err),
			zap.NamedError("trackError", result.Track.Err),
			zap.NamedError("commissionError", result.Commission.Err),
		)
	}

	return result
}

// PropagateAsync runs Propagate on a tracked goroutine that outlives ctx's
// cancellation but keeps its values.
func (r *Resolver) PropagateAsync(ctx context.Context, rec *domain.AttributionRecord, conversion Conversion) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	var snapshot *domain.AttributionRecord
	if rec != nil {
		copied := *rec
		snapshot = &copied
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		r.Propagate(detached, snapshot, conversion)
	}()
}

func (r *Resolver) call(ctx context.Context, vendor string, fn func(ctx context.Context) (string, error)) CallOutcome {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err := fn(callCtx)
	if err != nil {
		r.metrics.IncVendorCall(vendor, "error")
		return CallOutcome{Attempted: true, Err: err}
	}
	r.metrics.IncVendorCall(vendor, "success")
	return CallOutcome{Attempted: true, ID: id}
}

func identifyTraits(rec *domain.AttributionRecord, identity *domain.UserIdentity) map[string]any {
	traits := map[string]any{}
	if rec.Valid() {
		traits["affiliateId"] = rec.AffiliateID
		traits["refersionId"] = rec.AffiliateID
		if !rec.CapturedAt.IsZero() {
			traits["affiliateCapturedAt"] = rec.CapturedAt.UTC()
		}
		setIfPresent(traits, "utmSource", rec.UTMSource)
		setIfPresent(traits, "utmMedium", rec.UTMMedium)
		setIfPresent(traits, "utmCampaign", rec.UTMCampaign)
	}
	if identity != nil {
		setIfPresent(traits, "email", strings.ToLower(strings.TrimSpace(identity.Email)))
		setIfPresent(traits, "firstName", identity.FirstName)
		setIfPresent(traits, "lastName", identity.LastName)
	}
	return traits
}

func trackProperties(rec *domain.AttributionRecord, conversion Conversion) map[string]any {
	properties := map[string]any{}
	if rec.Valid() {
		properties["affiliateId"] = rec.AffiliateID
		setIfPresent(properties, "sourceUrl", rec.SourceURL)
	}
	setIfPresent(properties, "formId", conversion.FormID)
	setIfPresent(properties, "pageUrl", conversion.PageURL)

	if order := conversion.Order; order != nil {
		normalized := order.Normalize()
		properties["orderId"] = normalized.ID
		properties["total"] = normalized.Total.InexactFloat64()
		properties["currency"] = normalized.Currency
	}
	return properties
}

func setIfPresent(m map[string]any, key, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		m[key] = trimmed
	}
}

// DecorateURL appends the affiliate id and any non-empty extras to an
// absolute http(s) destination.
func DecorateURL(destination string, rec *domain.AttributionRecord, extra map[string]string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(destination))
	if err != nil {
		return "", fmt.Errorf("%w: invalid destination: %v", domain.ErrValidation, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: destination must be an absolute http(s) url", domain.ErrValidation)
	}

	query := u.Query()
	if rec.Valid() {
		query.Set(ParamAffiliateID, rec.AffiliateID)
	}

	for key, value := range extra {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			query.Set(key, trimmed)
		}
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}
