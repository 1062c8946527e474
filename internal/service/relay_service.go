package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/attribution-relay/internal/attribution"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
	"github.com/kursadbilgin/attribution-relay/internal/observability"
	"github.com/kursadbilgin/attribution-relay/internal/provider"
	"go.uber.org/zap"
)

const (
	defaultCommissionTimeout = 10 * time.Second

	messageNotProcessed     = "Event acknowledged but not processed"
	messageNoAffiliate      = "No affiliate to track"
	messageConversionOK     = "Conversion tracked"
	messageCommissionDenied = "Commission API rejected conversion"
)

// AttemptRecorder stores the debug trail of relay invocations.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt domain.ConversionAttempt) error
}

// AttemptRecorders fans a record out to every recorder.
type AttemptRecorders []AttemptRecorder

func (rs AttemptRecorders) Record(ctx context.Context, attempt domain.ConversionAttempt) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, attempt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RelayResult is the HTTP status and JSON body answered to the webhook sender.
type RelayResult struct {
	StatusCode int
	Body       map[string]any
}

// RelayService forwards completed orders from the analytics bus to the
// commission platform.
type RelayService struct {
	commission attribution.Commission
	recorder   AttemptRecorder
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

func NewRelayService(
	commission attribution.Commission,
	recorder AttemptRecorder,
	timeout time.Duration,
	logger *zap.Logger,
) (*RelayService, error) {
	if commission == nil {
		return nil, fmt.Errorf("commission client is required")
	}
	if timeout <= 0 {
		timeout = defaultCommissionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RelayService{
		commission: commission,
		recorder:   recorder,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

func (s *RelayService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Handle processes one webhook body. Only malformed bodies return an error;
// every other outcome, including vendor failures, is a RelayResult.
func (s *RelayService) Handle(ctx context.Context, body []byte) (RelayResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	event, err := domain.ParseConversionEvent(body)
	if err != nil {
		return RelayResult{}, err
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	attempt := domain.ConversionAttempt{
		ID:          s.newID(),
		ReceivedAt:  s.now().UTC(),
		EventType:   strings.TrimSpace(event.Type),
		EventName:   strings.TrimSpace(event.Event),
		UserID:      strings.TrimSpace(event.UserID),
		AnonymousID: strings.TrimSpace(event.AnonymousID),
	}

	if !event.IsOrderCompleted() {
		attempt.Status = domain.AttemptIgnored
		s.finish(ctx, logger, attempt)
		return RelayResult{
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"success": true,
				"message": messageNotProcessed,
				"type":    event.Type,
				"event":   event.Event,
			},
		}, nil
	}

	order := event.Order()
	attempt.OrderID = order.ID
	attempt.Total = order.Total.String()
	attempt.Email = order.Customer.Email

	affiliateID, field := attribution.ExtractAffiliate(event)
	attempt.AffiliateID = affiliateID
	attempt.MatchedField = field

	if affiliateID == "" {
		attempt.Status = domain.AttemptNoAffiliate
		s.finish(ctx, logger, attempt)
		return RelayResult{
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"success":        false,
				"message":        messageNoAffiliate,
				"orderId":        order.ID,
				"searchedFields": attribution.SearchedFields(),
			},
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := s.now()
	commissionID, err := s.commission.CreateConversion(callCtx, affiliateID, order.Normalize())
	elapsed := s.now().Sub(start)
	cancel()

	if err == nil {
		s.metrics.ObserveCommissionDuration("success", elapsed)
		attempt.Status = domain.AttemptSuccess
		attempt.CommissionID = commissionID
		s.finish(ctx, logger, attempt)
		return RelayResult{
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"success":      true,
				"message":      messageConversionOK,
				"orderId":      order.ID,
				"affiliateId":  affiliateID,
				"commissionId": commissionID,
			},
		}, nil
	}

	attempt.Error = err.Error()

	if rejection, ok := businessRejection(err); ok {
		s.metrics.ObserveCommissionDuration("rejected", elapsed)
		attempt.Status = domain.AttemptRejected
		s.finish(ctx, logger, attempt)
		return RelayResult{
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"success":     false,
				"message":     messageCommissionDenied,
				"error":       rejection.Message,
				"statusCode":  rejection.StatusCode,
				"orderId":     order.ID,
				"affiliateId": affiliateID,
			},
		}, nil
	}

	s.metrics.ObserveCommissionDuration("error", elapsed)
	attempt.Status = domain.AttemptTransportError
	s.finish(ctx, logger, attempt)
	return RelayResult{
		StatusCode: http.StatusInternalServerError,
		Body:       map[string]any{"error": err.Error()},
	}, nil
}

// businessRejection reports a permanent vendor answer carrying an HTTP status.
func businessRejection(err error) (*provider.ProviderError, bool) {
	if provider.IsTransient(err) {
		return nil, false
	}
	var providerErr *provider.ProviderError
	if !errors.As(err, &providerErr) || providerErr.StatusCode == 0 {
		return nil, false
	}
	return providerErr, true
}

func (s *RelayService) finish(ctx context.Context, logger *zap.Logger, attempt domain.ConversionAttempt) {
	s.metrics.IncConversion(attempt.Status.String())

	fields := []zap.Field{
		zap.String("attemptId", attempt.ID),
		zap.String("status", attempt.Status.String()),
		zap.String("event", attempt.EventName),
		zap.String("orderId", attempt.OrderID),
		zap.String("affiliateId", attempt.AffiliateID),
	}
	switch attempt.Status {
	case domain.AttemptTransportError:
		logger.Error("conversion relay failed", append(fields, zap.String("error", attempt.Error))...)
	case domain.AttemptRejected:
		logger.Warn("conversion rejected by commission api", append(fields, zap.String("error", attempt.Error))...)
	default:
		logger.Info("conversion relay handled", fields...)
	}

	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), attempt); err != nil {
		logger.Warn("failed to record conversion attempt",
			zap.String("attemptId", attempt.ID),
			zap.Error(err),
		)
	}
}
