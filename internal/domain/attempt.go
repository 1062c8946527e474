package domain

import "time"

// AttemptStatus is the terminal state of one relay invocation.
type AttemptStatus string

const (
	AttemptIgnored        AttemptStatus = "ignored"
	AttemptNoAffiliate    AttemptStatus = "no_affiliate"
	AttemptSuccess        AttemptStatus = "success"
	AttemptRejected       AttemptStatus = "rejected"
	AttemptTransportError AttemptStatus = "transport_error"
)

func (s AttemptStatus) String() string { return string(s) }

// ConversionAttempt records what the relay did with a single webhook delivery.
type ConversionAttempt struct {
	ID           string        `json:"id"`
	ReceivedAt   time.Time     `json:"receivedAt"`
	EventType    string        `json:"eventType"`
	EventName    string        `json:"eventName"`
	UserID       string        `json:"userId,omitempty"`
	AnonymousID  string        `json:"anonymousId,omitempty"`
	OrderID      string        `json:"orderId,omitempty"`
	Total        string        `json:"total,omitempty"`
	Email        string        `json:"email,omitempty"`
	AffiliateID  string        `json:"affiliateId,omitempty"`
	MatchedField string        `json:"matchedField,omitempty"`
	Status       AttemptStatus `json:"status"`
	CommissionID string        `json:"commissionId,omitempty"`
	Error        string        `json:"error,omitempty"`
}
