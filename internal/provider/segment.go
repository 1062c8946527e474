package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/attribution-relay/internal/domain"
)

const (
	VendorSegment = "segment"

	DefaultSegmentBaseURL = "https://api.segment.io"
	segmentIdentifyPath   = "/v1/identify"
	segmentTrackPath      = "/v1/track"
	segmentLibraryName    = "attribution-relay"
)

type segmentLibrary struct {
	Name string `json:"name"`
}

type segmentContext struct {
	Library segmentLibrary `json:"library"`
}

type segmentMessage struct {
	Type        string         `json:"type"`
	MessageID   string         `json:"messageId"`
	UserID      string         `json:"userId,omitempty"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	Event       string         `json:"event,omitempty"`
	Traits      map[string]any `json:"traits,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Context     segmentContext `json:"context"`
}

// SegmentClient sends identify and track calls to the analytics HTTP API.
type SegmentClient struct {
	client   *resty.Client
	baseURL  string
	writeKey string
	now      func() time.Time
	newID    func() string
}

func NewSegmentClient(baseURL, writeKey string, timeout time.Duration) (*SegmentClient, error) {
	return NewSegmentClientWithClient(baseURL, writeKey, newVendorClient(timeout))
}

func NewSegmentClientWithClient(baseURL, writeKey string, client *resty.Client) (*SegmentClient, error) {
	normalized, err := normalizeBaseURL(VendorSegment, baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(writeKey) == "" {
		return nil, fmt.Errorf("segment write key is required")
	}
	client, err = prepareVendorClient(client)
	if err != nil {
		return nil, err
	}

	return &SegmentClient{
		client:   client,
		baseURL:  normalized,
		writeKey: strings.TrimSpace(writeKey),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (c *SegmentClient) Identify(ctx context.Context, userID, anonymousID string, traits map[string]any) error {
	return c.send(ctx, segmentIdentifyPath, segmentMessage{
		Type:        "identify",
		UserID:      userID,
		AnonymousID: anonymousID,
		Traits:      traits,
	})
}

func (c *SegmentClient) Track(ctx context.Context, userID, anonymousID, event string, properties map[string]any) error {
	if strings.TrimSpace(event) == "" {
		return fmt.Errorf("%w: event name is required", domain.ErrValidation)
	}
	return c.send(ctx, segmentTrackPath, segmentMessage{
		Type:        "track",
		UserID:      userID,
		AnonymousID: anonymousID,
		Event:       event,
		Properties:  properties,
	})
}

func (c *SegmentClient) send(ctx context.Context, path string, message segmentMessage) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("segment client is not initialized")
	}
	if strings.TrimSpace(message.UserID) == "" && strings.TrimSpace(message.AnonymousID) == "" {
		return fmt.Errorf("%w: userId or anonymousId is required", domain.ErrValidation)
	}

	message.MessageID = c.newID()
	message.Timestamp = c.now().UTC()
	message.Context = segmentContext{Library: segmentLibrary{Name: segmentLibraryName}}

	request := c.client.R().
		SetContext(ctx).
		SetBasicAuth(c.writeKey, "").
		SetHeader("Content-Type", "application/json").
		SetBody(message)

	_, err := execute(VendorSegment, request, http.MethodPost, c.baseURL+path)
	return err
}
