// Package fonet integrates the Fonet clinic management system as a booking
// backend. Fonet exposes an explicit hold/confirm/release API, which maps
// one-to-one onto the two-phase booking protocol.
package fonet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/clinic-ai-engine/internal/booking"
)

// Config holds configuration for the Fonet client.
type Config struct {
	BaseURL  string
	APIKey   string
	ClinicID string
	Timeout  time.Duration
}

// Client implements booking.Adapter against the Fonet REST API.
type Client struct {
	baseURL    string
	apiKey     string
	clinicID   string
	httpClient *http.Client
}

// New creates a Fonet booking client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("fonet: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("fonet: APIKey is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		clinicID:   cfg.ClinicID,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Info identifies the backend.
func (c *Client) Info() booking.AdapterInfo {
	return booking.AdapterInfo{ID: "fonet", DisplayName: "Fonet Clinic Suite", Version: "v2"}
}

type fonetSlot struct {
	SlotID     string    `json:"slot_id"`
	ResourceID string    `json:"resource_id"`
	StartsAt   time.Time `json:"starts_at"`
	State      string    `json:"state"`
}

// GetAvailability queries Fonet for free slots in the window.
// Fonet: GET /api/v2/slots?clinic={id}&from={rfc3339}&to={rfc3339}&state=free
func (c *Client) GetAvailability(ctx context.Context, req booking.AvailabilityRequest) ([]booking.Slot, error) {
	params := url.Values{}
	params.Set("clinic", c.clinicID)
	params.Set("state", "free")
	if req.ResourceType != "" {
		params.Set("resource", req.ResourceType)
	}
	if !req.From.IsZero() {
		params.Set("from", req.From.Format(time.RFC3339))
	}
	if !req.To.IsZero() {
		params.Set("to", req.To.Format(time.RFC3339))
	}

	var slots []fonetSlot
	if err := c.do(ctx, http.MethodGet, "/api/v2/slots?"+params.Encode(), nil, &slots); err != nil {
		return nil, err
	}

	out := make([]booking.Slot, 0, len(slots))
	for _, s := range slots {
		if s.State != "free" {
			continue
		}
		out = append(out, booking.Slot{
			BackendID:  c.Info().ID,
			ResourceID: s.ResourceID,
			SlotID:     s.SlotID,
			StartTime:  s.StartsAt,
			Status:     booking.SlotFree,
		})
	}
	return out, nil
}

type fonetHoldResponse struct {
	HoldID string `json:"hold_id"`
}

type fonetConfirmResponse struct {
	AppointmentID string `json:"appointment_id"`
}

// ReserveAndBook holds the slot, then confirms the hold. Fonet serializes
// hold acquisition per slot on its side; a losing competitor receives 409,
// surfaced as ErrSlotConflict. A failed confirm releases the hold before
// returning so the slot goes back into Fonet's pool.
func (c *Client) ReserveAndBook(ctx context.Context, req booking.BookRequest) (booking.BookResult, error) {
	holdBody := map[string]string{
		"clinic": c.clinicID,
	}
	var hold fonetHoldResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/slots/"+url.PathEscape(req.SlotID)+"/hold", holdBody, &hold); err != nil {
		return booking.BookResult{}, err
	}

	confirmBody := map[string]any{
		"patient": map[string]string{
			"name":  req.Patient.FullName,
			"phone": req.Patient.Phone,
			"email": req.Patient.Email,
		},
		"reference": req.IdempotencyKey,
	}
	var confirm fonetConfirmResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/holds/"+url.PathEscape(hold.HoldID)+"/confirm", confirmBody, &confirm); err != nil {
		c.release(ctx, hold.HoldID)
		return booking.BookResult{}, err
	}

	return booking.BookResult{AppointmentID: confirm.AppointmentID}, nil
}

// release is the compensating action for a failed confirm. Best-effort: an
// unreleased hold expires on Fonet's side anyway.
func (c *Client) release(ctx context.Context, holdID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = c.do(releaseCtx, http.MethodDelete, "/api/v2/holds/"+url.PathEscape(holdID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("fonet: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("fonet: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return booking.ErrBookingTimeout
		}
		return fmt.Errorf("%w: %v", booking.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return booking.ErrSlotConflict
	case resp.StatusCode == http.StatusNotFound:
		return booking.ErrSlotNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", booking.ErrBackendUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fonet: API error (status %d): %s", resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("fonet: decode response: %w", err)
	}
	return nil
}
