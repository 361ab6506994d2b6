// Package tiga integrates the Tiga practice platform as a booking backend.
// Tiga has no separate hold call: POST /reservations both holds and pends the
// slot, and a follow-up approve finalizes it. Cancelling an unapproved
// reservation is the compensating action.
package tiga

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

// Config holds configuration for the Tiga client.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	BranchKey string
	Timeout   time.Duration
}

// Client implements booking.Adapter against the Tiga REST API.
type Client struct {
	baseURL    string
	username   string
	password   string
	branchKey  string
	httpClient *http.Client
}

// New creates a Tiga booking client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("tiga: BaseURL is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("tiga: credentials are required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		branchKey:  cfg.BranchKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Info identifies the backend.
func (c *Client) Info() booking.AdapterInfo {
	return booking.AdapterInfo{ID: "tiga", DisplayName: "Tiga Practice Platform", Version: "v1"}
}

type tigaSchedule struct {
	Items []struct {
		ID       string `json:"id"`
		Unit     string `json:"unit"`
		Begin    string `json:"begin"` // RFC3339
		Bookable bool   `json:"bookable"`
	} `json:"items"`
}

// GetAvailability queries Tiga's schedule endpoint for bookable items.
// Tiga: GET /v1/schedule?branch={key}&begin={rfc3339}&end={rfc3339}
func (c *Client) GetAvailability(ctx context.Context, req booking.AvailabilityRequest) ([]booking.Slot, error) {
	params := url.Values{}
	params.Set("branch", c.branchKey)
	if req.ResourceType != "" {
		params.Set("unit", req.ResourceType)
	}
	if !req.From.IsZero() {
		params.Set("begin", req.From.Format(time.RFC3339))
	}
	if !req.To.IsZero() {
		params.Set("end", req.To.Format(time.RFC3339))
	}

	var schedule tigaSchedule
	if err := c.do(ctx, http.MethodGet, "/v1/schedule?"+params.Encode(), nil, &schedule); err != nil {
		return nil, err
	}

	out := make([]booking.Slot, 0, len(schedule.Items))
	for _, item := range schedule.Items {
		if !item.Bookable {
			continue
		}
		begin, err := time.Parse(time.RFC3339, item.Begin)
		if err != nil {
			return nil, fmt.Errorf("tiga: bad schedule timestamp %q: %w", item.Begin, err)
		}
		out = append(out, booking.Slot{
			BackendID:  c.Info().ID,
			ResourceID: item.Unit,
			SlotID:     item.ID,
			StartTime:  begin,
			Status:     booking.SlotFree,
		})
	}
	return out, nil
}

type tigaReservation struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

type tigaApproval struct {
	AppointmentNo string `json:"appointment_no"`
}

// ReserveAndBook creates a pending reservation (Tiga's hold) and approves it.
// Tiga returns 409 when the schedule item is already reserved; approval
// failures cancel the pending reservation before returning.
func (c *Client) ReserveAndBook(ctx context.Context, req booking.BookRequest) (booking.BookResult, error) {
	reserveBody := map[string]any{
		"schedule_item": req.SlotID,
		"branch":        c.branchKey,
		"patient_name":  req.Patient.FullName,
		"patient_phone": req.Patient.Phone,
		"client_ref":    req.IdempotencyKey,
	}
	var reservation tigaReservation
	if err := c.do(ctx, http.MethodPost, "/v1/reservations", reserveBody, &reservation); err != nil {
		return booking.BookResult{}, err
	}

	var approval tigaApproval
	if err := c.do(ctx, http.MethodPost, "/v1/reservations/"+url.PathEscape(reservation.ReservationID)+"/approve", nil, &approval); err != nil {
		c.cancel(ctx, reservation.ReservationID)
		return booking.BookResult{}, err
	}

	return booking.BookResult{AppointmentID: approval.AppointmentNo}, nil
}

// cancel reverses an unapproved reservation. Best-effort.
func (c *Client) cancel(ctx context.Context, reservationID string) {
	cancelCtx, cancelFn := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelFn()
	_ = c.do(cancelCtx, http.MethodDelete, "/v1/reservations/"+url.PathEscape(reservationID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tiga: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("tiga: create request: %w", err)
	}
	httpReq.SetBasicAuth(c.username, c.password)
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
		return fmt.Errorf("tiga: API error (status %d): %s", resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tiga: decode response: %w", err)
	}
	return nil
}
