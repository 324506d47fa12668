package erp

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

	"attendance.edge/internal/core/model"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	checkinResource  = "Mobile Checkin"
	employeeResource = "Employee"
)

var (
	// ErrCircuitOpen is returned while the breaker refuses calls to the ERP.
	ErrCircuitOpen = errors.New("erp circuit breaker is open")
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("erp record not found")
)

// APIError is a non-2xx answer from the ERP.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("erp returned non-successful status code: %d", e.Status)
	}
	return fmt.Sprintf("erp returned non-successful status code: %d: %s", e.Status, e.Message)
}

// API is the contract of the remote ERP as the edge consumes it.
type API interface {
	PostCheckin(ctx context.Context, payload model.CheckinPayload) (*model.Checkin, error)
	ListPending(ctx context.Context, hod string) ([]model.Checkin, error)
	ListEmployeeCheckins(ctx context.Context, employee string) ([]model.Checkin, error)
	UpdateStatus(ctx context.Context, name string, status model.CheckinStatus, remarks string) (*model.Checkin, error)
	DeleteCheckin(ctx context.Context, name string) error
	GetEmployee(ctx context.Context, userID string) (*model.Employee, error)
	IsManager(ctx context.Context, employeeID string) (bool, error)
}

// HTTPClient talks to the ERP REST API.
// Every call goes through a circuit breaker so a struggling ERP is not hammered.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
	cb      *gobreaker.CircuitBreaker
}

// NewHTTPClient builds a client for the ERP at baseURL using key/secret token auth.
func NewHTTPClient(baseURL, apiKey, apiSecret string, timeout time.Duration) *HTTPClient {
	settings := gobreaker.Settings{
		Name:        "ERP",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if failure rate is bigger then 50% after at least 10 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		// A rejected record says nothing about the ERP's health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500
			}
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   fmt.Sprintf("token %s:%s", apiKey, apiSecret),
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// PostCheckin creates a Mobile Checkin record.
func (c *HTTPClient) PostCheckin(ctx context.Context, payload model.CheckinPayload) (*model.Checkin, error) {
	var out struct {
		Data model.Checkin `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.resourceURL(checkinResource, "", nil), payload, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Deliver posts a queued check-in without going through the circuit breaker.
// A sync pass owes every entry one real attempt, so a tripped breaker must not skip any.
func (c *HTTPClient) Deliver(ctx context.Context, payload model.CheckinPayload) (*model.Checkin, error) {
	var out struct {
		Data model.Checkin `json:"data"`
	}
	if err := c.roundTrip(ctx, http.MethodPost, c.resourceURL(checkinResource, "", nil), payload, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// ListPending returns pending check-ins, optionally only those routed to hod.
func (c *HTTPClient) ListPending(ctx context.Context, hod string) ([]model.Checkin, error) {
	filters := [][3]string{{"status", "=", string(model.StatusPending)}}
	if hod != "" {
		filters = append(filters, [3]string{"hod", "=", hod})
	}
	return c.listCheckins(ctx, filters, "checkin_time desc")
}

// ListEmployeeCheckins returns the check-in history of one employee, newest first.
func (c *HTTPClient) ListEmployeeCheckins(ctx context.Context, employee string) ([]model.Checkin, error) {
	return c.listCheckins(ctx, [][3]string{{"employee", "=", employee}}, "checkin_time desc")
}

func (c *HTTPClient) listCheckins(ctx context.Context, filters [][3]string, orderBy string) ([]model.Checkin, error) {
	q, err := listQuery([]string{"*"}, filters)
	if err != nil {
		return nil, err
	}
	q.Set("order_by", orderBy)

	var out struct {
		Data []model.Checkin `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.resourceURL(checkinResource, "", q), nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = []model.Checkin{}
	}
	return out.Data, nil
}

// UpdateStatus approves or rejects a check-in.
func (c *HTTPClient) UpdateStatus(ctx context.Context, name string, status model.CheckinStatus, remarks string) (*model.Checkin, error) {
	body := struct {
		Status          model.CheckinStatus `json:"status"`
		ApproverRemarks string              `json:"approver_remarks,omitempty"`
	}{status, remarks}

	var out struct {
		Data model.Checkin `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, c.resourceURL(checkinResource, name, nil), body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// DeleteCheckin discards a check-in that is still pending.
func (c *HTTPClient) DeleteCheckin(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.resourceURL(checkinResource, name, nil), nil, nil)
}

// GetEmployee finds the employee linked to a user id (login email).
func (c *HTTPClient) GetEmployee(ctx context.Context, userID string) (*model.Employee, error) {
	q, err := listQuery([]string{"name", "employee_name", "user_id", "reports_to", "image"}, [][3]string{{"user_id", "=", userID}})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []model.Employee `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.resourceURL(employeeResource, "", q), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrNotFound
	}
	return &out.Data[0], nil
}

// IsManager reports whether anybody reports to employeeID.
func (c *HTTPClient) IsManager(ctx context.Context, employeeID string) (bool, error) {
	q, err := listQuery([]string{"name"}, [][3]string{{"reports_to", "=", employeeID}})
	if err != nil {
		return false, err
	}
	q.Set("limit_page_length", "1")

	var out struct {
		Data []model.Employee `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.resourceURL(employeeResource, "", q), nil, &out); err != nil {
		return false, err
	}
	return len(out.Data) > 0, nil
}

func (c *HTTPClient) resourceURL(resource, name string, q url.Values) string {
	u := c.baseURL + "/api/resource/" + url.PathEscape(resource)
	if name != "" {
		u += "/" + url.PathEscape(name)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func listQuery(fields []string, filters [][3]string) (url.Values, error) {
	f, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	flt, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}
	return url.Values{"fields": {string(f)}, "filters": {string(flt)}}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, target string, in, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, target, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal erp payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create erp request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call erp: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read erp response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: serverMessage(raw)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode erp response: %w", err)
	}
	return nil
}

// serverMessage pulls a readable message out of an ERP error body.
// _server_messages is a JSON-encoded list of JSON-encoded {"message": ...} objects.
func serverMessage(raw []byte) string {
	var body struct {
		ServerMessages string `json:"_server_messages"`
		Exception      string `json:"exception"`
		Message        string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}

	if body.ServerMessages != "" {
		var encoded []string
		if err := json.Unmarshal([]byte(body.ServerMessages), &encoded); err != nil {
			return body.ServerMessages
		}
		msgs := make([]string, 0, len(encoded))
		for _, e := range encoded {
			var m struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(e), &m); err == nil && m.Message != "" {
				msgs = append(msgs, m.Message)
			} else {
				msgs = append(msgs, e)
			}
		}
		return strings.Join(msgs, "; ")
	}
	if body.Exception != "" {
		return body.Exception
	}
	return body.Message
}
