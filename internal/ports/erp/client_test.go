package erp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"attendance.edge/internal/core/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "key", "secret", 5*time.Second)
}

func TestPostCheckinSendsFixedHeaders(t *testing.T) {
	var got model.CheckinPayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/resource/Mobile Checkin" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "token key:secret" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected Content-Type %q", ct)
		}
		if accept := r.Header.Get("Accept"); accept != "application/json" {
			t.Errorf("unexpected Accept %q", accept)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"name":"MC-0001","employee":"EMP-1","status":"Pending"}}`))
	})

	payload := model.CheckinPayload{Employee: "EMP-1", LogType: model.LogTypeIn, Status: model.StatusPending}
	rec, err := client.PostCheckin(context.Background(), payload)
	if err != nil {
		t.Fatalf("PostCheckin failed: %v", err)
	}
	if rec.Name != "MC-0001" {
		t.Errorf("expected record name MC-0001, got %q", rec.Name)
	}
	if got.Employee != "EMP-1" || got.LogType != model.LogTypeIn {
		t.Errorf("unexpected payload received: %+v", got)
	}
}

func TestPostCheckinDecodesServerMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusExpectationFailed)
		_, _ = w.Write([]byte(`{"_server_messages":"[\"{\\\"message\\\": \\\"Employee is inactive\\\"}\"]"}`))
	})

	_, err := client.PostCheckin(context.Background(), model.CheckinPayload{Employee: "EMP-9"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusExpectationFailed {
		t.Errorf("expected status 417, got %d", apiErr.Status)
	}
	if apiErr.Message != "Employee is inactive" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestServerMessageFallbacks(t *testing.T) {
	cases := map[string]string{
		`{"exception":"frappe.exceptions.ValidationError"}`: "frappe.exceptions.ValidationError",
		`{"message":"Not permitted"}`:                       "Not permitted",
		`Bad Gateway`:                                       "Bad Gateway",
	}
	for raw, want := range cases {
		if got := serverMessage([]byte(raw)); got != want {
			t.Errorf("serverMessage(%s) = %q, want %q", raw, got, want)
		}
	}
}

func TestListPendingFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		want := `[["status","=","Pending"],["hod","=","EMP-MGR"]]`
		if got := r.URL.Query().Get("filters"); got != want {
			t.Errorf("filters = %s, want %s", got, want)
		}
		_, _ = w.Write([]byte(`{"data":[{"name":"MC-1","status":"Pending"},{"name":"MC-2","status":"Pending"}]}`))
	})

	list, err := client.ListPending(context.Background(), "EMP-MGR")
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 records, got %d", len(list))
	}
}

func TestUpdateStatusAndDelete(t *testing.T) {
	var methods []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.URL.Path != "/api/resource/Mobile Checkin/MC-7" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method == http.MethodPut {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["status"] != "Approved" || body["approver_remarks"] != "ok" {
				t.Errorf("unexpected body %v", body)
			}
			_, _ = w.Write([]byte(`{"data":{"name":"MC-7","status":"Approved"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	})

	rec, err := client.UpdateStatus(context.Background(), "MC-7", model.StatusApproved, "ok")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if rec.Status != model.StatusApproved {
		t.Errorf("expected Approved, got %s", rec.Status)
	}
	if err := client.DeleteCheckin(context.Background(), "MC-7"); err != nil {
		t.Fatalf("DeleteCheckin failed: %v", err)
	}
	if len(methods) != 2 || methods[0] != http.MethodPut || methods[1] != http.MethodDelete {
		t.Errorf("unexpected call sequence %v", methods)
	}
}

func TestEmployeeLookups(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var filters [][3]string
		_ = json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters)
		switch {
		case filters[0][0] == "user_id" && filters[0][2] == "jane@example.com":
			_, _ = w.Write([]byte(`{"data":[{"name":"EMP-2","employee_name":"Jane","reports_to":"EMP-1"}]}`))
		case filters[0][0] == "reports_to" && filters[0][2] == "EMP-1":
			_, _ = w.Write([]byte(`{"data":[{"name":"EMP-2"}]}`))
		default:
			_, _ = w.Write([]byte(`{"data":[]}`))
		}
	})
	ctx := context.Background()

	emp, err := client.GetEmployee(ctx, "jane@example.com")
	if err != nil {
		t.Fatalf("GetEmployee failed: %v", err)
	}
	if emp.Name != "EMP-2" || emp.ReportsTo != "EMP-1" {
		t.Errorf("unexpected employee %+v", emp)
	}
	if _, err := client.GetEmployee(ctx, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if ok, _ := client.IsManager(ctx, "EMP-1"); !ok {
		t.Error("expected EMP-1 to be a manager")
	}
	if ok, _ := client.IsManager(ctx, "EMP-2"); ok {
		t.Error("expected EMP-2 not to be a manager")
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	var lastErr error
	for i := 0; i < 12; i++ {
		_, lastErr = client.PostCheckin(context.Background(), model.CheckinPayload{Employee: "EMP-1"})
	}
	if !errors.Is(lastErr, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after repeated 500s, got %v", lastErr)
	}
	if calls != 10 {
		t.Errorf("expected breaker to stop calls after 10 failures, got %d", calls)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	var lastErr error
	for i := 0; i < 12; i++ {
		_, lastErr = client.PostCheckin(context.Background(), model.CheckinPayload{Employee: "EMP-1"})
	}
	var apiErr *APIError
	if !errors.As(lastErr, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected 409 APIError, got %v", lastErr)
	}
}

func TestDeliverBypassesBreaker(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 12; i++ {
		_, _ = client.PostCheckin(context.Background(), model.CheckinPayload{Employee: "EMP-1"})
	}
	before := calls

	_, err := client.Deliver(context.Background(), model.CheckinPayload{Employee: "EMP-2"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected a real 500 from Deliver, got %v", err)
	}
	if calls != before+1 {
		t.Errorf("expected Deliver to reach the server with the breaker open")
	}
}
