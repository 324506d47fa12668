package model

import (
	"encoding/json"
	"time"
)

// LogType is the direction of an attendance event.
type LogType string

const (
	LogTypeIn  LogType = "IN"
	LogTypeOut LogType = "OUT"
)

// Valid reports whether t is one of the known directions.
func (t LogType) Valid() bool {
	return t == LogTypeIn || t == LogTypeOut
}

// CheckinStatus is the approval state of a check-in inside the ERP.
type CheckinStatus string

const (
	StatusPending  CheckinStatus = "Pending"
	StatusApproved CheckinStatus = "Approved"
	StatusRejected CheckinStatus = "Rejected"
)

// CheckinPayload is the body of a Mobile Checkin record as the ERP expects it.
type CheckinPayload struct {
	Employee    string        `json:"employee"`
	LogType     LogType       `json:"log_type"`
	CheckinTime time.Time     `json:"checkin_time"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Landmark    string        `json:"landmark,omitempty"`
	Status      CheckinStatus `json:"status"`
	HOD         string        `json:"hod,omitempty"`
}

// QueueEntry is a check-in waiting for the ERP to acknowledge it.
type QueueEntry struct {
	ID        int64          `json:"id"`
	Data      CheckinPayload `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
}

// DeadLetter is a queue entry that exhausted its delivery attempts.
type DeadLetter struct {
	ID        int64          `json:"id"`
	Data      CheckinPayload `json:"data"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError"`
	FailedAt  time.Time      `json:"failedAt"`
}

// DeliveryStatus tags the outcome of one delivery attempt.
type DeliveryStatus string

const (
	Delivered DeliveryStatus = "DELIVERED"
	Failed    DeliveryStatus = "FAILED"
)

// DeliveryResult is the outcome of delivering a single queue entry.
type DeliveryResult struct {
	EntryID int64          `json:"entryId"`
	Status  DeliveryStatus `json:"status"`
	Reason  string         `json:"reason,omitempty"`
}

// SyncReport summarizes one drain pass.
type SyncReport struct {
	Total      int              `json:"total"`
	Delivered  int              `json:"delivered"`
	Failed     int              `json:"failed"`
	DeadLetter int              `json:"deadLetter"`
	Results    []DeliveryResult `json:"results"`
}

// Checkin is a Mobile Checkin record as returned by the ERP.
type Checkin struct {
	Name            string        `json:"name"`
	Employee        string        `json:"employee"`
	EmployeeName    string        `json:"employee_name,omitempty"`
	LogType         LogType       `json:"log_type"`
	CheckinTime     string        `json:"checkin_time"`
	Latitude        float64       `json:"latitude"`
	Longitude       float64       `json:"longitude"`
	Landmark        string        `json:"landmark,omitempty"`
	Status          CheckinStatus `json:"status"`
	HOD             string        `json:"hod,omitempty"`
	ApproverRemarks string        `json:"approver_remarks,omitempty"`
}

// Employee is the subset of the ERP employee record the edge needs.
type Employee struct {
	Name         string `json:"name"`
	EmployeeName string `json:"employee_name"`
	UserID       string `json:"user_id"`
	ReportsTo    string `json:"reports_to,omitempty"`
	Image        string `json:"image,omitempty"`
}

// PushPayload is an inbound push message with defaults already applied.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Notification is what gets shown to the user for a push.
type Notification struct {
	Tag       string    `json:"tag"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon"`
	Badge     string    `json:"badge"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClientMessage is broadcast from the edge to every foreground context.
type ClientMessage struct {
	Type         string        `json:"type"`
	Count        int           `json:"count,omitempty"`
	URL          string        `json:"url,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

const (
	MessageSyncStart    = "SYNC_START"
	MessageSyncComplete = "SYNC_COMPLETE"
	MessageNotification = "NOTIFICATION"
	MessageFocus        = "FOCUS"
	MessageNavigate     = "NAVIGATE"
)

// TriggerEnvelope is the body of a message on the events queue.
type TriggerEnvelope struct {
	Kind    string          `json:"kind"`
	Tag     string          `json:"tag,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	TriggerSync = "sync"
	TriggerPush = "push"
)

// CheckinRequest is a check-in as submitted by a foreground context.
type CheckinRequest struct {
	Employee    string    `json:"employee"`
	LogType     LogType   `json:"log_type"`
	CheckinTime time.Time `json:"checkin_time,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Landmark    string    `json:"landmark,omitempty"`
	HOD         string    `json:"hod,omitempty"`
	// Deferred skips the direct ERP call and goes straight to the offline queue.
	Deferred bool `json:"deferred,omitempty"`
}

// SubmitOutcome says where a submitted check-in ended up.
type SubmitOutcome string

const (
	OutcomeSubmitted SubmitOutcome = "SUBMITTED"
	OutcomeQueued    SubmitOutcome = "QUEUED"
)

// SubmitResult is returned for every accepted check-in.
type SubmitResult struct {
	Outcome SubmitOutcome `json:"outcome"`
	Checkin *Checkin      `json:"checkin,omitempty"`
	QueueID int64         `json:"queueId,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// EmployeeProfile is an employee plus whether anybody reports to them.
type EmployeeProfile struct {
	Employee
	IsManager bool `json:"is_manager"`
}
