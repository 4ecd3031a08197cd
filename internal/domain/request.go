package domain

import "time"

// RequestType enumerates the kinds of fulfillment work a customer can ask for.
// The value drives which merge rules apply when the result lands in the site
// document.
type RequestType string

const (
	RequestTypeContent      RequestType = "content"
	RequestTypeImages       RequestType = "images"
	RequestTypeServices     RequestType = "services"
	RequestTypeHero         RequestType = "hero"
	RequestTypeAbout        RequestType = "about"
	RequestTypeTestimonials RequestType = "testimonials"
	RequestTypeFAQ          RequestType = "faq"
	RequestTypeSEO          RequestType = "seo"
	RequestTypeBlog         RequestType = "blog"
	RequestTypeContact      RequestType = "contact"
	RequestTypeCustom       RequestType = "custom"
)

// RequestStatus enumerates request lifecycle states.
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusAssigned   RequestStatus = "ASSIGNED"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusRejected   RequestStatus = "REJECTED"
	StatusCancelled  RequestStatus = "CANCELLED"
	StatusFailed     RequestStatus = "FAILED"
)

// Terminal reports whether the status ends the lifecycle.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusProcessing,
		StatusCompleted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Priority orders requests in the operator queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether the priority is a known level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ImageSlot is one uploaded draft image, keyed by its role in the parent
// request's draft map. Roles are opaque caller-supplied strings.
type ImageSlot struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request is one unit of fulfillment work. It is owned exclusively by the
// queue: all status changes go through the repository's conditional
// transition methods, never through field assignment on a loaded record.
type Request struct {
	ID               string         `json:"id"`
	CustomerID       string         `json:"customer_id"`
	SessionID        string         `json:"session_id,omitempty"` // empty when the request is not tied to a site document
	Type             RequestType    `json:"request_type"`
	BusinessType     string         `json:"business_type,omitempty"`
	Status           RequestStatus  `json:"status"`
	Priority         Priority       `json:"priority"`
	AdminID          string         `json:"admin_id,omitempty"`
	RequestData      map[string]any `json:"request_data,omitempty"`
	GeneratedContent map[string]any `json:"generated_content,omitempty"`
	Notes            string         `json:"notes,omitempty"`

	ImagesDraft   map[string]ImageSlot `json:"images_draft,omitempty"`
	ImagesVersion int64                `json:"images_version"`

	EstimatedCost float64 `json:"estimated_cost"`
	ActualCost    float64 `json:"actual_cost"`
	// ProcessingDuration is whole seconds between start and completion,
	// set only on COMPLETED records.
	ProcessingDuration *int64 `json:"processing_duration,omitempty"`

	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Overdue threshold for pending requests. Detection is pull-based reporting,
// never an automatic transition.
const OverdueAfter = 24 * time.Hour

// RequestFilter narrows queue listings. Zero values mean "no filter".
type RequestFilter struct {
	Status       RequestStatus
	Type         RequestType
	AdminID      string
	BusinessType string
	Priority     Priority
	From         *time.Time
	To           *time.Time
}

// QueueStats aggregates the queue for the operator dashboard.
type QueueStats struct {
	ByStatus map[RequestStatus]int64 `json:"by_status"`
	Total    int64                   `json:"total"`
	// AverageProcessingTime is the mean processing duration in seconds,
	// rounded, over completed requests that recorded one.
	AverageProcessingTime int64   `json:"average_processing_time"`
	TotalRevenue          float64 `json:"total_revenue"`
}

// RequestPatch carries the administratively correctable fields. Status,
// ownership and lifecycle timestamps are deliberately absent: those belong
// to the transition guards.
type RequestPatch struct {
	Priority      *Priority
	Notes         *string
	ErrorMessage  *string
	EstimatedCost *float64
	Type          *RequestType
}

// RequestScope and SessionScope build the storage partition prefix for a
// request's binary artifacts. Draft uploads prefer the session scope when one
// exists so files survive request deletion.
func RequestScope(requestID string) string { return "requests/" + requestID }

func SessionScope(sessionID string) string { return "sessions/" + sessionID }

// StorageScope returns the partition draft images for this request belong to.
func (r *Request) StorageScope() string {
	if r.SessionID != "" {
		return SessionScope(r.SessionID)
	}
	return RequestScope(r.ID)
}
