package models

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data    interface{} `json:"data"`
	Meta    *Meta       `json:"meta,omitempty"`
	Notices []Notice    `json:"notices,omitempty"`
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Notices []Notice    `json:"notices,omitempty"`
}

// Meta contains list metadata.
type Meta struct {
	Total  int  `json:"total,omitempty"`
	Sample bool `json:"sample,omitempty"`
}

// Notice levels.
const (
	LevelSuccess = "success"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is a transient, non-blocking message for the operator.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Customer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MobileNumber string `json:"mobile_number"`
}

type RepairJob struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
	CreatedAt  string `json:"created_at"`
}

// NewRepairJob is the POST /repair-jobs payload.
type NewRepairJob struct {
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
}

// StatusUpdate is the PUT /repair-jobs/{id}/status payload. It has no
// customer field: a job's customer is fixed at creation.
type StatusUpdate struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// BoxPart is one per-box stock entry.
type BoxPart struct {
	PartID   string `json:"part_id"`
	Name     string `json:"name,omitempty"`
	Quantity int    `json:"quantity"`
}

type Box struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Quantity int       `json:"quantity"`
	Parts    []BoxPart `json:"parts"`
}

// BoxAlert is a low-stock alert row.
type BoxAlert struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PartName string `json:"part_name"`
	Quantity int    `json:"quantity"`
}

type Part struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PartUsage records parts consumed by a repair job.
type PartUsage struct {
	ID       string `json:"id"`
	PartID   string `json:"part_id"`
	BoxID    string `json:"box_id"`
	Quantity int    `json:"quantity"`
	UsedAt   string `json:"used_at"`
}

// PartAssignment is the POST /repair-jobs/{id}/parts payload.
type PartAssignment struct {
	PartID   string `json:"part_id"`
	BoxID    string `json:"box_id"`
	Quantity int    `json:"quantity"`
}

// DashboardCounts aggregates the catalog counters.
type DashboardCounts struct {
	Accessories int `json:"accessories"`
	Boxes       int `json:"boxes"`
	Parts       int `json:"parts"`
}

type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}
