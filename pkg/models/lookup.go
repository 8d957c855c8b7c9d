package models

// Status is the classified registry outcome of a lookup
type Status string

const (
	StatusClean   Status = "clean"
	StatusStolen  Status = "stolen"
	StatusRetry   Status = "retry"
	StatusUnknown Status = "unknown"
)

// LookupResult is returned once by POST /solve and then discarded
type LookupResult struct {
	Status  Status            `json:"status"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}
