package model

// SyncStatus is the outcome of replaying one entry.
type SyncStatus string

const (
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// SyncLogRecord is the audit record for one entry attempted in a pass.
type SyncLogRecord struct {
	Entry     Entry      `json:"entry"`
	Status    SyncStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// Succeeded reports whether the entry was applied remotely.
func (r SyncLogRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}
