package replay

import (
	"fmt"

	"github.com/roach88/tablesync/internal/model"
)

// TruncationPolicy decides which attempted entries leave the queue.
type TruncationPolicy string

const (
	// AllOrNothing removes every attempted entry when all succeeded and
	// nothing otherwise. Successful entries of a failed pass are retried,
	// so remote creates may be duplicated.
	AllOrNothing TruncationPolicy = "all-or-nothing"

	// PerEntry removes exactly the entries that succeeded.
	PerEntry TruncationPolicy = "per-entry"
)

// ParseTruncationPolicy parses a policy name. The empty string selects
// AllOrNothing.
func ParseTruncationPolicy(s string) (TruncationPolicy, error) {
	switch TruncationPolicy(s) {
	case "", AllOrNothing:
		return AllOrNothing, nil
	case PerEntry:
		return PerEntry, nil
	}
	return "", fmt.Errorf("unknown truncation policy %q (want %q or %q)", s, AllOrNothing, PerEntry)
}

// removable returns the ids of the records' entries to remove.
func (p TruncationPolicy) removable(records []model.SyncLogRecord) []string {
	var ids []string
	switch p {
	case PerEntry:
		for _, r := range records {
			if r.Succeeded() {
				ids = append(ids, r.Entry.ID())
			}
		}
	default:
		for _, r := range records {
			if !r.Succeeded() {
				return nil
			}
			ids = append(ids, r.Entry.ID())
		}
	}
	return ids
}
