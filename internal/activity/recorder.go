// Package activity appends immutable audit-log entries when specific
// document transitions first become true.
package activity

import (
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/specsheet/internal/document"
)

// Action labels written to the activity log. These are the dedup keys: a
// label appears at most once per sheet lifetime.
const (
	ActionCustomerSignatureAdded          = "Customer Signature Added"
	ActionQualityManagerSignatureAdded    = "Quality Manager Signature Added"
	ActionProductionManagerSignatureAdded = "Production Manager Signature Added"
)

// Ordered so appended entries land in a stable sequence.
var signatureActions = []struct {
	role   document.SignatureRole
	action string
}{
	{document.RoleCustomer, ActionCustomerSignatureAdded},
	{document.RoleQualityManager, ActionQualityManagerSignatureAdded},
	{document.RoleProductionManager, ActionProductionManagerSignatureAdded},
}

// Recorder appends log entries for document transitions. now is swappable
// for tests.
type Recorder struct {
	now func() time.Time
}

// NewRecorder creates a recorder using wall-clock time.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// HasAction reports whether the log already holds an entry with the given
// action label.
func HasAction(entries []document.ActivityEntry, action string) bool {
	for _, e := range entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

// Record scans the sheet for transitions that have become true and appends
// one entry per newly observed transition. A transition whose action label
// is already present is skipped, so re-running the scan (every edit does)
// never duplicates entries. Returns the number of entries appended.
func (r *Recorder) Record(sheet *document.SpecSheet, user string) int {
	appended := 0
	for _, t := range signatureActions {
		sig := sheet.Signatures.Signature(t.role)
		if sig.SignatureImage == "" {
			continue
		}
		if HasAction(sheet.ActivityLog, t.action) {
			continue
		}
		sheet.ActivityLog = append(sheet.ActivityLog, document.ActivityEntry{
			Timestamp: r.now(),
			User:      user,
			Action:    t.action,
			Details:   "Signed by " + sig.Name,
		})
		appended++
		log.Debug().Str("action", t.action).Msg("activity entry appended")
	}
	return appended
}
