package domain

import "time"

// ReceiptEntry is one append-only, hash-chained record of a state-changing
// event for a subject (deployment, approval, execution, violation,
// adaptation). Field order is fixed to match the canonical JSON receipt
// format: subjectId, seq, ts, event, actor, details, prevHash, contentHash,
// signature.
type ReceiptEntry struct {
	SubjectID   string                 `json:"subjectId"`
	Seq         uint64                 `json:"seq"`
	Timestamp   time.Time              `json:"ts"`
	Event       string                 `json:"event"`
	Actor       string                 `json:"actor"`
	Details     map[string]interface{} `json:"details"`
	PrevHash    string                 `json:"prevHash"`
	ContentHash string                 `json:"contentHash"`
	Signature   string                 `json:"signature,omitempty"`
}
