package upsert

// Record is one incoming domain record, keyed by field name. Values are
// whatever the fragment's JSON decoded to.
type Record map[string]any

// OutcomeKind is the closed set of results Apply can produce for one record.
type OutcomeKind string

const (
	Inserted OutcomeKind = "inserted"
	Updated  OutcomeKind = "updated"
	Skipped  OutcomeKind = "skipped"
	Rejected OutcomeKind = "rejected"
)

// RejectReason explains a Rejected outcome.
type RejectReason string

const (
	// ReasonMissingNaturalKey: a natural-key field was absent or null.
	ReasonMissingNaturalKey RejectReason = "missing_natural_key"
	// ReasonImmutableViolation: an immutable field differed from its stored
	// value. The whole record is rejected, never partially merged.
	ReasonImmutableViolation RejectReason = "immutable_field_violation"
	// ReasonInsertForbidden: no existing row and the strategy is update-only.
	ReasonInsertForbidden RejectReason = "insert_forbidden"
	// ReasonUpdateForbidden: row exists with changes and the strategy is
	// insert-only.
	ReasonUpdateForbidden RejectReason = "update_forbidden"
)

// Outcome is the per-record result of one Apply.
type Outcome struct {
	Kind   OutcomeKind
	Reason RejectReason
	// Detail names the offending field(s) for rejections.
	Detail string
}

func inserted() Outcome { return Outcome{Kind: Inserted} }
func updated() Outcome  { return Outcome{Kind: Updated} }
func skipped() Outcome  { return Outcome{Kind: Skipped} }

func rejected(reason RejectReason, detail string) Outcome {
	return Outcome{Kind: Rejected, Reason: reason, Detail: detail}
}
