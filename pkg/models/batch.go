package models

// BatchRequest is one multi-note save for a single company and period.
type BatchRequest struct {
	Company         string `json:"company" yaml:"company"`
	Period          Period `json:"period" yaml:"period"`
	Notes           []Note `json:"notes" yaml:"notes"`
	RequestToken    string `json:"request_token,omitempty" yaml:"request_token,omitempty"`
	ForceOverwrite  bool   `json:"force_overwrite,omitempty" yaml:"force_overwrite,omitempty"`
	AllowUnresolved bool   `json:"allow_unresolved,omitempty" yaml:"allow_unresolved,omitempty"`
}

// BatchResponse reports the outcome of a BatchRequest. Exactly one of
// SavedCount > 0, Skipped or DuplicateConflict describes what happened.
type BatchResponse struct {
	Company           string        `json:"company"`
	Period            Period        `json:"period"`
	SavedCount        int           `json:"saved_count"`
	Skipped           bool          `json:"skipped"`
	DuplicateConflict bool          `json:"duplicate_conflict"`
	ConflictingNotes  []Note        `json:"conflicting_notes,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	Mirror            *MirrorResult `json:"mirror,omitempty"`
}

// Amounts is a subtotal/tax pair as held in one mirror period block.
type Amounts struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
}

// MirrorResult describes one accumulator write in the external ledger.
type MirrorResult struct {
	Sheet    string  `json:"sheet"`
	Row      int     `json:"row"`
	Column   int     `json:"column"`
	Previous Amounts `json:"previous"`
	New      Amounts `json:"new"`
}
