package authi

import "sync"

// ColumnCandidates lists the header names recognised when a column is not named explicitly.
type ColumnCandidates struct {
	Note        []string `json:"note"`
	Encounter   []string `json:"encounter"`
	ID          []string `json:"id"`
	Condition   []string `json:"condition"`
	ICDCode     []string `json:"icdCode"`
	Description []string `json:"description"`
}

var (
	columnCandidatesMu  sync.RWMutex
	activeColumnOptions = defaultColumnCandidates()
)

func defaultColumnCandidates() ColumnCandidates {
	return ColumnCandidates{
		Note:        []string{"clinical_note", "clinical note", "note", "notes", "narrative", "text"},
		Encounter:   []string{"encounter", "visit", "encounter_date", "date"},
		ID:          []string{"id", "note_id", "patient_id", "mrn"},
		Condition:   []string{"CHRONIC CONDITIONS", "chronic condition", "condition", "condition_name"},
		ICDCode:     []string{"ICD-Code", "ICD Code", "icd_code", "icd10", "code"},
		Description: []string{"ICD-Code Description", "ICD Description", "icd_description", "description"},
	}
}

// DefaultColumnCandidates returns the built-in column detection candidates.
func DefaultColumnCandidates() ColumnCandidates {
	return defaultColumnCandidates().clone()
}

// SetColumnCandidates updates the candidates used during auto-detection.
// Fields left nil fall back to the built-in defaults.
func SetColumnCandidates(candidates ColumnCandidates) {
	columnCandidatesMu.Lock()
	defer columnCandidatesMu.Unlock()
	activeColumnOptions = candidates.withDefaults()
}

func getColumnCandidates() ColumnCandidates {
	columnCandidatesMu.RLock()
	defer columnCandidatesMu.RUnlock()
	return activeColumnOptions.clone()
}

func (c ColumnCandidates) withDefaults() ColumnCandidates {
	defaults := defaultColumnCandidates()
	return ColumnCandidates{
		Note:        pickStrings(c.Note, defaults.Note),
		Encounter:   pickStrings(c.Encounter, defaults.Encounter),
		ID:          pickStrings(c.ID, defaults.ID),
		Condition:   pickStrings(c.Condition, defaults.Condition),
		ICDCode:     pickStrings(c.ICDCode, defaults.ICDCode),
		Description: pickStrings(c.Description, defaults.Description),
	}
}

func (c ColumnCandidates) clone() ColumnCandidates {
	return ColumnCandidates{
		Note:        cloneStrings(c.Note),
		Encounter:   cloneStrings(c.Encounter),
		ID:          cloneStrings(c.ID),
		Condition:   cloneStrings(c.Condition),
		ICDCode:     cloneStrings(c.ICDCode),
		Description: cloneStrings(c.Description),
	}
}

func pickStrings(custom, fallback []string) []string {
	if custom == nil {
		return cloneStrings(fallback)
	}
	return cloneStrings(custom)
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
