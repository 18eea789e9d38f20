// Package models defines server-side data models persisted in the database.
package models

// Entry is one question/answer/context example together with the votes
// users have cast on its answer.
//
// Rating is derived from Users and is recomputed whenever an entry is read
// or its votes change.
type Entry struct {
	ID           string         `json:"id"`
	Question     string         `json:"question"`
	Answer       string         `json:"answer"`
	Context      string         `json:"context"`
	CreatedBy    string         `json:"created_by"`
	CreatedByUID string         `json:"created_by_uid"`
	GeneratedBy  *string        `json:"generated_by,omitempty"`
	Users        map[string]int `json:"users"`
	Rating       float64        `json:"rating"`
}

// IsGenerated reports whether the entry was produced from another entry
// rather than written by a person.
func (e *Entry) IsGenerated() bool {
	return e.GeneratedBy != nil && *e.GeneratedBy != ""
}

// EntryPatch is a partial update of a stored Entry. Nil fields keep the
// stored value.
type EntryPatch struct {
	ID          string
	Question    *string
	Answer      *string
	Context     *string
	GeneratedBy *string
	Users       map[string]int
}
