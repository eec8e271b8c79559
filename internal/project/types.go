// Package project manages the on-disk layout of writing projects and
// resolves project identifiers to their root directories.
//
// A project root contains:
//
//	project.json   - project metadata (title, genre, word budget)
//	outline.json   - the ordered list of narrative units
//	drafts/        - one markdown draft per unit ({unitID}.md)
//	history/       - snapshots, recovery state, diagnostics
package project

import "time"

// Meta is the persisted content of project.json.
type Meta struct {
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title"`
	Genre      string    `json:"genre,omitempty"`
	WordBudget int       `json:"word_budget,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Outline is the persisted content of outline.json.
type Outline struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Units []Unit `json:"units" yaml:"units"`
}

// Unit is one narrative unit (a scene or chapter) in the outline.
// Draft files are named after the unit id: drafts/{id}.md.
type Unit struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Words   int    `json:"words,omitempty" yaml:"words,omitempty"`
}

// UnitByID returns the unit with the given id, or nil.
func (o *Outline) UnitByID(id string) *Unit {
	for i := range o.Units {
		if o.Units[i].ID == id {
			return &o.Units[i]
		}
	}
	return nil
}
