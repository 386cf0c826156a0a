package models

import "time"

// Branch names for course structures.
const (
	BranchDraft     = "draft"
	BranchPublished = "published"
)

// AsideData is sidecar data attached to a block by a pluggable aside.
// Fields are grouped by scope so deep copies can reset parent-scoped
// values to their defaults.
type AsideData struct {
	AsideType      string                 `json:"aside_type"`
	ContentFields  map[string]interface{} `json:"content_fields,omitempty"`
	SettingsFields map[string]interface{} `json:"settings_fields,omitempty"`
	ParentFields   map[string]interface{} `json:"parent_fields,omitempty"`
}

// BlockData is one node inside a structure snapshot. Children hold the
// in-structure keys ("<type>@<id>") of this block's ordered children;
// parent pointers are derived, never stored.
type BlockData struct {
	Category    string                 `json:"category"`
	DisplayName *string                `json:"display_name,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Children    []string               `json:"children,omitempty"`
	Asides      []AsideData            `json:"asides,omitempty"`

	EditedBy string    `json:"edited_by,omitempty"`
	EditedOn time.Time `json:"edited_on,omitempty"`
}

// StructureModel is an immutable snapshot of one branch of a course tree.
// Commits insert a fresh snapshot row; the course index then points at it.
type StructureModel struct {
	Base
	CourseKey string                `json:"courseKey" gorm:"index;size:191;not null"`
	Branch    string                `json:"branch"    gorm:"size:32;not null"`
	Root      string                `json:"root"`
	Blocks    map[string]*BlockData `json:"blocks"    gorm:"serializer:json;type:longtext"`
	EditedBy  string                `json:"editedBy"`
}

func (StructureModel) TableName() string { return "course_structures" }
