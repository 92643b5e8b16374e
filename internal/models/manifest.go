package models

import "time"

// SchemaVersion identifies the archive layout. Bump when the container or
// bundle format changes incompatibly.
const SchemaVersion = 1

// Manifest is the first entry of every archive and stays readable even when
// the run that produced the archive was interrupted.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	SourceURL     string    `json:"source_url"`
	ExportedAt    time.Time `json:"exported_at"`
	ProjectFilter []string  `json:"project_filter,omitempty"`
	IssueFilter   []string  `json:"issue_filter,omitempty"`
	ToolVersion   string    `json:"tool_version,omitempty"`
}
