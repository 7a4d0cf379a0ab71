package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunData is a tagged key/value artifact produced during a run. Keys are
// not unique: each insert for a (run_id, key) pair is an independent
// revision, and the latest revision is the one with the greatest created_at
// (ties broken by id).
type RunData struct {
	ID    uuid.UUID `json:"id" db:"id"`
	OrgID string    `json:"orgId" db:"org_id"`

	RunID  uuid.UUID `json:"runId" db:"run_id"`
	TaskID uuid.UUID `json:"taskId" db:"task_id"`

	Key   string    `json:"key" db:"key"`
	Value JSONValue `json:"value" db:"value"`

	Tags     pq.StringArray `json:"tags" db:"tags"`
	Metadata JSONMap        `json:"metadata,omitempty" db:"metadata"`

	CreatedAt int64 `json:"createdAt" db:"created_at"`
	UpdatedAt int64 `json:"updatedAt" db:"updated_at"`
}

// DedupeTags deduplicates a tag list preserving first-occurrence order
func DedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
