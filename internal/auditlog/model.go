package auditlog

import "time"

// Record is one append-only row: every deliberation and every
// management action, allow/deny or otherwise, produces exactly one
// (spec.md §4.G). Rows are never updated or deleted — there is no
// UpdatedAt/DeletedAt column, because mutability here would defeat the
// point of an audit trail.
type Record struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Verb           string    `json:"verb" gorm:"index"`
	Caller         string    `json:"caller" gorm:"index"`
	RequestPayload string    `json:"request_payload" gorm:"type:text"`

	UseCase       string `json:"use_case,omitempty" gorm:"index"`
	QuestionKind  string `json:"question_kind,omitempty"`
	PolicyVersion string `json:"policy_version,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty" gorm:"index"`

	Allow      bool   `json:"allow"`
	DenyKind   string `json:"deny_kind,omitempty"`
	DenyDetail string `json:"deny_detail,omitempty"`
	VerdictRef string `json:"verdict_reference" gorm:"uniqueIndex"`
	Signature  string `json:"signature,omitempty"`

	// Workflow size at deliberation time, from wir.Ir.Stats() — carries no
	// semantic weight in the verdict, kept only as investigative context.
	// Zero for management actions, which have no workflow.
	WorkflowUsers  int `json:"workflow_users,omitempty"`
	WorkflowAssets int `json:"workflow_assets,omitempty"`
	WorkflowNodes  int `json:"workflow_nodes,omitempty"`
	WorkflowEdges  int `json:"workflow_edges,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
