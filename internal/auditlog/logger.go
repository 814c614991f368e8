package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/epi-checker/checker/pkg/deliberation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdminAuditInput is everything worth recording about one management
// action — a policy-store read or write, never a deliberation verdict.
type AdminAuditInput struct {
	Verb           string
	Caller         string
	RequestPayload string
	PolicyVersion  string
	Timestamp      time.Time
}

// Logger writes one Record per deliberation or management action,
// synchronously, before the caller gets a response back. It implements
// deliberation.Auditor via Record, and httpapi's management auditor via
// RecordAdmin.
type Logger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Logger {
	return &Logger{db: db}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

func (l *Logger) Record(ctx context.Context, input deliberation.AuditInput) error {
	rec := Record{
		ID:             uuid.NewString(),
		Verb:           input.Verb,
		Caller:         input.Caller,
		RequestPayload: input.RequestPayload,
		UseCase:        input.UseCase,
		QuestionKind:   string(input.QuestionKind),
		PolicyVersion:  input.PolicyVersion,
		Fingerprint:    input.Fingerprint,
		Allow:          input.Verdict.Allow,
		VerdictRef:     input.Verdict.VerdictReference,
		Signature:      input.Verdict.Signature,

		WorkflowUsers:  input.Stats.Users,
		WorkflowAssets: input.Stats.Assets,
		WorkflowNodes:  input.Stats.Nodes,
		WorkflowEdges:  input.Stats.Edges,

		CreatedAt: input.Timestamp,
	}
	if !input.Verdict.Allow {
		rec.DenyKind = string(input.Verdict.Reason.Kind)
		rec.DenyDetail = input.Verdict.Reason.Detail
	}

	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("auditlog: write record: %w", err)
	}
	return nil
}

// RecordAdmin writes one audit row for a policy-management action
// (list/get/add/activate/deactivate). These carry no Allow/Deny verdict
// of their own — Allow is always true, VerdictRef is a fresh reference
// the caller can cite — since every management request that reaches the
// handler and isn't rejected as malformed did, in fact, happen.
func (l *Logger) RecordAdmin(ctx context.Context, input AdminAuditInput) error {
	rec := Record{
		ID:             uuid.NewString(),
		Verb:           input.Verb,
		Caller:         input.Caller,
		RequestPayload: input.RequestPayload,
		PolicyVersion:  input.PolicyVersion,
		Allow:          true,
		VerdictRef:     uuid.NewString(),
		CreatedAt:      input.Timestamp,
	}

	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("auditlog: write admin record: %w", err)
	}
	return nil
}
