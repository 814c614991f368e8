package reasoner

import (
	"fmt"

	"github.com/epi-checker/checker/pkg/wir"
)

// QuestionKind names the deliberation being asked of a policy. Each kind
// corresponds to one of the engine's public operations and selects the
// create-phrase Phrase renders; the fact set sent with it is the same
// for every kind.
type QuestionKind string

const (
	QuestionExecuteWorkflow   QuestionKind = "execute_workflow"
	QuestionExecuteTask       QuestionKind = "execute_task"
	QuestionDatasetToTransfer QuestionKind = "dataset_to_transfer"
	QuestionResultToTransfer  QuestionKind = "result_to_transfer"
)

// Question is the deliberation engine's framing of what it wants decided,
// before it has been compiled into backend-specific reasoner input.
type Question struct {
	Kind QuestionKind

	// Workflow is always set: every question is asked in the context of a
	// workflow's derived facts.
	Workflow string

	// NodeID is set for ExecuteTask and DatasetToTransfer questions.
	NodeID string

	// Asset is the data_id in question: the asset a DatasetToTransfer or
	// ResultToTransfer question is asking about.
	Asset string

	// Recipient is set for ResultToTransfer questions: the user the
	// workflow's published result was delivered to.
	Recipient string
}

// Phrase renders the create-phrase spec.md §4.B's encoder emits for the
// question, after the program and the fact create-phrases: one of
// `workflow-to-execute(w)`, `task-to-execute(n)`, `dataset-to-transfer(ni)`,
// `result-to-transfer(r)`.
func (q Question) Phrase() string {
	switch q.Kind {
	case QuestionExecuteWorkflow:
		return fmt.Sprintf("workflow-to-execute(%s)", q.Workflow)
	case QuestionExecuteTask:
		return fmt.Sprintf("task-to-execute(%s)", q.NodeID)
	case QuestionDatasetToTransfer:
		return fmt.Sprintf("dataset-to-transfer(%s,%s)", q.NodeID, q.Asset)
	case QuestionResultToTransfer:
		return fmt.Sprintf("result-to-transfer(%s)", q.Asset)
	default:
		return string(q.Kind)
	}
}

// ExecuteWorkflowQuestion asks whether a workflow, taken as a whole, may run.
func ExecuteWorkflowQuestion(workflow string) Question {
	return Question{Kind: QuestionExecuteWorkflow, Workflow: workflow}
}

// ExecuteTaskQuestion asks whether a single node may execute.
func ExecuteTaskQuestion(workflow string, node wir.Node) Question {
	return Question{Kind: QuestionExecuteTask, Workflow: workflow, NodeID: node.ID}
}

// DatasetToTransferQuestion asks whether asset may be transferred into
// node as one of its inputs (access-data with a task_id present).
func DatasetToTransferQuestion(workflow string, node wir.Node, asset string) Question {
	return Question{Kind: QuestionDatasetToTransfer, Workflow: workflow, NodeID: node.ID, Asset: asset}
}

// ResultToTransferQuestion asks whether a workflow's published result may
// be transferred to the recipient it was addressed to (access-data with
// no task_id: "workflow result transferred to submitter").
func ResultToTransferQuestion(workflow, asset, recipient string) Question {
	return Question{Kind: QuestionResultToTransfer, Workflow: workflow, Asset: asset, Recipient: recipient}
}
