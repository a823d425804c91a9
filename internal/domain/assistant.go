package domain

import "context"

// RunStatus is the lifecycle status reported by the assistant backend.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether polling can stop. requires_action is terminal for
// us because no tool outputs are ever submitted.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return false
	}
	return true
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	LastError *RunError
}

// RunError is the failure reason attached to a run by the backend.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AssistantBackend is the stateful conversational-assistant API.
type AssistantBackend interface {
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID, text string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// LatestAssistantMessage returns the text of the most recent
	// assistant-authored message in the thread.
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

// Transcriber turns a decrypted audio file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Dispatcher delivers a reply to a chat. It reports whether a send was
// attempted; delivery failures are logged, never returned.
type Dispatcher interface {
	Send(ctx context.Context, text, destination string, isGroup bool) bool
}
