package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Repository events
	EventRepoCreated   EventType = "REPO_CREATED"
	EventBranchCreated EventType = "BRANCH_CREATED"
	EventBranchDeleted EventType = "BRANCH_DELETED"
	EventPushCompleted EventType = "PUSH_COMPLETED"
	EventTagCreated    EventType = "TAG_CREATED"
	EventTagDeleted    EventType = "TAG_DELETED"

	// Pull request events
	EventPullRequestOpened EventType = "PULL_REQUEST_OPENED"
	EventPullRequestMerged EventType = "PULL_REQUEST_MERGED"
	EventPullRequestClosed EventType = "PULL_REQUEST_CLOSED"

	// Variation events
	EventVariationCommitted EventType = "VARIATION_COMMITTED"
	EventVariationFailed    EventType = "VARIATION_FAILED"
)

// EventStatus defines the status of a domain event.
type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusCompleted EventStatus = "COMPLETED"
	EventStatusFailed    EventStatus = "FAILED"
)

// DomainEvent represents an immutable domain event.
// Claim-check pattern: payloads are small JSON references, not state.
type DomainEvent struct {
	EventID       string      `json:"event_id"`
	EventType     EventType   `json:"event_type"`
	AggregateType string      `json:"aggregate_type"`
	AggregateID   string      `json:"aggregate_id"`
	Payload       []byte      `json:"payload"`
	Status        EventStatus `json:"status"`
	CreatedBy     string      `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

// PushPayload is the payload for push events.
type PushPayload struct {
	RepoID      string `json:"repo_id"`
	Branch      string `json:"branch"`
	NewHead     string `json:"new_head"`
	CommitCount int    `json:"commit_count"`
	ObjectCount int    `json:"object_count"`
	Forced      bool   `json:"forced"`
	Actor       string `json:"actor"`
}

// ToJSON converts payload to JSON bytes.
func (p PushPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PullRequestPayload is the payload for pull request lifecycle events.
type PullRequestPayload struct {
	RepoID        string `json:"repo_id"`
	Number        int    `json:"number"`
	FromBranch    string `json:"from_branch"`
	ToBranch      string `json:"to_branch"`
	MergeCommitID string `json:"merge_commit_id,omitempty"`
	Actor         string `json:"actor"`
}

// ToJSON converts payload to JSON bytes.
func (p PullRequestPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// RefPayload is the payload for branch and tag events.
type RefPayload struct {
	RepoID   string `json:"repo_id"`
	Ref      string `json:"ref"`
	CommitID string `json:"commit_id,omitempty"`
	Actor    string `json:"actor"`
}

// ToJSON converts payload to JSON bytes.
func (p RefPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// VariationEventPayload is the payload for variation lifecycle events.
type VariationEventPayload struct {
	VariationID    string `json:"variation_id"`
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id"`
	NewStateID     string `json:"new_state_id,omitempty"`
	PhraseCount    int    `json:"phrase_count"`
	Actor          string `json:"actor"`
}

// ToJSON converts payload to JSON bytes.
func (p VariationEventPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
