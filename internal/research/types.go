package research

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a research job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidBudget is returned when breadth or depth is negative.
var ErrInvalidBudget = errors.New("research: breadth and depth must be non-negative")

// QA is one clarifying question and the answer the requester gave.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Job is a persisted research request.
type Job struct {
	ID               string        `json:"id"`
	Owner            string        `json:"owner,omitempty"`
	Title            string        `json:"title,omitempty"`
	Query            string        `json:"query"`
	Questions        []QA          `json:"questions"`
	Depth            int           `json:"depth"`
	Breadth          int           `json:"breadth"`
	InitialLearnings string        `json:"initial_learnings,omitempty"`
	WebSearch        bool          `json:"web_search"`
	IndexID          string        `json:"index_id,omitempty"`
	Status           Status        `json:"status"`
	Result           string        `json:"result,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Snapshot returns the immutable view handed to the engine.
func (j Job) Snapshot() JobSnapshot {
	qs := make([]QA, len(j.Questions))
	copy(qs, j.Questions)
	return JobSnapshot{
		ID:               j.ID,
		Query:            j.Query,
		Questions:        qs,
		Depth:            j.Depth,
		Breadth:          j.Breadth,
		InitialLearnings: j.InitialLearnings,
		WebSearch:        j.WebSearch,
		IndexID:          j.IndexID,
	}
}

// JobSnapshot is the engine's input. It is copied into workflow history, so
// every field must be serializable.
type JobSnapshot struct {
	ID               string `json:"id"`
	Query            string `json:"query"`
	Questions        []QA   `json:"questions"`
	Depth            int    `json:"depth"`
	Breadth          int    `json:"breadth"`
	InitialLearnings string `json:"initial_learnings,omitempty"`
	WebSearch        bool   `json:"web_search"`
	IndexID          string `json:"index_id,omitempty"`
}

// SeedLearnings splits the pre-supplied learnings, one per non-blank line.
func (s JobSnapshot) SeedLearnings() []string {
	if strings.TrimSpace(s.InitialLearnings) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s.InitialLearnings, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// PlannedQuery is one search the planner wants executed.
type PlannedQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// Document is one piece of evidence returned by an evidence source.
type Document struct {
	Source  string `json:"source"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// LearningBatch is the extractor's output for one query.
type LearningBatch struct {
	Learnings         []string `json:"learnings"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

// StatusEvent is an append-only progress message for a job.
type StatusEvent struct {
	JobID     string    `json:"job_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EvidenceKind selects which evidence provider a driver pass uses.
type EvidenceKind string

const (
	EvidenceWeb   EvidenceKind = "web"
	EvidenceIndex EvidenceKind = "index"
)
