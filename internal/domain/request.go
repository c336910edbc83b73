package domain

import "time"

// Difficulty is the tier a request is matched within. Cross-tier matches
// are never allowed.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists every valid tier, in ascending order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Status is the lifecycle state of a match request. Once a request leaves
// StatusQueued it never changes again.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusMatched   Status = "matched"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

func (s Status) Terminal() bool {
	return s == StatusMatched || s == StatusCancelled || s == StatusTimeout
}

// MatchRequest is one user's pending (or resolved) pairing request.
// SessionID is set if and only if Status is StatusMatched.
type MatchRequest struct {
	ID         string     `json:"reqId"`
	UserID     string     `json:"userId"`
	Difficulty Difficulty `json:"difficulty"`
	Topics     []string   `json:"topics"`
	Languages  []string   `json:"languages"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	SessionID  string     `json:"sessionId,omitempty"`
	AuthToken  string     `json:"-"`
}

// SessionInfo is what the session-creation collaborator returns for a
// committed pairing.
type SessionInfo struct {
	SessionID         string `json:"sessionId"`
	QuestionID        string `json:"questionId,omitempty"`
	QuestionMatchType string `json:"questionMatchType,omitempty"`
	Language          string `json:"language,omitempty"`
}

// StatusEvent is one entry on a request's live status stream: the initial
// snapshot, a periodic heartbeat while queued, or a single terminal event.
type StatusEvent struct {
	ReqID             string  `json:"reqId"`
	Status            Status  `json:"status"`
	Elapsed           float64 `json:"elapsed,omitempty"`
	SessionID         string  `json:"sessionId,omitempty"`
	QuestionID        string  `json:"questionId,omitempty"`
	QuestionMatchType string  `json:"questionMatchType,omitempty"`
	Language          string  `json:"language,omitempty"`
}

// Intersects reports whether two string sets share at least one element.
// Inputs are normalized at creation time; no trimming happens here.
func Intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// Union returns the deduplicated union of two string sets, preserving
// first-seen order.
func Union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
