package domain

import "time"

// MatchRecord is the archived outcome of a committed pairing. It is written
// best-effort after both sides transition to matched and is never read back
// by the engine itself.
type MatchRecord struct {
	ID         int        `json:"id" db:"id"`
	Req1ID     string     `json:"req1_id" db:"req1_id"`
	Req2ID     string     `json:"req2_id" db:"req2_id"`
	User1ID    string     `json:"user1_id" db:"user1_id"`
	User2ID    string     `json:"user2_id" db:"user2_id"`
	Difficulty Difficulty `json:"difficulty" db:"difficulty"`
	SessionID  string     `json:"session_id" db:"session_id"`
	MatchedAt  time.Time  `json:"matched_at" db:"matched_at"`
}
