package model

// EventType names the domain events emitted after finalization.
type EventType string

const (
	// EventJudged is emitted for every finalized submission.
	EventJudged EventType = "judged"
	// EventAccepted is emitted when the verdict is ACCEPTED.
	EventAccepted EventType = "accepted"
	// EventFirstSolved is emitted on the user's first ever ACCEPTED
	// verdict for the problem.
	EventFirstSolved EventType = "first_solved"
)

// JudgeEvent is the payload broadcast to statistics/ranking consumers.
type JudgeEvent struct {
	Type         EventType `json:"type"`
	SubmissionID string    `json:"submission_id"`
	UserID       int64     `json:"user_id"`
	ProblemID    int64     `json:"problem_id"`
	Language     string    `json:"language"`
	Status       Status    `json:"status"`
	Score        int       `json:"score"`
	CreatedAt    int64     `json:"created_at"`
}
