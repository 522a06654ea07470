package skill

import "time"

// Judgement is one scored assessment of whether a user message demonstrated a
// cataloged skill. A nil SkillType means the judge saw no clear demonstration
// this turn; such records are still persisted for longitudinal analysis.
// Judgements are append-only and never mutated.
type Judgement struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	SkillType  *string   `json:"skillType"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}
