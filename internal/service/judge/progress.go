package judge

import (
	"context"
	"sort"
)

// Scoring constants for mastery tracking.
const (
	// MasteryThreshold is the weighted score a skill must reach.
	MasteryThreshold = 0.8
	// RecencyAlpha weights recent scores over older ones.
	RecencyAlpha = 0.7
	// MinScoresForMastery is how many judgements a skill needs before
	// mastery is considered at all.
	MinScoresForMastery = 3
)

// SkillStatus summarizes one skill's progress for a user.
type SkillStatus struct {
	WeightedScore    float64  `json:"weightedScore"`
	Mastered         bool     `json:"mastered"`
	TotalEvaluations int      `json:"totalEvaluations"`
	LatestScore      *float64 `json:"latestScore"`
}

// Summary aggregates a user's progress across the whole catalog.
type Summary struct {
	TotalSkills      int                    `json:"totalSkills"`
	MasteredSkills   int                    `json:"masteredSkills"`
	SkillsInProgress int                    `json:"skillsInProgress"`
	Skills           map[string]SkillStatus `json:"skills"`
	TopSkills        []string               `json:"topSkills"`
}

// WeightedScore folds scores, ordered oldest first, into an exponentially
// recency-weighted average.
func WeightedScore(scores []float64, alpha float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	weighted := scores[0]
	for _, score := range scores[1:] {
		weighted = alpha*score + (1-alpha)*weighted
	}
	return weighted
}

// Mastered reports whether a skill's score history clears the mastery bar.
func Mastered(scores []float64) bool {
	if len(scores) < MinScoresForMastery {
		return false
	}
	return WeightedScore(scores, RecencyAlpha) >= MasteryThreshold
}

// UserSummary computes the user's skill progress from their judgement history.
// Judgements with a null skill type carry no progress signal and are left out.
func (s *Service) UserSummary(ctx context.Context, userID string) (Summary, error) {
	judgements, err := s.store.ListJudgements(ctx, userID, "")
	if err != nil {
		return Summary{}, err
	}

	// ListJudgements orders ascending by creation time, so per-skill score
	// slices are already oldest first.
	scoresBySkill := make(map[string][]float64)
	for _, j := range judgements {
		if j.SkillType == nil {
			continue
		}
		scoresBySkill[*j.SkillType] = append(scoresBySkill[*j.SkillType], j.Score)
	}

	summary := Summary{
		TotalSkills: s.catalog.Len(),
		Skills:      make(map[string]SkillStatus, s.catalog.Len()),
	}
	for _, sk := range s.catalog.List() {
		scores := scoresBySkill[sk.Name]
		status := SkillStatus{
			WeightedScore:    WeightedScore(scores, RecencyAlpha),
			Mastered:         Mastered(scores),
			TotalEvaluations: len(scores),
		}
		if len(scores) > 0 {
			latest := scores[len(scores)-1]
			status.LatestScore = &latest
		}

		if status.Mastered {
			summary.MasteredSkills++
		} else if status.TotalEvaluations > 0 {
			summary.SkillsInProgress++
		}
		summary.Skills[sk.Name] = status
	}
	summary.TopSkills = TopSkills(summary, 3)
	return summary, nil
}

// TopSkills returns up to n skill names from the summary ranked by weighted
// score, skipping skills with no evaluations.
func TopSkills(summary Summary, n int) []string {
	type ranked struct {
		name  string
		score float64
	}

	candidates := make([]ranked, 0, len(summary.Skills))
	for name, status := range summary.Skills {
		if status.TotalEvaluations == 0 {
			continue
		}
		candidates = append(candidates, ranked{name: name, score: status.WeightedScore})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	names := make([]string, 0, n)
	for _, c := range candidates[:n] {
		names = append(names, c.name)
	}
	return names
}
