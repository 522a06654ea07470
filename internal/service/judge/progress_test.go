package judge

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/hikkinomore/buddy-server/internal/model/skill"
)

func TestWeightedScore(t *testing.T) {
	if got := WeightedScore(nil, RecencyAlpha); got != 0 {
		t.Fatalf("empty scores: got %v want 0", got)
	}
	if got := WeightedScore([]float64{0.4}, RecencyAlpha); got != 0.4 {
		t.Fatalf("single score: got %v want 0.4", got)
	}

	// 0.7*0.8 + 0.3*(0.7*0.6 + 0.3*0.2) = 0.704
	got := WeightedScore([]float64{0.2, 0.6, 0.8}, RecencyAlpha)
	if math.Abs(got-0.704) > 1e-9 {
		t.Fatalf("weighted score: got %v want 0.704", got)
	}
}

func TestMastered(t *testing.T) {
	if Mastered([]float64{1, 1}) {
		t.Fatal("two scores should never count as mastery")
	}
	if !Mastered([]float64{0.9, 0.9, 0.9}) {
		t.Fatal("consistent high scores should be mastery")
	}
	if Mastered([]float64{0.9, 0.9, 0.1}) {
		t.Fatal("a recent low score should break mastery")
	}
	// An old low score is outweighed by recent high ones.
	if !Mastered([]float64{0.1, 0.9, 0.9, 0.9}) {
		t.Fatal("recovery after an early low score should be mastery")
	}
}

func TestUserSummary(t *testing.T) {
	svc, st := newTestJudge(t, &fakeEvaluator{})
	ctx := context.Background()

	seedTurn(t, st, "s1")

	empathy := "empathy"
	smallTalk := "small_talk"
	base := time.Now().UTC().Add(-time.Hour)
	records := []struct {
		skill *string
		score float64
	}{
		{&empathy, 0.9},
		{&empathy, 0.9},
		{&empathy, 0.9},
		{&smallTalk, 0.3},
		{nil, 0.8}, // no-skill judgements carry no progress signal
	}
	for i, r := range records {
		j := skill.Judgement{
			SessionID:  "s1",
			UserID:     "u1",
			SkillType:  r.skill,
			Score:      r.score,
			Confidence: 0.9,
			Reason:     "seeded",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.AddJudgement(ctx, j); err != nil {
			t.Fatalf("AddJudgement err: %v", err)
		}
	}

	summary, err := svc.UserSummary(ctx, "u1")
	if err != nil {
		t.Fatalf("UserSummary err: %v", err)
	}

	if summary.TotalSkills != skill.Default().Len() {
		t.Fatalf("total skills: got %d want %d", summary.TotalSkills, skill.Default().Len())
	}
	if summary.MasteredSkills != 1 {
		t.Fatalf("mastered: got %d want 1", summary.MasteredSkills)
	}
	if summary.SkillsInProgress != 1 {
		t.Fatalf("in progress: got %d want 1", summary.SkillsInProgress)
	}

	empathyStatus := summary.Skills["empathy"]
	if !empathyStatus.Mastered || empathyStatus.TotalEvaluations != 3 {
		t.Fatalf("empathy status: %+v", empathyStatus)
	}
	smallTalkStatus := summary.Skills["small_talk"]
	if smallTalkStatus.Mastered || smallTalkStatus.TotalEvaluations != 1 {
		t.Fatalf("small_talk status: %+v", smallTalkStatus)
	}
	if smallTalkStatus.LatestScore == nil || *smallTalkStatus.LatestScore != 0.3 {
		t.Fatalf("small_talk latest score: %v", smallTalkStatus.LatestScore)
	}

	top := TopSkills(summary, 1)
	if len(top) != 1 || top[0] != "empathy" {
		t.Fatalf("top skills: %v", top)
	}
	if len(summary.TopSkills) != 2 || summary.TopSkills[0] != "empathy" || summary.TopSkills[1] != "small_talk" {
		t.Fatalf("summary top skills: %v", summary.TopSkills)
	}
}
