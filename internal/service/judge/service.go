// Package judge evaluates conversations for social-skill demonstrations. It
// runs strictly off the primary turn path: results are advisory, failures are
// logged and dropped.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/hikkinomore/buddy-server/internal/model/chat"
	"github.com/hikkinomore/buddy-server/internal/model/skill"
	"github.com/hikkinomore/buddy-server/internal/store"
)

// ErrEmptyTranscript is returned when a session has no user-authored messages
// to evaluate. No judgement is fabricated or recorded in that case.
var ErrEmptyTranscript = errors.New("no user messages to evaluate")

const judgeSystemPrompt = `You are an expert social skills evaluator. Your job is to analyze conversations and identify when users demonstrate specific social skills.

Available Social Skills:
{skills}

Your task:
1. Review the conversation context provided
2. Identify if the user demonstrated any of the above social skills
3. Rate the demonstration on a scale from -1.0 to 1.0:
   - 1.0: Excellent demonstration of the skill
   - 0.5: Good demonstration with minor room for improvement
   - 0.0: Neutral or no clear demonstration
   - -0.5: Poor demonstration or missed opportunity
   - -1.0: Behavior that contradicts or undermines the skill

4. Provide a brief, specific reason for your rating
5. Indicate your confidence level (0.0 to 1.0) in the assessment

Important guidelines:
- Focus ONLY on the user's messages and behavior, not the assistant's
- Look for specific behaviors that demonstrate skills, not just topic discussion
- Consider context - what might be appropriate in one situation may not be in another
- If multiple skills are demonstrated, choose the most prominent one
- Return null for skill_type if no clear skill demonstration is observed

Respond with a single JSON object holding the keys skill_type, score, reason and confidence, and nothing else.`

const judgeUserPrompt = `Analyze this conversation for social skill demonstration:

{transcript}

Focus on the user's behavior and provide your evaluation.`

// evaluator is the slice of compose.Runnable the judge needs; narrowed so
// tests can fake the evaluation capability.
type evaluator interface {
	Invoke(ctx context.Context, input map[string]any, opts ...compose.Option) (*schema.Message, error)
}

// judgementPayload mirrors the JSON object the evaluator is asked to emit.
// Confidence is a pointer so an omitted field is distinguishable from a
// reported 0.0.
type judgementPayload struct {
	SkillType  *string  `json:"skill_type"`
	Score      float64  `json:"score"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

// Service reads a session's history, asks the evaluation chain for at most one
// demonstrated skill, and appends the judgement record.
type Service struct {
	log       *logrus.Logger
	store     store.Store
	catalog   *skill.Catalog
	evaluator evaluator
}

// NewService compiles the evaluation chain over the supplied chat model. The
// catalog is injected, not global, so deployments and tests can carry their
// own skill sets.
func NewService(ctx context.Context, chatModel model.ChatModel, catalog *skill.Catalog, st store.Store, log *logrus.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(judgeSystemPrompt),
		schema.UserMessage(judgeUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile judge chain: %w", err)
	}

	return &Service{
		log:       log,
		store:     st,
		catalog:   catalog,
		evaluator: runnable,
	}, nil
}

// Evaluate judges the session's transcript and records the resulting
// judgement, including a null skill type when no clear demonstration was
// observed. Sessions without user messages are skipped with
// ErrEmptyTranscript.
func (s *Service) Evaluate(ctx context.Context, sessionID string) (*skill.Judgement, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ReadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	transcript, userTurns := formatTranscript(history)
	if userTurns == 0 {
		return nil, ErrEmptyTranscript
	}

	input := map[string]any{
		"skills":     formatCatalog(s.catalog),
		"transcript": transcript,
	}

	msg, err := s.evaluator.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, errors.New("evaluator returned empty output")
	}

	payload, err := parseEvaluatorOutput(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("evaluator output unparseable: %w", err)
	}

	judgement := skill.Judgement{
		SessionID:  session.ID,
		UserID:     session.UserID,
		SkillType:  payload.SkillType,
		Score:      clamp(payload.Score, -1, 1),
		Confidence: normalizeConfidence(payload.Confidence),
		Reason:     strings.TrimSpace(payload.Reason),
	}

	if err := s.store.AddJudgement(ctx, judgement); err != nil {
		return nil, err
	}

	entry := s.log.WithFields(logrus.Fields{
		"session": session.ID,
		"user":    session.UserID,
		"score":   judgement.Score,
	})
	if judgement.SkillType != nil {
		entry = entry.WithField("skill", *judgement.SkillType)
	}
	entry.Info("skill judgement recorded")

	return &judgement, nil
}

// formatTranscript renders the history for the evaluator, dropping system
// preambles, and counts the user-authored lines.
func formatTranscript(history []chat.Message) (string, int) {
	var builder strings.Builder
	userTurns := 0
	for _, msg := range history {
		if msg.Role == chat.RoleSystem {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if msg.Role == chat.RoleUser {
			userTurns++
		}

		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(strings.ToUpper(msg.Role))
		if msg.Timestamp != nil {
			builder.WriteString(" [")
			builder.WriteString(msg.Timestamp.Format("15:04:05"))
			builder.WriteString("]")
		}
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	return builder.String(), userTurns
}

func formatCatalog(catalog *skill.Catalog) string {
	lines := make([]string, 0, catalog.Len())
	for _, sk := range catalog.List() {
		lines = append(lines, fmt.Sprintf("- %s: %s", sk.Name, sk.Description))
	}
	return strings.Join(lines, "\n")
}

// parseEvaluatorOutput extracts the JSON object from the model reply, which
// may be wrapped in prose or code fences.
func parseEvaluatorOutput(content string) (*judgementPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &judgementPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}

	// A quoted "null" or blank skill is the same as no skill.
	if payload.SkillType != nil {
		value := strings.TrimSpace(*payload.SkillType)
		if value == "" || strings.EqualFold(value, "null") || strings.EqualFold(value, "none") {
			payload.SkillType = nil
		} else {
			payload.SkillType = &value
		}
	}
	return payload, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeConfidence clamps a reported confidence into [0, 1]. A missing
// field defaults to full confidence; a reported zero is kept as is.
func normalizeConfidence(v *float64) float64 {
	if v == nil {
		return 1
	}
	return clamp(*v, 0, 1)
}
