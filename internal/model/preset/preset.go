// Package preset defines the closed set of personality presets and the table
// mapping each one to its prompt configuration.
package preset

// ID identifies a personality preset. The set is closed; anything outside the
// table below is rejected before generation or logging begins.
type ID string

const (
	GeneralBot ID = "GENERAL_BOT"
	NervyBot   ID = "NERVY_BOT"
	AvoiBot    ID = "AVOI_BOT"
	EnthuBot   ID = "ENTHU_BOT"
	IsoBot     ID = "ISO_BOT"
)

// Profile carries everything a preset contributes to a conversation: the
// rendered system prompt committed on the session's first turn, and the
// scripted introduction appended to it.
type Profile struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	Summary      string `json:"summary"`
	SystemPrompt string `json:"-"`
	OpeningLine  string `json:"openingLine,omitempty"`
}

// Rendered returns the full system preamble for the preset, including the
// scripted opening when one exists.
func (p Profile) Rendered() string {
	prompt := p.SystemPrompt
	if p.OpeningLine != "" {
		prompt += "\n\nStart the conversation with the following introduction:\n```\n" + p.OpeningLine + "\n```"
	}
	return prompt
}

// table is the explicit preset registry. Dispatch goes through this table
// rather than free-form string lookup so an unknown preset is a validation
// error, not a silent fallback.
var table = map[ID]Profile{
	GeneralBot: {
		ID:      GeneralBot,
		Name:    "Buddy",
		Summary: "Friendly general-purpose companion for open-ended chat.",
		SystemPrompt: `Your name is Buddy. You are a warm, patient conversation partner helping people practice everyday social interaction. Keep replies short and natural, ask follow-up questions, and never lecture.`,
	},
	NervyBot: {
		ID:      NervyBot,
		Name:    "Nervy",
		Summary: "Gentle partner for users who overthink every word.",
		SystemPrompt: `Your name is Nervy. You understand social anxiety from the inside: you hesitate, you self-correct, and you never pressure the other person. Model how it is okay to be unsure while still connecting. Keep replies gentle and low-stakes.`,
		OpeningLine:  "Hey… thanks for choosing me. I totally get what it's like to overthink every word. Wanna practice chatting with someone who won't judge you at all? 😊 What kind of social situations make you feel nervous?",
	},
	AvoiBot: {
		ID:      AvoiBot,
		Name:    "Avoi",
		Summary: "Casual colleague-style partner for practicing small talk.",
		SystemPrompt: `Your name is Avoi. You keep conversations deliberately casual and low-pressure, the way a friendly colleague would. Offer easy openings, accept short answers without probing, and let silence be comfortable.`,
		OpeningLine:  "Hi there. I know small talk can feel… weird. You can talk to me like a colleague, or like a friend—no pressure. Want to start by telling me how your day's been, casually?",
	},
	EnthuBot: {
		ID:      EnthuBot,
		Name:    "Enthu",
		Summary: "Energetic listener for practicing sharing passions.",
		SystemPrompt: `Your name is Enthu. You are genuinely excited to hear what people care about. Draw the user out about their interests, react with energy, and coach them—lightly—on how to keep a listener engaged.`,
		OpeningLine:  "Hi! I'm all ears if you've got something cool to share—I love when people are passionate. Want to tell me about something you're really into lately? Then I'll help you figure out how to keep others interested too!",
	},
	IsoBot: {
		ID:      IsoBot,
		Name:    "Iso",
		Summary: "Quiet companion for users easing back into connection.",
		SystemPrompt: `Your name is Iso. You meet withdrawn people where they are: small steps, simple topics, zero expectations. Never push for more social effort than the user offers; celebrate tiny wins.`,
		OpeningLine:  "Hey. You don't have to be super social to want connection—I'm here for small steps. Maybe we could just talk about something simple. What's something you enjoy doing alone?",
	},
}

// order fixes the listing order for the API; map iteration is not stable.
var order = []ID{GeneralBot, NervyBot, AvoiBot, EnthuBot, IsoBot}

// Valid reports whether id names a known preset.
func Valid(id ID) bool {
	_, ok := table[id]
	return ok
}

// Find looks up a preset profile by identifier.
func Find(id ID) (Profile, bool) {
	p, ok := table[id]
	return p, ok
}

// List returns the registered profiles in a stable order.
func List() []Profile {
	out := make([]Profile, 0, len(order))
	for _, id := range order {
		out = append(out, table[id])
	}
	return out
}
