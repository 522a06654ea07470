// Package skill defines the social-skill catalog and judgement records.
package skill

// Skill names one social skill the judge can credit, with the description
// handed to the evaluator.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is an ordered, read-only skill registry. It is constructed once and
// injected wherever it is needed; there is no process-wide singleton, so tests
// and deployments can carry their own catalogs.
type Catalog struct {
	skills []Skill
}

// NewCatalog copies the supplied skills into an immutable catalog.
func NewCatalog(skills []Skill) *Catalog {
	return &Catalog{skills: append([]Skill(nil), skills...)}
}

// List returns the catalog entries in registration order.
func (c *Catalog) List() []Skill {
	return append([]Skill(nil), c.skills...)
}

// Len returns the number of registered skills.
func (c *Catalog) Len() int {
	return len(c.skills)
}

// Default returns the stock catalog of ten social skills.
func Default() *Catalog {
	return NewCatalog([]Skill{
		{Name: "active_listening", Description: "Shows understanding by paraphrasing, asking clarifying questions, or reflecting back what was heard."},
		{Name: "assertiveness", Description: "Expresses opinions, needs, or boundaries clearly and respectfully without being aggressive or passive."},
		{Name: "empathy", Description: "Demonstrates understanding and acknowledgment of another person's feelings and perspectives."},
		{Name: "conversation_initiation", Description: "Starts conversations naturally and appropriately in social contexts."},
		{Name: "conflict_resolution", Description: "Addresses disagreements or tensions constructively and seeks mutually beneficial solutions."},
		{Name: "emotional_regulation", Description: "Manages own emotions appropriately in social situations, staying calm under pressure."},
		{Name: "social_awareness", Description: "Reads social cues, understands group dynamics, and adapts behavior to social context."},
		{Name: "encouragement", Description: "Provides positive support, validation, or motivation to others."},
		{Name: "boundary_setting", Description: "Clearly communicates personal limits and respects others' boundaries."},
		{Name: "small_talk", Description: "Engages in light, casual conversation to build rapport and maintain social connections."},
	})
}
