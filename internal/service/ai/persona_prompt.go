package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-lens/backend/internal/model/feedback"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
)

const roleplayInstructions = "You are roleplaying as a specific person whose profile is given below. " +
	"Answer the user's questions from this person's perspective, staying in character and using " +
	"their values, beliefs, lifestyle and personality traits to inform your responses. " +
	"Speak in the first person, keep answers concrete and conversational, and never mention that you are an AI or a simulation."

// GroundingPrompt builds the fixed system prompt of a chat session.
func GroundingPrompt(rec persona.Record, productDescription string) string {
	var b strings.Builder
	b.WriteString(roleplayInstructions)
	b.WriteString("\n\n<PROFILE>\n")
	writeProfile(&b, rec)
	b.WriteString("</PROFILE>\n")

	if product := strings.TrimSpace(productDescription); product != "" {
		b.WriteString("\nThe conversation is about the following product. Judge it the way this person would.\n<PRODUCT>\n")
		b.WriteString(product)
		b.WriteString("\n</PRODUCT>\n")
	}
	return b.String()
}

// FeedbackSystemPrompt instructs the model to answer with the feedback JSON
// object only.
const FeedbackSystemPrompt = "You simulate a real consumer and must output strictly valid JSON that matches the requested schema. " +
	"Do not invent brands, prices or statistics. Keep every explanation concrete, first person and 1-3 sentences."

// FeedbackPrompt builds the user prompt asking rec to score a product.
func FeedbackPrompt(rec persona.Record, productDescription string) string {
	var b strings.Builder
	b.WriteString("<PROFILE>\n")
	writeProfile(&b, rec)
	b.WriteString("</PROFILE>\n\n<PRODUCT>\n")
	b.WriteString(strings.TrimSpace(productDescription))
	b.WriteString("\n</PRODUCT>\n\n")
	fmt.Fprintf(&b, `Rate the product as this person on three dimensions, each an integer score from %d (lowest) to %d (highest):
- purchase_intent: how likely this person is to buy the product.
- product_rating: how good this person thinks the product is.
- idea_relevance: how relevant the product idea is to this person's life.

Return ONLY this JSON object:
{"purchase_intent": {"score": S, "explanation": "..."}, "product_rating": {"score": S, "explanation": "..."}, "idea_relevance": {"score": S, "explanation": "..."}}
`, feedback.MinScore, feedback.MaxScore)
	return b.String()
}

func writeProfile(b *strings.Builder, rec persona.Record) {
	d := rec.Demographics
	fields := []struct{ label, value string }{
		{"Gender", d.Gender},
		{"Age", d.Age},
		{"Marital status", d.MaritalStatus},
		{"Income", d.Income},
		{"Employment status", d.EmploymentStatus},
	}
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			fmt.Fprintf(b, "%s: %s\n", f.label, v)
		}
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(b, "Traits: %s\n", strings.Join(rec.Tags, ", "))
	}
	if summary := strings.TrimSpace(rec.Summary); summary != "" {
		b.WriteString("Biography: ")
		b.WriteString(summary)
		b.WriteString("\n")
	}
}
