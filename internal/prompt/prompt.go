package prompt

import (
	"fmt"
	"math"
	"strings"

	"github.com/purpose-labs/coach-gateway/internal/models"
)

// Coach styles a caller may select during onboarding.
const (
	StyleSupportive     = "supportive"
	StyleMotivational   = "motivational"
	StyleStrategic      = "strategic"
	StyleAccountability = "accountability"
)

var styleDescriptions = map[string]string{
	StyleSupportive:     "You are a warm, encouraging AI coach, always in the user's corner.",
	StyleMotivational:   "You are a high-energy, motivational AI coach.",
	StyleStrategic:      "You are an analytical, strategic AI coach.",
	StyleAccountability: "You are a direct, accountability-focused AI coach.",
}

const defaultPrompt = "You are an empathetic, insightful AI coach."

type BigFive struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`
}

type ValuesMeta struct {
	OpennessToChange  float64 `json:"opennessToChange"`
	SelfEnhancement   float64 `json:"selfEnhancement"`
	Conservation      float64 `json:"conservation"`
	SelfTranscendence float64 `json:"selfTranscendence"`
}

type Attachment struct {
	Style string `json:"style"`
}

type RegulatoryFocus struct {
	Promotion  float64 `json:"promotion"`
	Prevention float64 `json:"prevention"`
}

type SelfEfficacy struct {
	Score float64 `json:"score"`
}

// Profile is the caller's personality snapshot, scores 0-1 scaled
// unless noted.
type Profile struct {
	Personality     string           `json:"personality,omitempty"`
	BigFive         *BigFive         `json:"bigFive,omitempty"`
	ValuesMeta      *ValuesMeta      `json:"valuesMeta,omitempty"`
	Attachment      *Attachment      `json:"attachment,omitempty"`
	RegulatoryFocus *RegulatoryFocus `json:"regulatoryFocus,omitempty"`
	SelfEfficacy    *SelfEfficacy    `json:"selfEfficacy,omitempty"`
	Goals           string           `json:"goals,omitempty"`
}

// BuildSystemPrompt formats the completion provider's system prompt
// from the coach style and trait snapshot. Pure; no I/O.
func BuildSystemPrompt(profile *Profile, coachStyle string) string {
	base := defaultPrompt
	if coachStyle != "" && profile != nil && profile.Personality != "" {
		if desc, ok := styleDescriptions[profile.Personality]; ok {
			base = desc
		} else {
			base = styleDescriptions[StyleSupportive]
		}
	}

	if profile == nil {
		return base
	}

	var parts []string
	parts = append(parts, "\n\nUser Trait Snapshot (0-1 scaled unless noted):")

	if bf := profile.BigFive; bf != nil {
		parts = append(parts, fmt.Sprintf("• Big Five  O:%.2f  C:%.2f E:%.2f  A:%.2f  N:%.2f",
			bf.Openness, bf.Conscientiousness, bf.Extraversion, bf.Agreeableness, bf.Neuroticism))
	}
	if vm := profile.ValuesMeta; vm != nil {
		parts = append(parts, fmt.Sprintf("• Values  OTCh:%.2f  SE:%.2f Con:%.2f  ST:%.2f",
			vm.OpennessToChange, vm.SelfEnhancement, vm.Conservation, vm.SelfTranscendence))
	}
	if profile.Attachment != nil {
		parts = append(parts, fmt.Sprintf("• Attachment style: %s", profile.Attachment.Style))
	}
	if rf := profile.RegulatoryFocus; rf != nil {
		parts = append(parts, fmt.Sprintf("• Regulatory focus  promotion:%.2f prevention:%.2f",
			rf.Promotion, rf.Prevention))
	}
	if se := profile.SelfEfficacy; se != nil {
		raw := int(math.Round(se.Score*40 + 10))
		parts = append(parts, fmt.Sprintf("• Self-efficacy: %d/50", raw))
	}
	if profile.Goals != "" {
		parts = append(parts, fmt.Sprintf("\n• Goals: %s", profile.Goals))
	}

	if len(parts) == 1 {
		return base
	}

	return base + strings.Join(parts, "\n") + "\n\nAdapt language, goal framing, and accountability tactics accordingly."
}

// BuildBreakthroughPrompt formats the insight-analysis prompt over the
// last ten turns of a conversation.
func BuildBreakthroughPrompt(turns []models.Message) string {
	start := 0
	if len(turns) > 10 {
		start = len(turns) - 10
	}

	var lines []string
	for _, m := range turns[start:] {
		speaker := "Coach"
		if m.Role == models.RoleUser {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Content))
	}

	return fmt.Sprintf(`Analyze this coaching conversation and identify if there was a breakthrough moment or key insight. If yes, create a brief, inspiring memory card entry (max 50 words). If no significant breakthrough, respond with "none".

Conversation:
%s

Respond with JSON: {"hasBreakthrough": boolean, "title": "string", "insight": "string", "type": "realization|growth|milestone"}`, strings.Join(lines, "\n"))
}
