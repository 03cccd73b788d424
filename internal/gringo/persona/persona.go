// Package persona parameterises the tutor's fixed instructions by target
// language and difficulty.
//
// A Persona is a plain value resolved from the catalogue and the user's
// stored Profile; the tutor reads it to build its system instruction,
// starter instruction, reminder phrase and welcome message.
package persona

import (
	"fmt"
	"strings"
	"time"
)

// Profile is a user's persisted choice of language and difficulty. It lives
// in the same storage as the message log, keyed by UserKey.
type Profile struct {
	UserKey        string
	TargetLanguage string // catalogue key, e.g. "english"
	Difficulty     string // catalogue key, e.g. "easy"
	UpdatedAt      time.Time
}

// Persona is the resolved tutoring configuration for one request.
type Persona struct {
	TargetLanguage string // display name, e.g. "English"
	SourceLanguage string // display name of the learner's language
	Difficulty     string // level name, e.g. "beginner"
	WelcomeMessage string

	languageKey   string
	difficultyKey string
}

// LanguageKey returns the catalogue key the persona was resolved from.
func (p Persona) LanguageKey() string { return p.languageKey }

// DifficultyKey returns the catalogue difficulty key, e.g. "easy".
func (p Persona) DifficultyKey() string { return p.difficultyKey }

// SystemInstruction is the leading system message of every continued
// conversation: tutor persona plus the correction directive.
func (p Persona) SystemInstruction() string {
	return strings.Join([]string{
		fmt.Sprintf("Be my %s Tutor.", p.TargetLanguage),
		fmt.Sprintf("Converse with me in %s and correct my %s when I make mistakes.", p.TargetLanguage, p.TargetLanguage),
		fmt.Sprintf("Keep your %s at %s level.", p.TargetLanguage, p.Difficulty),
	}, " ")
}

// StarterInstruction asks for an opening line about topic without any
// surrounding context.
func (p Persona) StarterInstruction(topic string) string {
	return strings.Join([]string{
		fmt.Sprintf("Generate a conversation starter in %s %s about %s.", p.Difficulty, p.TargetLanguage, topic),
		"Don't include quotation marks or context, only respond with the conversation starter.",
	}, " ")
}

// Reminder is appended to the latest user turn so the correction directive
// stays close to the end of the context window.
func (p Persona) Reminder() string {
	return fmt.Sprintf("(Remember to correct my mistakes if I made any, then continue the conversation using %s %s)",
		p.Difficulty, p.TargetLanguage)
}
