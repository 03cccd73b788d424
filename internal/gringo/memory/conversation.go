// Package memory implements the conversation context engine's pure parts:
// the record and turn types, reconstruction of the active conversation from
// a user's append-only message log, and trimming of that conversation to a
// token budget.
//
// Nothing in this package keeps state between calls. The message log is the
// single source of truth; every view is derived from it on demand.
package memory

import "time"

// Kind classifies a record in the message log.
type Kind string

const (
	KindUserMessage Kind = "user_message"
	KindBotMessage  Kind = "bot_message"
	KindSystem      Kind = "system"
	KindUserReset   Kind = "user_reset"
	KindBotReset    Kind = "bot_reset"
)

// Valid reports whether k is one of the known record kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUserMessage, KindBotMessage, KindSystem, KindUserReset, KindBotReset:
		return true
	}
	return false
}

// IsReset reports whether k marks a conversation boundary rather than content.
func (k Kind) IsReset() bool {
	return k == KindUserReset || k == KindBotReset
}

// Role is the speaker of a conversation turn as the generation service sees it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Record is one immutable entry of a user's message log.
type Record struct {
	ID        int64     // append order within the backend; breaks timestamp ties
	UserKey   string    // conversant identity; every query is scoped by it
	Content   string    // text payload
	Timestamp time.Time // non-decreasing per user at insertion time
	Kind      Kind
}

// Turn is one role-tagged unit of conversation derived from a Record.
type Turn struct {
	Role    Role
	Content string
}

// roleForKind maps content kinds to turn roles. Reset kinds are absent:
// they are boundaries, not turns.
var roleForKind = map[Kind]Role{
	KindUserMessage: RoleUser,
	KindBotMessage:  RoleAssistant,
	KindSystem:      RoleSystem,
}

// RoleFor returns the turn role for a content kind. ok is false for reset
// kinds and unknown values.
func RoleFor(k Kind) (role Role, ok bool) {
	role, ok = roleForKind[k]
	return role, ok
}
