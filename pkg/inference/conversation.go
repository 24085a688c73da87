package inference

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxExchanges bounds conversation memory per visitor.
const DefaultMaxExchanges = 10

const personaPrompt = `You are a friendly, knowledgeable docent guiding a visitor through the exhibits. Answer questions conversationally, as if speaking aloud. Keep responses short, two to four sentences, and avoid lists, markdown, and stage directions. If you do not know something, say so briefly.`

// Conversation holds per-visitor dialogue state used to build prompts.
// It is safe for concurrent use.
type Conversation struct {
	mu           sync.Mutex
	exchanges    []exchange
	maxExchanges int
	subject      string
	facts        []string
}

type exchange struct {
	user      string
	assistant string
}

// NewConversation creates an empty conversation with default memory bounds.
func NewConversation() *Conversation {
	return &Conversation{maxExchanges: DefaultMaxExchanges}
}

// SetSubject records what the visitor is currently looking at.
// An empty subject clears the exhibit context.
func (c *Conversation) SetSubject(subject string, facts []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subject = subject
	c.facts = facts
}

// Subject returns the current exhibit subject, if any.
func (c *Conversation) Subject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subject
}

// AddExchange appends a completed question/answer pair, evicting the
// oldest pair once the memory bound is reached.
func (c *Conversation) AddExchange(user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.exchanges = append(c.exchanges, exchange{user: user, assistant: assistant})
	if len(c.exchanges) > c.maxExchanges {
		c.exchanges = c.exchanges[len(c.exchanges)-c.maxExchanges:]
	}
}

// Len returns the number of remembered exchanges.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}

// Reset clears dialogue history but keeps the exhibit context.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = nil
}

// Messages builds the full prompt for the next user utterance:
// system persona (with exhibit context), remembered exchanges, then
// the new question.
func (c *Conversation) Messages(userText string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]Message, 0, len(c.exchanges)*2+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: c.systemPrompt()})

	for _, ex := range c.exchanges {
		msgs = append(msgs, Message{Role: RoleUser, Content: ex.user})
		msgs = append(msgs, Message{Role: RoleAssistant, Content: ex.assistant})
	}

	msgs = append(msgs, Message{Role: RoleUser, Content: userText})
	return msgs
}

// systemPrompt composes the persona with the active exhibit context.
// Callers must hold c.mu.
func (c *Conversation) systemPrompt() string {
	if c.subject == "" {
		return personaPrompt
	}

	var b strings.Builder
	b.WriteString(personaPrompt)
	fmt.Fprintf(&b, "\n\nThe visitor is currently standing in front of: %s.", c.subject)
	if len(c.facts) > 0 {
		b.WriteString(" Background notes you may draw on:")
		for _, fact := range c.facts {
			b.WriteString("\n- ")
			b.WriteString(fact)
		}
	}
	return b.String()
}
