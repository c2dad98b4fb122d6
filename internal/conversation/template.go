// Package conversation renders chat turns into the single prompt string a
// worker consumes.
package conversation

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Role names carried by Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn. Pending marks an assistant turn still being generated.
type Message struct {
	Role    string
	Content string
	Pending bool
}

// Template turns a system prompt and message history into a prompt.
type Template interface {
	Prompt(system string, messages []Message) string
	StopSequences() []string
	Roles() (user, assistant string)
}

// RoleTagTemplate prefixes each turn with a role tag and separates turns with sep.
type RoleTagTemplate struct {
	SystemTag    string
	UserTag      string
	AssistantTag string
	Sep          string
}

// Default returns the "System:/User:/Assistant:" template.
func Default() RoleTagTemplate {
	return RoleTagTemplate{
		SystemTag:    "System",
		UserTag:      "User",
		AssistantTag: "Assistant",
		Sep:          "\n",
	}
}

// Prompt renders messages and ends with an open assistant tag so the worker
// continues as the assistant. A pending assistant turn renders as that open tag.
func (t RoleTagTemplate) Prompt(system string, messages []Message) string {
	var b strings.Builder
	if system = strings.TrimSpace(system); system != "" {
		b.WriteString(t.SystemTag + ": " + system)
	}
	for _, msg := range messages {
		if msg.Pending {
			break
		}
		tag := t.tagFor(msg.Role)
		if tag == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(t.Sep)
		}
		b.WriteString(tag + ": " + msg.Content)
	}
	if b.Len() > 0 {
		b.WriteString(t.Sep)
	}
	b.WriteString(t.AssistantTag + ":")
	return b.String()
}

// StopSequences stops generation when the worker starts a new user turn.
func (t RoleTagTemplate) StopSequences() []string {
	return []string{t.Sep + t.UserTag + ":"}
}

// Roles returns the user and assistant tags.
func (t RoleTagTemplate) Roles() (string, string) {
	return t.UserTag, t.AssistantTag
}

func (t RoleTagTemplate) tagFor(role string) string {
	switch role {
	case RoleUser:
		return t.UserTag
	case RoleAssistant:
		return t.AssistantTag
	case RoleSystem:
		return t.SystemTag
	default:
		return ""
	}
}

// FromOpenAIMessages converts an OpenAI messages array. System messages are
// joined into the returned system prompt; content may be a string or an array
// of parts, of which only text parts are kept.
func FromOpenAIMessages(messages gjson.Result) (string, []Message) {
	var systemParts []string
	out := make([]Message, 0, len(messages.Array()))
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := strings.ToLower(msg.Get("role").String())
		content := contentText(msg.Get("content"))
		switch role {
		case RoleSystem, "developer":
			if content != "" {
				systemParts = append(systemParts, content)
			}
		case RoleUser, RoleAssistant:
			out = append(out, Message{Role: role, Content: content})
		}
		return true
	})
	return strings.Join(systemParts, "\n"), out
}

func contentText(content gjson.Result) string {
	if !content.IsArray() {
		return content.String()
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			parts = append(parts, part.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}
