// Package conversation is the narrow channel through which a login attempt
// talks to the operator: masked and visible prompts plus informational and
// error messages, delivered synchronously by the calling host.
package conversation

import "errors"

// Style selects how the host renders a message.
type Style int

const (
	// PromptEchoOff collects input without echoing it.
	PromptEchoOff Style = iota + 1
	// PromptEchoOn collects visible input.
	PromptEchoOn
	// ErrorMsg displays an error; no input is collected.
	ErrorMsg
	// TextInfo displays information; no input is collected.
	TextInfo
)

func (s Style) String() string {
	switch s {
	case PromptEchoOff:
		return "prompt-echo-off"
	case PromptEchoOn:
		return "prompt-echo-on"
	case ErrorMsg:
		return "error"
	case TextInfo:
		return "info"
	default:
		return "unknown"
	}
}

// CollectsInput reports whether the style expects an answer.
func (s Style) CollectsInput() bool {
	return s == PromptEchoOff || s == PromptEchoOn
}

var (
	// ErrUnavailable is returned when the host offers no conversation.
	ErrUnavailable = errors.New("conversation unavailable")
	// ErrFailed is returned when the host's conversation reports failure.
	ErrFailed = errors.New("conversation failed")
)

// Prompter shows text to the operator and, for prompt styles, returns the
// line they entered. It blocks until the host answers and never retries.
type Prompter interface {
	Prompt(text string, style Style) (string, error)
}

// Info displays an informational message.
func Info(p Prompter, text string) error {
	_, err := p.Prompt(text, TextInfo)
	return err
}

// Error displays an error message.
func Error(p Prompter, text string) error {
	_, err := p.Prompt(text, ErrorMsg)
	return err
}
