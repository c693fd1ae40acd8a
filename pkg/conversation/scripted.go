package conversation

import (
	"fmt"
	"sync"
)

// Message is one exchange recorded by Scripted.
type Message struct {
	Text  string
	Style Style
}

// Scripted is an in-memory Prompter. Answers are consumed in order by prompt
// styles; informational and error messages consume nothing.
type Scripted struct {
	mu         sync.Mutex
	answers    []string
	transcript []Message
	failAt     int
	failStyle  Style
	failErr    error
}

// NewScripted returns a Prompter that answers prompts with answers in order.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: answers, failAt: -1}
}

// FailAt makes the n-th call (zero based) fail with err.
func (s *Scripted) FailAt(n int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
	s.failErr = err
	return s
}

// FailOn makes every call with style fail with err.
func (s *Scripted) FailOn(style Style, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStyle = style
	s.failErr = err
	return s
}

func (s *Scripted) Prompt(text string, style Style) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.transcript)
	s.transcript = append(s.transcript, Message{Text: text, Style: style})
	if call == s.failAt || (s.failStyle != 0 && style == s.failStyle) {
		return "", s.failErr
	}
	if !style.CollectsInput() {
		return "", nil
	}
	if len(s.answers) == 0 {
		return "", fmt.Errorf("%w: no scripted answer for %q", ErrFailed, text)
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Transcript returns every message shown so far.
func (s *Scripted) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.transcript...)
}

// Styles returns the style of every message shown so far.
func (s *Scripted) Styles() []Style {
	s.mu.Lock()
	defer s.mu.Unlock()
	styles := make([]Style, 0, len(s.transcript))
	for _, m := range s.transcript {
		styles = append(styles, m.Style)
	}
	return styles
}
