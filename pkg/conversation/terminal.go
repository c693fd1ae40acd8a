package conversation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal is a Prompter backed by a reader and writer, normally the process'
// stdin and stderr. Hidden prompts disable echo when the reader is a TTY.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, reader: bufio.NewReader(in)}
}

func (t *Terminal) Prompt(text string, style Style) (string, error) {
	if t.in == nil || t.out == nil {
		return "", ErrUnavailable
	}
	switch style {
	case TextInfo:
		_, err := fmt.Fprintln(t.out, text)
		return "", wrapFailed(err)
	case ErrorMsg:
		_, err := fmt.Fprintln(t.out, "Error: "+text)
		return "", wrapFailed(err)
	}

	if _, err := fmt.Fprint(t.out, text); err != nil {
		return "", wrapFailed(err)
	}
	if style == PromptEchoOff {
		if f, ok := t.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			line, err := term.ReadPassword(int(f.Fd()))
			_, _ = fmt.Fprintln(t.out)
			if err != nil {
				return "", wrapFailed(err)
			}
			return string(line), nil
		}
	}
	line, err := t.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", wrapFailed(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func wrapFailed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrFailed, err)
}
