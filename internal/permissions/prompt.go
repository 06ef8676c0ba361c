package permissions

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Prompt asks a human once and remembers the answer for the life of the
// process.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex // serializes questions
	stateMu sync.Mutex
	status  Status
}

// NewPrompt asks on out and reads answers from in.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// NewTerminalPrompt prompts on the controlling terminal. It fails when
// stdin is not a terminal since nobody could answer.
func NewTerminalPrompt() (*Prompt, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("permission prompt requires an interactive terminal")
	}
	return NewPrompt(os.Stdin, os.Stderr), nil
}

func (p *Prompt) Status() Status {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.status
}

func (p *Prompt) RequestAccess(completion func(granted bool)) {
	go func() {
		completion(p.ask())
	}()
}

func (p *Prompt) ask() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st := p.Status(); st != StatusNotDetermined {
		return st == StatusAuthorized
	}

	fmt.Fprint(p.out, "Allow access to the front camera? [y/N] ")
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		// No answer is a denial, but not a remembered one.
		return false
	}

	granted := false
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		granted = true
	}

	p.stateMu.Lock()
	if granted {
		p.status = StatusAuthorized
	} else {
		p.status = StatusDenied
	}
	p.stateMu.Unlock()
	return granted
}
