package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// swapped in tests
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

// Request describes one interactive question.
type Request struct {
	Field  string
	Label  string
	Secret bool
	// Validate rejects malformed answers. An empty answer is never validated: it means the
	// user dismissed the question.
	Validate func(string) error
}

// Prompter asks the user for a value. Implementations must return when ctx is done.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (string, error)
}

type PrompterFunc func(ctx context.Context, req Request) (string, error)

func (f PrompterFunc) Prompt(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// TerminalPrompter reads answers line by line. Secrets are read without echo when In is a
// terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	once   sync.Once
	reader *bufio.Reader

	mu      sync.Mutex
	pending chan lineResult
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

type lineResult struct {
	line string
	err  error
}

func (p *TerminalPrompter) Prompt(ctx context.Context, req Request) (string, error) {
	p.once.Do(func() { p.reader = bufio.NewReader(p.In) })

	for {
		_, _ = fmt.Fprintf(p.Out, "%s: ", req.Label)

		line, err := p.readLine(ctx, req.Secret)
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return "", nil
		}
		if req.Validate != nil {
			if verr := req.Validate(line); verr != nil {
				_, _ = fmt.Fprintf(p.Out, "invalid %s: %v\n", req.Field, verr)
				continue
			}
		}
		return line, nil
	}
}

// readLine keeps at most one read in flight; a read abandoned on cancellation is picked up by
// the next call.
func (p *TerminalPrompter) readLine(ctx context.Context, secret bool) (string, error) {
	p.mu.Lock()
	if p.pending == nil {
		ch := make(chan lineResult, 1)
		p.pending = ch
		go p.read(ch, secret)
	}
	pending := p.pending
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-pending:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()

		if r.err == io.EOF {
			// closed input is a dismissal
			return "", nil
		}
		if r.err != nil {
			return "", fmt.Errorf("auth: read input: %w", r.err)
		}
		return r.line, nil
	}
}

// read takes a secret from the terminal without echo, unless the user typed ahead and the
// line already sits in the buffer.
func (p *TerminalPrompter) read(out chan<- lineResult, secret bool) {
	if f, ok := p.In.(*os.File); ok && secret && p.reader.Buffered() == 0 && isTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out)
		out <- lineResult{line: string(b), err: err}
		return
	}
	line, err := p.reader.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	out <- lineResult{line: line, err: err}
}
