package auth

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	formLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	formHintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	formErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// FormPrompter renders a one-field terminal form. Esc or ctrl+c dismisses it, which
// answers with the empty string.
type FormPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p FormPrompter) Prompt(ctx context.Context, req Request) (string, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}

	final, err := tea.NewProgram(newFormModel(req), opts...).Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		return "", fmt.Errorf("auth: form: %w", err)
	}

	m, ok := final.(formModel)
	if !ok {
		return "", errors.New("auth: form returned unexpected model")
	}
	if m.dismissed {
		return "", nil
	}
	return m.value, nil
}

type formModel struct {
	req       Request
	input     textinput.Model
	err       error
	value     string
	dismissed bool
	done      bool
}

func newFormModel(req Request) formModel {
	in := textinput.New()
	in.Placeholder = req.Field
	in.CharLimit = 256
	in.Width = 64
	if req.Secret {
		in.EchoMode = textinput.EchoPassword
		in.EchoCharacter = '•'
	}
	in.Focus()
	return formModel{req: req, input: in}
}

func (m formModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m formModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			m.dismissed = true
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			v := m.input.Value()
			if v != "" && m.req.Validate != nil {
				if err := m.req.Validate(v); err != nil {
					m.err = err
					return m, nil
				}
			}
			m.value = v
			m.done = true
			return m, tea.Quit
		}
		m.err = nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m formModel) View() string {
	if m.done {
		return ""
	}
	out := formLabelStyle.Render(m.req.Label) + "\n" + m.input.View() + "\n"
	if m.err != nil {
		out += formErrStyle.Render(m.err.Error()) + "\n"
	}
	return out + formHintStyle.Render("enter to confirm, esc to skip") + "\n"
}
