package cliui

import (
	"fmt"
	"io"
	"strings"

	"github.com/papercomputeco/oryx/pkg/oryx"
)

// TurnOptions controls RenderTurn.
type TurnOptions struct {
	// Markdown renders the agent answer with glamour; otherwise it is
	// printed as is.
	Markdown bool

	// Width is the wrap width for markdown output.
	Width int

	// ShowThinking includes thinking summaries and content.
	ShowThinking bool

	// OmitPrompt skips the user prompt line, for hosts that already echoed it.
	OmitPrompt bool
}

// RenderTurn writes a finished (or interrupted) turn: the prompt, the
// intermediate steps, the agent answer and the sources it cited.
func RenderTurn(w io.Writer, id string, st *oryx.State, opts TurnOptions) error {
	if st == nil {
		return nil
	}
	var b strings.Builder

	if st.UserMessage != nil && !opts.OmitPrompt {
		fmt.Fprintf(&b, "%s %s\n", UserStyle.Render("you"), st.UserMessage.Content)
	}
	if st.ReformulatedQuery != "" {
		fmt.Fprintf(&b, "  %s\n", DimStyle.Render("searched for: "+st.ReformulatedQuery))
	}

	for _, ws := range st.WorkflowSteps {
		name := ws.Name
		if name == "" {
			name = ws.ID
		}
		fmt.Fprintf(&b, "  %s %s %s\n", stepMark(string(ws.Status)), name, DimStyle.Render("("+string(ws.Status)+")"))
	}

	for _, tc := range st.ToolCalls {
		line := fmt.Sprintf("  %s tool %s %s", stepMark(string(tc.Status)), KeyStyle.Render(tc.Name), DimStyle.Render("("+string(tc.Status)+")"))
		if tc.Error != "" {
			line += " " + ErrorStyle.Render(tc.Error)
		}
		b.WriteString(line + "\n")
	}

	if opts.ShowThinking {
		for _, ts := range st.ThinkingSteps {
			text := ts.Summary
			if text == "" {
				text = ts.Content
			}
			if text == "" {
				continue
			}
			fmt.Fprintf(&b, "  %s\n", DimStyle.Render("thinking: "+strings.TrimSpace(text)))
		}
	}

	if st.AgentMessage != nil && st.AgentMessage.Content != "" {
		b.WriteString(AgentStyle.Render("agent") + "\n")
		content := st.AgentMessage.Content
		if opts.Markdown {
			// RenderMarkdown hands back the raw content on failure.
			content, _ = RenderMarkdown(content, opts.Width)
		}
		b.WriteString(strings.TrimRight(content, "\n") + "\n")
	}

	switch oryx.Status(id, st) {
	case oryx.TurnFailed:
		msg := st.Error.Message
		if st.Error.Code != "" {
			msg += " (" + st.Error.Code + ")"
		}
		fmt.Fprintf(&b, "%s %s\n", FailMark, ErrorStyle.Render(msg))
	case oryx.TurnStopped:
		fmt.Fprintf(&b, "%s\n", DimStyle.Render("[stopped]"))
	}

	if len(st.Retrievals) > 0 {
		writeSources(&b, st)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSources(b *strings.Builder, st *oryx.State) {
	cited := map[int]bool{}
	for _, c := range oryx.Citations(st) {
		cited[c.Number] = true
	}

	b.WriteString(KeyStyle.Render("sources") + "\n")
	for _, r := range st.Retrievals {
		marker := " "
		if cited[r.Number] {
			marker = "*"
		}
		line := fmt.Sprintf(" %s[%d] %s", marker, r.Number, r.Name)
		if page, ok := r.Extras["page"].(int); ok {
			line += DimStyle.Render(fmt.Sprintf(" p.%d", page))
		}
		b.WriteString(line + "\n")
	}
}

func stepMark(status string) string {
	switch status {
	case string(oryx.ToolCallStatusCompleted):
		return SuccessMark
	case string(oryx.ToolCallStatusFailed), string(oryx.WorkflowStepStatusCancelled):
		return FailMark
	default:
		return StepStyle.Render("…")
	}
}
