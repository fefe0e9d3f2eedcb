package main

import (
	"fmt"
	"io"

	"github.com/MegaGrindStone/footballpedia/internal/chat"
	"github.com/MegaGrindStone/footballpedia/internal/models"
)

// terminalView prints the assistant reply incrementally. The streamed reply only ever grows, so every
// render writes the part of the trailing assistant message not printed yet.
type terminalView struct {
	out    io.Writer
	errOut io.Writer

	index   int
	printed int
	open    bool
}

func newTerminalView(out, errOut io.Writer) *terminalView {
	return &terminalView{
		out:    out,
		errOut: errOut,
		index:  -1,
	}
}

func (v *terminalView) Render(messages []models.Message, _ bool) {
	if len(messages) == 0 {
		v.index, v.printed = -1, 0
		return
	}

	idx := len(messages) - 1
	last := messages[idx]
	if last.Role != models.RoleAssistant {
		return
	}
	if idx != v.index {
		v.index, v.printed = idx, 0
	}
	if len(last.Content) > v.printed {
		fmt.Fprint(v.out, last.Content[v.printed:])
		v.printed = len(last.Content)
		v.open = true
	}
}

func (v *terminalView) Notify(n chat.Notification) {
	v.endReply()
	fmt.Fprintf(v.errOut, "%s: %s\n", n.Title, n.Description)
}

// endReply terminates the line of a printed reply.
func (v *terminalView) endReply() {
	if v.open {
		fmt.Fprintln(v.out)
		v.open = false
	}
}
