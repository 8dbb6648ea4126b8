package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/casualjim/desktopagent/protocol"
	"github.com/fatih/color"
)

// printer writes received contexts as one line each: a colored source, the
// context type and the raw context.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) context(channelID string, c protocol.Context) {
	p.line(color.CyanString("[%s]", channelID), c)
}

func (p *printer) intent(name string, c protocol.Context) {
	p.line(color.MagentaString("<%s>", name), c)
}

func (p *printer) initial(c protocol.Context) {
	p.line(color.GreenString("(initial)"), c)
}

func (p *printer) line(source string, c protocol.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s %s\n", source, color.YellowString(c.Type()), c)
}
