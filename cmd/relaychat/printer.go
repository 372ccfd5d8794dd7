package main

import (
	"fmt"
	"io"
	"sync"
)

// printer serializes output from the receive goroutine and the input loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer { return &printer{out: out} }

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, s)
}

func (p *printer) status(format string, args ...any) {
	p.line("* " + fmt.Sprintf(format, args...))
}
