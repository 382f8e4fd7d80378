package dispatch

import (
	"bufio"
	"fmt"
	"io"
)

// Confirmer is consulted before each send. It cannot cancel the send.
type Confirmer interface {
	Confirm(n Notification, d Delivery)
}

// Prompt shows the message and waits for a line on in. Any answer, including
// EOF, lets the send proceed.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

func (p *Prompt) Confirm(n Notification, d Delivery) {
	fmt.Fprintf(p.out, "\n%s\n\nSend %s to %s? [enter] ", n.Plain, d.Style, d.Channel)
	_, _ = p.in.ReadString('\n')
}
