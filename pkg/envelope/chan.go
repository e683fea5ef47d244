package envelope

// ChanSender delivers messages over a Go channel. It is the in-process
// counterpart of Writer: a full channel blocks the sender, which is the
// backpressure a pipe provides between processes.
type ChanSender struct {
	ch chan Message
}

var _ Sender = &ChanSender{}

// NewChanSender creates a sender with the given channel buffer.
func NewChanSender(buffer int) *ChanSender {
	return &ChanSender{ch: make(chan Message, buffer)}
}

// Send validates m and blocks until the receiver has room for it. Text after
// a NUL byte is cut as Decode would.
func (c *ChanSender) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.Text = ClipNUL(m.Text)
	c.ch <- m
	return nil
}

// Messages returns the receiving side.
func (c *ChanSender) Messages() <-chan Message {
	return c.ch
}

// Close ends the channel. Do not call Send afterwards.
func (c *ChanSender) Close() {
	close(c.ch)
}
