package tap

import (
	"io"
	"log/slog"

	"t3/pkg/envelope"
)

// Serve is the body of a tap worker process: it relays in as stream and
// frames every message onto out. It is invoked through the hidden
// `t3 __tap` command with the raw pipe on stdin and the merge channel on stdout.
func Serve(stream envelope.Stream, in io.Reader, out io.Writer, trimCR bool, logger *slog.Logger) error {
	w := New(Config{
		Stream: stream,
		Input:  in,
		Output: envelope.NewWriter(out),
		Logger: logger,
		TrimCR: trimCR,
	})
	return w.Run()
}
