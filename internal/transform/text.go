package transform

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"xslttester/internal/logging"
)

// ReadAllText reads r line by line and returns every line followed by
// "\n". Lines may end in "\n", "\r\n" or "\r". r is closed when it is an
// io.Closer. A read failure is logged and the text read so far returned.
func ReadAllText(r io.Reader) string {
	if c, ok := r.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logging.L().Warn("close text stream", "err", err)
			}
		}()
	}
	br := bufio.NewReader(r)
	var b, line strings.Builder
	pending := false
	for {
		ch, _, err := br.ReadRune()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.L().Warn("read text stream", "err", err)
			}
			break
		}
		switch ch {
		case '\r':
			if next, _, err := br.ReadRune(); err == nil && next != '\n' {
				_ = br.UnreadRune()
			}
			fallthrough
		case '\n':
			b.WriteString(line.String())
			b.WriteByte('\n')
			line.Reset()
			pending = false
		default:
			line.WriteRune(ch)
			pending = true
		}
	}
	if pending {
		b.WriteString(line.String())
		b.WriteByte('\n')
	}
	return b.String()
}
