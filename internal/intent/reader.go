package intent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kstaniek/go-tesla-das/internal/logging"
)

// MaxLineLen bounds one intent line.
const MaxLineLen = 4096

// Run handles every line of r until EOF or ctx is done. Blank lines and
// lines starting with '#' are skipped. A bad line is logged and does not
// stop the stream; only read errors are returned.
func (p *Processor) Run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(512, MaxLineLen)), MaxLineLen)
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fr, err := p.Handle(line)
		if err != nil {
			logging.L().Warn("intent_error", "line", lineNo, "error", err)
			continue
		}
		logging.L().Debug("frame_sent", "line", lineNo, logging.Frame("frame", fr))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read intents: %w", err)
	}
	return nil
}
