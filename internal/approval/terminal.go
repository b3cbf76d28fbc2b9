package approval

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Terminal prompts for decisions on an interactive stream pair. EOF on
// the input is reported as ErrPending so a closed stdin degrades to a
// pause instead of an error.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

func (t *Terminal) Decide(req Request) (string, error) {
	sc := bufio.NewScanner(t.In)
	for {
		fmt.Fprintf(t.Out, "%s [%s]: ", req.Prompt, strings.Join(req.Options, "/"))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", fmt.Errorf("read decision: %w", err)
			}
			return "", ErrPending
		}
		answer := strings.ToLower(strings.TrimSpace(sc.Text()))
		for _, opt := range req.Options {
			if answer == opt {
				return opt, nil
			}
		}
		fmt.Fprintf(t.Out, "unrecognized answer %q\n", answer)
	}
}
