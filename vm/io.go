package vm

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// LineReader supplies lines of input to read. ReadLine is called from the
// goroutine of an asynchronous wait, never from the machine goroutine, and
// may be called again before an earlier call returns.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

type lineResult struct {
	line string
}

// lineReader serialises reads from one io.Reader through a single
// goroutine so that concurrent waits get whole lines in arrival order.
type lineReader struct {
	src   *bufio.Reader
	once  sync.Once
	lines chan lineResult
	err   error // set before lines is closed
}

// NewLineReader returns a LineReader over r. Trailing "\n" and "\r\n" are
// stripped from each line. Once r is exhausted every ReadLine returns the
// error that ended it, usually io.EOF.
func NewLineReader(r io.Reader) LineReader {
	return &lineReader{
		src:   bufio.NewReader(r),
		lines: make(chan lineResult),
	}
}

func (r *lineReader) ReadLine(ctx context.Context) (string, error) {
	r.once.Do(func() { go r.pump() })
	select {
	case res, ok := <-r.lines:
		if !ok {
			return "", r.err
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *lineReader) pump() {
	for {
		line, err := r.src.ReadString('\n')
		if line != "" {
			r.lines <- lineResult{line: trimLine(line)}
		}
		if err != nil {
			r.err = err
			close(r.lines)
			return
		}
	}
}

func trimLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
