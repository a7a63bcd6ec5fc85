package control

import (
	"bufio"
	"io"
)

// stdioTransport frames control lines over any reader/writer pair,
// typically the process's stdin and stdout when the host embeds the
// engine as a child process.
type stdioTransport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	closer  io.Closer
}

// NewStdioTransport wraps r and w as a line transport. If w also
// implements io.Closer it is closed with the transport.
func NewStdioTransport(r io.Reader, w io.Writer) Transport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	t := &stdioTransport{scanner: scanner, writer: w}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

func (t *stdioTransport) ReadLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := make([]byte, len(t.scanner.Bytes()))
	copy(line, t.scanner.Bytes())
	return line, nil
}

func (t *stdioTransport) WriteLine(line []byte) error {
	if _, err := t.writer.Write(line); err != nil {
		return err
	}
	_, err := t.writer.Write([]byte{'\n'})
	return err
}

func (t *stdioTransport) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
