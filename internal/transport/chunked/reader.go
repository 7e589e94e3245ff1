package chunked

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var (
	ErrMalformed = errors.New("chunked: malformed chunked encoding")
	ErrTooLarge  = errors.New("chunked: chunk length too large")
)

// maxLineLength bounds a chunk size line, extensions included.
const maxLineLength = 4096

// NewReader undoes chunked framing. The trailer is read and discarded so
// that r is left at the start of the next message.
func NewReader(r io.Reader) io.Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &reader{r: br}
}

type reader struct {
	r       *bufio.Reader
	left    int64 // bytes left in the current chunk
	inChunk bool
	done    bool
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (c *reader) readLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull || len(line) > maxLineLength {
		return nil, ErrTooLarge
	}
	if err != nil {
		return nil, unexpected(err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func parseSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i] // extensions are ignored
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, ErrMalformed
	}
	if len(line) > 15 {
		return 0, ErrTooLarge
	}
	var n int64
	for _, b := range line {
		switch {
		case '0' <= b && b <= '9':
			b -= '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, ErrMalformed
		}
		n = n<<4 | int64(b)
	}
	return n, nil
}

func (c *reader) skipTrailer() error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}

func (c *reader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if !c.inChunk {
		line, err := c.readLine()
		if err != nil {
			return 0, err
		}
		size, err := parseSize(line)
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.skipTrailer(); err != nil {
				return 0, err
			}
			c.done = true
			return 0, io.EOF
		}
		c.left, c.inChunk = size, true
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if err != nil {
		return n, unexpected(err)
	}
	if c.left == 0 {
		c.inChunk = false
		var crlf [2]byte
		if _, err := io.ReadFull(c.r, crlf[:]); err != nil {
			return n, unexpected(err)
		}
		if crlf != [2]byte{'\r', '\n'} {
			return n, ErrMalformed
		}
	}
	return n, nil
}
