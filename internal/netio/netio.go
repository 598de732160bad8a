package netio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxLine is the longest accepted request line, excluding the terminator.
const MaxLine = 64 * 1024

var (
	// ErrTimeout is returned when a read deadline passes before a full line arrives.
	ErrTimeout = errors.New("read timed out")
	// ErrLineTooLong is returned when a line exceeds MaxLine.
	ErrLineTooLong = errors.New("line too long")
)

// Listen opens a TCP listener on host:port. An empty host binds every interface.
func Listen(ctx context.Context, host string, port int) (net.Listener, error) {
	var lc net.ListenConfig
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Dial connects to addr, giving up after timeout (zero means no limit beyond ctx).
func Dial(ctx context.Context, addr string, timeout time.Duration) (*LineConn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewLineConn(conn), nil
}

// LineConn frames a connection into newline-terminated text lines. Reads are
// expected from one goroutine; writes are serialized.
type LineConn struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
}

// NewLineConn wraps conn.
func NewLineConn(conn net.Conn) *LineConn {
	return &LineConn{conn: conn, reader: bufio.NewReader(conn)}
}

// ReadLine returns the next line without its CR/LF terminator. A positive
// timeout bounds the wait; io.EOF is returned once the peer closes with no
// pending data.
func (c *LineConn) ReadLine(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}

	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLine+2 {
			return "", ErrLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if isTimeout(err) {
			return "", ErrTimeout
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		return "", err
	}
	return string(bytes.TrimRight(line, "\r\n")), nil
}

// SendAll writes b completely.
func (c *LineConn) SendAll(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// WriteLine writes line followed by a newline.
func (c *LineConn) WriteLine(line string) error {
	return c.SendAll([]byte(strings.TrimRight(line, "\r\n") + "\n"))
}

// WriteLines writes each line followed by the "." terminator used by multi-line responses.
func (c *LineConn) WriteLines(lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteString(".\n")
	return c.SendAll(buf.Bytes())
}

// RemoteAddr returns the peer address as text.
func (c *LineConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Conn exposes the underlying connection.
func (c *LineConn) Conn() net.Conn {
	return c.conn
}

// Close closes the underlying connection.
func (c *LineConn) Close() error {
	return c.conn.Close()
}

// IsLoopback reports whether addr is a loopback TCP address.
func IsLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	return tcp.IP.IsLoopback()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
