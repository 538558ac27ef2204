package lsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxFrameSize bounds a single payload. Anything larger is treated as a
// framing desync rather than a legitimate message.
const maxFrameSize = 16 << 20

const contentLengthHeader = "Content-Length"

// WriteFrame writes one length-prefixed message. Header and payload go out
// in a single Write so concurrent writers cannot interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %d\r\n\r\n", contentLengthHeader, len(payload))
	buf.Write(payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// ReadFrame reads exactly one length-prefixed message, buffering partial
// reads until the full payload is available. A malformed header returns an
// error wrapping ErrInvalidFrame; the caller must treat that as fatal for
// the stream.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: missing delimiter in %q", ErrInvalidFrame, line)
		}

		if !strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			// Unknown headers (Content-Type etc.) are tolerated.
			continue
		}

		contentLength, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric length %q", ErrInvalidFrame, strings.TrimSpace(value))
		}

		if contentLength < 0 {
			return nil, fmt.Errorf("%w: negative length %d", ErrInvalidFrame, contentLength)
		}
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: no Content-Length header", ErrInvalidFrame)
	}

	if contentLength > maxFrameSize {
		return nil, fmt.Errorf("%w: length %d exceeds limit", ErrInvalidFrame, contentLength)
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	return payload, nil
}
