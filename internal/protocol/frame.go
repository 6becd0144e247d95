package protocol

import "bytes"

// FrameDecoder turns a raw byte stream into complete newline-delimited
// frames. Chunks may arrive split at arbitrary points, including in the
// middle of a multi-byte UTF-8 sequence; because the delimiter is a single
// byte, buffering raw bytes until a newline arrives makes the decode
// resumable without any per-chunk character state.
type FrameDecoder struct {
	buf []byte
}

// Feed appends a chunk and returns every complete line it unlocked.
// The trailing undelimited fragment is retained for the next Feed or Flush.
// A zero-length chunk is a no-op.
func (d *FrameDecoder) Feed(p []byte) []string {
	if len(p) == 0 {
		return nil
	}
	d.buf = append(d.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		// Tolerate CRLF framing from proxies.
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		lines = append(lines, string(line))
		d.buf = d.buf[i+1:]
	}
	return lines
}

// Flush returns the final partial line at end of stream, if any, and
// resets the decoder.
func (d *FrameDecoder) Flush() string {
	if len(d.buf) == 0 {
		return ""
	}
	line := d.buf
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	d.buf = nil
	return string(line)
}

// Reset discards any buffered bytes. Used on cancellation.
func (d *FrameDecoder) Reset() {
	d.buf = nil
}

// Buffered reports how many undelivered bytes the decoder is holding.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}
