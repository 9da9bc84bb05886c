package controlrpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxFrameBytes bounds a single frame so a corrupt or hostile peer can't
// make a reader allocate unbounded memory from a forged length prefix.
const maxFrameBytes = 16 << 20 // 16 MiB

// frame is one length-prefixed message on the wire: a 4-byte big-endian
// length followed by that many bytes of body. The body's first byte is
// always a commandTag identifying how to decode the rest.
type frame struct {
	tag  commandTag
	body []byte
}

// writeFrame writes f to w as one atomic write under mu, so concurrent
// senders on the same connection never interleave partial frames.
func writeFrame(w io.Writer, mu *sync.Mutex, f frame) error {
	mu.Lock()
	defer mu.Unlock()

	payload := make([]byte, 1+len(f.body))
	payload[0] = byte(f.tag)
	copy(payload[1:], f.body)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// readFrame blocks until one complete frame arrives on r.
func readFrame(r io.Reader) (frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return frame{}, err
	}
	length := binary.BigEndian.Uint32(lenPrefix[:])
	if length == 0 {
		return frame{}, fmt.Errorf("empty frame")
	}
	if length > maxFrameBytes {
		return frame{}, fmt.Errorf("frame of %d bytes exceeds maximum of %d", length, maxFrameBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, fmt.Errorf("read frame body: %w", err)
	}
	return frame{tag: commandTag(payload[0]), body: payload[1:]}, nil
}

// setReadDeadline sets conn's read deadline to d from now, or clears it
// when d <= 0.
func setReadDeadline(conn net.Conn, d time.Duration) {
	if d <= 0 {
		_ = conn.SetReadDeadline(time.Time{})
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(d))
}
