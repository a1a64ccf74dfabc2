package pyharbor

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize caps a single frame at 64 MiB. A length prefix beyond this is
// treated as stream corruption rather than an allocation request.
const maxFrameSize = 64 << 20

// FrameTransport moves length-prefixed binary frames over a pipe pair.
// Each frame is a 4-byte big-endian length followed by the payload. The
// payload encoding is the negotiated Codec's concern, not the transport's.
type FrameTransport struct {
	reader io.ReadCloser
	writer io.WriteCloser
	pool   *framePool
}

// NewFrameTransport wraps a read and write end into a frame transport.
func NewFrameTransport(reader io.ReadCloser, writer io.WriteCloser) *FrameTransport {
	return &FrameTransport{
		reader: reader,
		writer: writer,
		pool:   newFramePool(8192, 8),
	}
}

// Send writes one frame. The header and payload are written separately so the
// payload bytes never need to be copied into a combined buffer.
func (t *FrameTransport) Send(data []byte) error {
	header := t.pool.get()[:4]
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	_, err := t.writer.Write(header)
	t.pool.put(header)
	if err != nil {
		return err
	}
	_, err = t.writer.Write(data)
	return err
}

// Receive reads one complete frame and returns its payload.
func (t *FrameTransport) Receive() ([]byte, error) {
	header := t.pool.get()[:4]
	if _, err := io.ReadFull(t.reader, header); err != nil {
		t.pool.put(header)
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	t.pool.put(header)

	if length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit", length)
	}

	if int(length) <= t.pool.size {
		buf := t.pool.get()[:length]
		if _, err := io.ReadFull(t.reader, buf); err != nil {
			t.pool.put(buf)
			return nil, err
		}
		out := make([]byte, length)
		copy(out, buf)
		t.pool.put(buf)
		return out, nil
	}

	out := make([]byte, length)
	if _, err := io.ReadFull(t.reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes both ends of the transport.
func (t *FrameTransport) Close() error {
	rerr := t.reader.Close()
	werr := t.writer.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
