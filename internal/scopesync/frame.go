package scopesync

import (
	"encoding/binary"
	"fmt"
	"io"

	pool "github.com/libp2p/go-buffer-pool"
)

// MaxFrameSize caps a single wire frame. Oversized frames are rejected
// before any allocation proportional to the declared length.
const MaxFrameSize = 4 << 20

// WriteMsg encodes m and writes it as one length-prefixed frame.
func WriteMsg(w io.Writer, m Msg) error {
	bz, err := EncodeMsg(m)
	if err != nil {
		return err
	}
	if len(bz) > MaxFrameSize {
		return fmt.Errorf("message exceeds frame cap: %d > %d", len(bz), MaxFrameSize)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(bz)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(bz)
	return err
}

// ReadMsg reads one length-prefixed frame and decodes it. The frame buffer
// is pooled; the decoded message owns no part of it.
func ReadMsg(r io.Reader) (Msg, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Msg{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return Msg{}, malformedf("frame length %d out of bounds", n)
	}

	buf := pool.Get(int(n))
	defer pool.Put(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Msg{}, err
	}
	return DecodeMsg(buf)
}
