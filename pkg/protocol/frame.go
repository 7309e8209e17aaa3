package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
)

const (
	// FrameHeaderSize is the length prefix size
	FrameHeaderSize = 4

	// MaxFrameSize is the default upper bound on a frame payload
	MaxFrameSize = 64 * 1024

	// MinSealedSize is the smallest valid encrypted payload (nonce + tag)
	MinSealedSize = crypto.NonceSize + crypto.Overhead
)

var (
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrConnectionClosed = errors.New("connection closed")
	ErrMalformedFrame   = errors.New("malformed frame")
)

// EncodeFrame prepends the 4-byte big-endian length to payload
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	return buf
}

// WriteFrame writes one length-prefixed frame to w
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(EncodeFrame(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. The length is checked
// against maxSize before the payload buffer is allocated.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	return payload, nil
}

// MaxLineLength is the longest text line whose newline-terminated plaintext
// fits in a frame of maxSize bytes; maxSize 0 means MaxFrameSize
func MaxLineLength(maxSize uint32) int {
	if maxSize == 0 {
		maxSize = MaxFrameSize
	}
	if maxSize <= MinSealedSize+1 {
		return 0
	}
	return int(maxSize) - MinSealedSize - 1
}

// FrameWriter is the write half of an encrypted direct stream
type FrameWriter struct {
	w       io.Writer
	session *crypto.Session
	maxSize uint32
}

// NewFrameWriter creates a FrameWriter; maxSize 0 means MaxFrameSize
func NewFrameWriter(w io.Writer, session *crypto.Session, maxSize uint32) *FrameWriter {
	if maxSize == 0 {
		maxSize = MaxFrameSize
	}
	return &FrameWriter{w: w, session: session, maxSize: maxSize}
}

// Send encrypts plaintext and writes it as nonce || ciphertext
func (fw *FrameWriter) Send(plaintext []byte) error {
	if uint32(len(plaintext)+MinSealedSize) > fw.maxSize {
		return fmt.Errorf("%w: plaintext of %d bytes", ErrFrameTooLarge, len(plaintext))
	}

	nonce, ciphertext, err := fw.session.Encrypt(plaintext)
	if err != nil {
		return err
	}

	payload := make([]byte, 0, crypto.NonceSize+len(ciphertext))
	payload = append(payload, nonce[:]...)
	payload = append(payload, ciphertext...)

	return WriteFrame(fw.w, payload)
}

// FrameReader is the read half of an encrypted direct stream
type FrameReader struct {
	r       io.Reader
	session *crypto.Session
	maxSize uint32
}

// NewFrameReader creates a FrameReader; maxSize 0 means MaxFrameSize
func NewFrameReader(r io.Reader, session *crypto.Session, maxSize uint32) *FrameReader {
	if maxSize == 0 {
		maxSize = MaxFrameSize
	}
	return &FrameReader{r: r, session: session, maxSize: maxSize}
}

// Receive reads one frame and returns the authenticated plaintext
func (fr *FrameReader) Receive() ([]byte, error) {
	payload, err := ReadFrame(fr.r, fr.maxSize)
	if err != nil {
		return nil, err
	}

	if len(payload) < MinSealedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(payload))
	}

	nonce, _ := crypto.NonceFromBytes(payload[:crypto.NonceSize])
	return fr.session.Decrypt(nonce, payload[crypto.NonceSize:])
}
