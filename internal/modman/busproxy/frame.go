package busproxy

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/reboot-codes/cloverhub/pkg/models"
)

// Frame format v1, frozen: a 4-byte big-endian length prefix followed by
// the msgpack encoding of a WsIn record, passed through the bus cipher.
// msgpack is self-describing, so schema evolution stays explicit on the
// wire.

// maxFrameSize rejects frames that cannot be a legitimate bus message —
// a corrupted length prefix would otherwise ask for gigabytes.
const maxFrameSize = 1 << 20

// Cipher is the encryption seam on the bus wire. The initial
// implementation is identity; the interface is the planned hook.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// IdentityCipher passes frames through unchanged.
type IdentityCipher struct{}

func (IdentityCipher) Seal(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (IdentityCipher) Open(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// EncodeFrame serializes one record for the wire.
func EncodeFrame(msg models.WsIn, cipher Cipher) ([]byte, error) {
	body, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	body, err = cipher.Seal(body)
	if err != nil {
		return nil, fmt.Errorf("seal frame: %w", err)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// FrameReader incrementally decodes frames off a byte stream.
type FrameReader struct {
	r      io.Reader
	cipher Cipher
}

// NewFrameReader wraps a port's read half.
func NewFrameReader(r io.Reader, cipher Cipher) *FrameReader {
	return &FrameReader{r: r, cipher: cipher}
}

// ReadFrame blocks until a full serialized record is available and decodes
// it. A decode failure is returned without consuming further input state;
// the caller logs and continues rather than closing the port.
func (fr *FrameReader) ReadFrame() (models.WsIn, error) {
	var msg models.WsIn

	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return msg, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return msg, fmt.Errorf("frame length %d exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return msg, err
	}

	body, err := fr.cipher.Open(body)
	if err != nil {
		return msg, fmt.Errorf("open frame: %w", err)
	}
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}
