// Package rise implements the RISE interleave wire format: a stream of
// back-to-back framed chunks with no envelope. The header byte encodes
// the stream index in the low 5 bits, a timestamp flag in bit 5 and a
// length class in bits 6-7 giving a length field of 1, 2, 4 or 8 bytes.
// Stream index 31 marks a control chunk whose first payload byte is the
// control type. All integers are little-endian.
package rise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ControlStreamIndex is the reserved stream index for control chunks.
const ControlStreamIndex = 31

// MaxDataStreamIndex is the largest stream index usable for data.
const MaxDataStreamIndex = 30

// Control chunk types.
const (
	ControlUserJSONObject byte = 48
	ControlUserBinaryData byte = 49
	ControlUserString     byte = 50
	ControlDiscard        byte = 255
)

// TimestampDisabled is the sentinel timestamp interval that disables
// timestamp injection entirely.
const TimestampDisabled = ^uint32(0)

// lengthClass returns the smallest length class whose field width can
// represent n, together with that width in bytes.
func lengthClass(n uint64) (class int, width int) {
	switch {
	case n < 1<<8:
		return 0, 1
	case n < 1<<16:
		return 1, 2
	case n < 1<<32:
		return 2, 4
	}
	return 3, 8
}

// AppendChunk appends one framed chunk to dst and returns the extended
// slice. timestamp, if non-nil, is UTC microseconds since the epoch.
func AppendChunk(dst []byte, streamIndex int, payload []byte, timestamp *uint64) []byte {
	if streamIndex < 0 || streamIndex > ControlStreamIndex {
		panic(fmt.Sprintf("stream index %d out of range", streamIndex))
	}
	class, width := lengthClass(uint64(len(payload)))
	header := byte(streamIndex) | byte(class)<<6
	if timestamp != nil {
		header |= 1 << 5
	}
	dst = append(dst, header)
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], uint64(len(payload)))
	dst = append(dst, lenBytes[:width]...)
	if timestamp != nil {
		var tsBytes [8]byte
		binary.LittleEndian.PutUint64(tsBytes[:], *timestamp)
		dst = append(dst, tsBytes[:]...)
	}
	return append(dst, payload...)
}

// Chunk is one decoded frame.
type Chunk struct {
	StreamIndex  int
	HasTimestamp bool
	Timestamp    uint64
	Payload      []byte
}

// IsControl reports whether the chunk is a control chunk.
func (c Chunk) IsControl() bool {
	return c.StreamIndex == ControlStreamIndex
}

// ControlType returns the control chunk type byte and the control
// payload that follows it.
func (c Chunk) ControlType() (byte, []byte, error) {
	if !c.IsControl() {
		return 0, nil, errors.New("not a control chunk")
	}
	if len(c.Payload) == 0 {
		return 0, nil, errors.New("control chunk with empty payload")
	}
	return c.Payload[0], c.Payload[1:], nil
}

// IsEndOfStream reports whether the chunk ends its substream.
func (c Chunk) IsEndOfStream() bool {
	return !c.IsControl() && len(c.Payload) == 0
}

// Decoder reads a stream of back-to-back chunks.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next decodes the next chunk. io.EOF is returned cleanly at a chunk
// boundary; a truncated chunk yields io.ErrUnexpectedEOF.
func (d *Decoder) Next() (Chunk, error) {
	var header [1]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return Chunk{}, err
	}
	c := Chunk{
		StreamIndex:  int(header[0] & 0x1f),
		HasTimestamp: header[0]&(1<<5) != 0,
	}
	width := 1 << (header[0] >> 6)
	var lenBytes [8]byte
	if _, err := io.ReadFull(d.r, lenBytes[:width]); err != nil {
		return Chunk{}, truncated(err)
	}
	length := binary.LittleEndian.Uint64(lenBytes[:])
	if c.HasTimestamp {
		var tsBytes [8]byte
		if _, err := io.ReadFull(d.r, tsBytes[:]); err != nil {
			return Chunk{}, truncated(err)
		}
		c.Timestamp = binary.LittleEndian.Uint64(tsBytes[:])
	}
	if length > math.MaxInt {
		return Chunk{}, fmt.Errorf("chunk length %d too large", length)
	}
	if length > 0 {
		c.Payload = make([]byte, length)
		if _, err := io.ReadFull(d.r, c.Payload); err != nil {
			return Chunk{}, truncated(err)
		}
	}
	return c, nil
}

// DecodeAll decodes every chunk in the stream.
func DecodeAll(r io.Reader) ([]Chunk, error) {
	d := NewDecoder(r)
	var chunks []Chunk
	for {
		c, err := d.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
