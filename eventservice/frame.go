package eventservice

import (
	"encoding/binary"
	"fmt"
)

// FrameSize is the encoded size of a Frame.
const FrameSize = 4

// Frame is the wire form of an event or subscription.
type Frame struct {
	// Type is the event source, or listener id.
	Type uint16
	// Reason is the event value.
	Reason uint16
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{%d, %d}", f.Type, f.Reason)
}

// AppendFrame appends the encoding of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, f.Type)
	return binary.LittleEndian.AppendUint16(dst, f.Reason)
}

// EncodeFrame returns the encoding of f.
func EncodeFrame(f Frame) []byte {
	return AppendFrame(make([]byte, 0, FrameSize), f)
}

// DecodeFrames decodes every whole frame in data. Any trailing partial frame
// is ignored, and reported as ErrPartialFrame, alongside the decoded frames.
func DecodeFrames(data []byte) ([]Frame, error) {
	frames := make([]Frame, 0, len(data)/FrameSize)
	for len(data) >= FrameSize {
		frames = append(frames, Frame{
			Type:   binary.LittleEndian.Uint16(data),
			Reason: binary.LittleEndian.Uint16(data[2:]),
		})
		data = data[FrameSize:]
	}
	if len(data) != 0 {
		return frames, fmt.Errorf("%w: %d trailing bytes", ErrPartialFrame, len(data))
	}
	return frames, nil
}
