/*
 * This file is part of Polyvoice (https://github.com/nmelo/polyvoice).
 * Copyright (C) 2026 Polyvoice Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package transport carries raw PCM to the playback engine as small binary
// frames, so constrained senders can stream audio without re-encoding it
// into a container first.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nmelo/polyvoice/internal/source"
)

// FrameType represents the type of frame being transmitted.
type FrameType uint8

const (
	// FrameTypeStreamInfo opens a stream; its payload is a StreamInfo.
	FrameTypeStreamInfo FrameType = 0x01
	// FrameTypePCMData carries interleaved little-endian int16 PCM.
	FrameTypePCMData FrameType = 0x02
	// FrameTypeStreamEnd closes a stream; it carries no payload.
	FrameTypeStreamEnd FrameType = 0x03
)

const (
	// FrameMagic prefixes every frame: "PVOX" in big-endian.
	FrameMagic = 0x50564F58

	// MaxFrameSize keeps frames small enough for microcontroller senders.
	MaxFrameSize = 1536
	HeaderSize   = 24
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// Frame is one unit of the PCM delivery protocol.
type Frame struct {
	Type      FrameType
	StreamID  uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader is the fixed-size wire header.
type FrameHeader struct {
	Magic     uint32
	Type      FrameType
	Reserved  uint8
	Length    uint16
	StreamID  uint32
	Sequence  uint32
	Timestamp uint64
}

// StreamInfo is the payload of a FrameTypeStreamInfo frame.
type StreamInfo struct {
	Channels   uint16
	SampleRate uint32
}

// NewFrame creates a frame with the given parameters.
func NewFrame(frameType FrameType, streamID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		StreamID:  streamID,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// Serialize converts a frame to its binary format.
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Length:    uint16(len(f.Data)),
		StreamID:  f.StreamID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(f.Data) > 0 {
		if _, err := buf.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write frame data: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data back to a frame.
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	buf := bytes.NewReader(data)
	var header FrameHeader
	if err := binary.Read(buf, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}
	if len(data) != HeaderSize+int(header.Length) {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), HeaderSize+int(header.Length))
	}

	frame := &Frame{
		Type:      header.Type,
		StreamID:  header.StreamID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(buf, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}
	return frame, nil
}

// ReadFrame reads the next frame from a byte stream. A clean end of stream
// at a frame boundary returns io.EOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	var header FrameHeader
	if err := binary.Read(bytes.NewReader(head), binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to parse frame header: %w", err)
	}
	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}
	if int(header.Length) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", header.Length, MaxDataSize)
	}

	frame := &Frame{
		Type:      header.Type,
		StreamID:  header.StreamID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(r, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}
	return frame, nil
}

// Size returns the total serialized size of the frame.
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}

// Assembler collects one stream's frames in sequence order and produces the
// decoded sample buffer once the end frame arrives.
type Assembler struct {
	streamID uint32
	started  bool
	done     bool
	nextSeq  uint32
	info     StreamInfo
	pcm      []byte
}

// NewAssembler creates an assembler for one stream id.
func NewAssembler(streamID uint32) *Assembler {
	return &Assembler{streamID: streamID}
}

// Feed consumes the next frame. It returns true once the stream is complete.
func (a *Assembler) Feed(f *Frame) (bool, error) {
	if f.StreamID != a.streamID {
		return a.done, fmt.Errorf("frame for stream %d fed to assembler for stream %d", f.StreamID, a.streamID)
	}
	if a.done {
		return true, fmt.Errorf("stream %d already complete", a.streamID)
	}
	if f.Sequence != a.nextSeq {
		return false, fmt.Errorf("stream %d sequence gap: got %d, expected %d", a.streamID, f.Sequence, a.nextSeq)
	}
	a.nextSeq++

	switch f.Type {
	case FrameTypeStreamInfo:
		if a.started {
			return false, fmt.Errorf("stream %d sent a second info frame", a.streamID)
		}
		buf := bytes.NewReader(f.Data)
		if err := binary.Read(buf, binary.BigEndian, &a.info); err != nil {
			return false, fmt.Errorf("failed to read stream info: %w", err)
		}
		if a.info.Channels == 0 || a.info.SampleRate == 0 {
			return false, fmt.Errorf("stream %d info invalid: %d channels at %d Hz", a.streamID, a.info.Channels, a.info.SampleRate)
		}
		a.started = true
	case FrameTypePCMData:
		if !a.started {
			return false, fmt.Errorf("stream %d sent data before info", a.streamID)
		}
		a.pcm = append(a.pcm, f.Data...)
	case FrameTypeStreamEnd:
		if !a.started {
			return false, fmt.Errorf("stream %d ended before info", a.streamID)
		}
		a.done = true
	default:
		return false, fmt.Errorf("stream %d sent unknown frame type 0x%02X", a.streamID, f.Type)
	}
	return a.done, nil
}

// Buffer returns the assembled samples. Only valid once Feed reported
// completion.
func (a *Assembler) Buffer() (*source.Buffer, error) {
	if !a.done {
		return nil, fmt.Errorf("stream %d not complete", a.streamID)
	}
	samples := make([]int16, len(a.pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(a.pcm[2*i:]))
	}
	return source.NewBuffer(samples, int(a.info.Channels), int(a.info.SampleRate))
}

// WriteStream is the sender side: it chops a PCM payload into frames and
// writes their serialized forms to w, returning the frame count.
func WriteStream(w io.Writer, streamID uint32, timestamp uint64, info StreamInfo, pcm []byte) (int, error) {
	seq := uint32(0)
	emit := func(f *Frame) error {
		raw, err := f.Serialize()
		if err != nil {
			return err
		}
		_, err = w.Write(raw)
		return err
	}

	infoPayload := new(bytes.Buffer)
	if err := binary.Write(infoPayload, binary.BigEndian, info); err != nil {
		return 0, fmt.Errorf("failed to write stream info: %w", err)
	}
	if err := emit(NewFrame(FrameTypeStreamInfo, streamID, seq, timestamp, infoPayload.Bytes())); err != nil {
		return int(seq), err
	}
	seq++

	for off := 0; off < len(pcm); off += MaxDataSize {
		end := off + MaxDataSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := emit(NewFrame(FrameTypePCMData, streamID, seq, timestamp, pcm[off:end])); err != nil {
			return int(seq), err
		}
		seq++
	}

	if err := emit(NewFrame(FrameTypeStreamEnd, streamID, seq, timestamp, nil)); err != nil {
		return int(seq), err
	}
	seq++
	return int(seq), nil
}
