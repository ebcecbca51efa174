package protocol

import (
	"encoding/binary"
	"fmt"
)

// Capture protocol constants
const (
	// Packet types
	PacketTypeStart = 0x01
	PacketTypeAudio = 0x02
	PacketTypeEnd   = 0x03

	// Header flags
	FlagFinal = 0x01 // last audio packet of an utterance, flush the segment

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	StartPayloadSize       = 36 // 4 + 32 bytes
	AudioPayloadHeaderSize = 4  // Sequence number (4 bytes)
	MaxPacketSize          = 0xFFFF

	// String field sizes in start payload
	SourceSize = 32
)

// Header represents the 8-byte capture packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Start, 0x02=Audio, 0x03=End
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Flags      uint8
}

// StartPayload opens a stream
// Layout: [SampleRate:4][Source:32]
type StartPayload struct {
	SampleRate uint32
	Source     [SourceSize]byte // Null-terminated string
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][PCM16LE:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // PCM audio data (variable length)
}

// ParsedPacket represents a fully parsed capture packet
type ParsedPacket struct {
	Header *Header
	Start  *StartPayload // Only set for start packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}

	return header, nil
}

// ParseStartPayload parses the 36-byte start packet payload
func ParseStartPayload(data []byte) (*StartPayload, error) {
	if len(data) < StartPayloadSize {
		return nil, fmt.Errorf("start payload too short: expected %d bytes, got %d",
			StartPayloadSize, len(data))
	}

	payload := &StartPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
	}
	copy(payload.Source[:], data[4:4+SourceSize])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	// Copy audio data (remaining bytes after sequence)
	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeStart:
		payload, err := ParseStartPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start payload: %w", err)
		}
		packet.Start = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeEnd:
		// no payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Flags&^FlagFinal != 0 {
		return fmt.Errorf("invalid flags: 0x%02x", header.Flags)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	// Validate expected payload sizes
	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeStart:
		if payloadSize != StartPayloadSize {
			return fmt.Errorf("start packet payload size mismatch: expected %d, got %d",
				StartPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
		if (payloadSize-AudioPayloadHeaderSize)%2 != 0 {
			return fmt.Errorf("audio packet carries a partial sample: %d data bytes",
				payloadSize-AudioPayloadHeaderSize)
		}
	case PacketTypeEnd:
		if payloadSize != 0 {
			return fmt.Errorf("end packet must not carry a payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeStart || ptype == PacketTypeAudio || ptype == PacketTypeEnd
}

// EncodeStart builds a start packet
func EncodeStart(streamID, sampleRate uint32, source string) []byte {
	buf := make([]byte, HeaderSize+StartPayloadSize)
	putHeader(buf, PacketTypeStart, streamID, 0)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sampleRate)
	// keep at least one terminating zero
	src := []byte(source)
	if len(src) > SourceSize-1 {
		src = src[:SourceSize-1]
	}
	copy(buf[HeaderSize+4:], src)
	return buf
}

// EncodeAudio builds an audio packet carrying pcm as 16-bit little-endian samples
func EncodeAudio(streamID, sequence uint32, pcm []int16, flags uint8) ([]byte, error) {
	size := HeaderSize + AudioPayloadHeaderSize + 2*len(pcm)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID, flags)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	data := buf[HeaderSize+AudioPayloadHeaderSize:]
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return buf, nil
}

// EncodeEnd builds an end packet
func EncodeEnd(streamID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeEnd, streamID, 0)
	return buf
}

func putHeader(buf []byte, ptype uint8, streamID uint32, flags uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = flags
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetSource extracts the source name as a string
func (s *StartPayload) GetSource() string {
	return ExtractString(s.Source[:])
}

// Final reports whether the packet closes the current utterance
func (h *Header) Final() bool {
	return h.Flags&FlagFinal != 0
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeStart:
		packetType = "Start"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeEnd:
		packetType = "End"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Flags:0x%02x}",
		packetType, h.PacketLen, h.StreamID, h.Flags)
}

// String returns a human-readable representation of the start payload
func (s *StartPayload) String() string {
	return fmt.Sprintf("StartPayload{SampleRate:%d, Source:%q}", s.SampleRate, s.GetSource())
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
