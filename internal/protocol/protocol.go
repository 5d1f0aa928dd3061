package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeHello = 0x01 // announces source format, starts the session
	PacketTypeAudio = 0x02 // sequenced PCM-16 samples
	PacketTypeBye   = 0x03 // requests session finalization

	// Source types (match capture tags)
	SourceMicrophone  = 0x01
	SourceSystemAudio = 0x02

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize       = 6 // 4 + 1 + 1 bytes
	AudioPayloadHeaderSize = 4 // Sequence number (4 bytes)
)

// Header represents the 8-byte packet header.
// Layout: [PacketType:1][PacketLen:2][SessionID:4][Source:1]
type Header struct {
	PacketType uint8  // 0x01=Hello, 0x02=Audio, 0x03=Bye
	PacketLen  uint16 // Total packet size (header + payload)
	SessionID  uint32 // Unique capture session identifier
	Source     uint8  // 0x01=Microphone, 0x02=SystemAudio
}

// HelloPayload announces the raw capture format for one source. The sample
// rate is announced once per session and holds for every audio packet that
// follows; the pipeline resamples to its fixed target rate.
// Layout: [SampleRate:4][Channels:1][DualSource:1]
type HelloPayload struct {
	SampleRate uint32
	Channels   uint8
	DualSource uint8 // nonzero requests sample-domain mixing of both sources
}

// AudioPayload carries sequenced little-endian PCM-16 audio data.
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// ParsedPacket represents a fully parsed packet.
type ParsedPacket struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		SessionID:  binary.BigEndian.Uint32(data[3:7]),
		Source:     data[7],
	}, nil
}

// ParseHelloPayload parses the 6-byte hello payload.
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d",
			HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   data[4],
		DualSource: data[5],
	}

	if payload.SampleRate == 0 {
		return nil, fmt.Errorf("hello payload sample rate cannot be zero")
	}

	if payload.Channels == 0 {
		return nil, fmt.Errorf("hello payload channel count cannot be zero")
	}

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + PCM data).
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	if len(payload.AudioData)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even for PCM-16, got %d bytes", len(payload.AudioData))
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload).
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

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
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeBye:
		// No payload.

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields.
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidSource(header.Source) {
		return fmt.Errorf("invalid source: 0x%02x", header.Source)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if payloadSize != HelloPayloadSize {
			return fmt.Errorf("hello packet payload size mismatch: expected %d, got %d",
				HelloPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	case PacketTypeBye:
		if payloadSize != 0 {
			return fmt.Errorf("bye packet must have no payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid.
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHello || ptype == PacketTypeAudio || ptype == PacketTypeBye
}

// IsValidSource checks if the source is valid.
func IsValidSource(source uint8) bool {
	return source == SourceMicrophone || source == SourceSystemAudio
}

// EncodeHello encodes a hello packet for the given session and source.
func EncodeHello(sessionID uint32, source uint8, payload HelloPayload) []byte {
	buf := make([]byte, HeaderSize+HelloPayloadSize)
	writeHeader(buf, PacketTypeHello, sessionID, source)
	binary.BigEndian.PutUint32(buf[HeaderSize:], payload.SampleRate)
	buf[HeaderSize+4] = payload.Channels
	buf[HeaderSize+5] = payload.DualSource
	return buf
}

// EncodeAudio encodes an audio packet carrying little-endian PCM-16 data.
func EncodeAudio(sessionID uint32, source uint8, sequence uint32, pcm []byte) []byte {
	buf := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(pcm))
	writeHeader(buf, PacketTypeAudio, sessionID, source)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return buf
}

// EncodeBye encodes a bye packet.
func EncodeBye(sessionID uint32, source uint8) []byte {
	buf := make([]byte, HeaderSize)
	writeHeader(buf, PacketTypeBye, sessionID, source)
	return buf
}

func writeHeader(buf []byte, ptype uint8, sessionID uint32, source uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], sessionID)
	buf[7] = source
}

// PCM16ToFloat32 converts little-endian PCM-16 bytes into float samples in
// [-1, 1]. The data length must be even.
func PCM16ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return samples
}

// String returns a human-readable representation of the header.
func (h *Header) String() string {
	var packetType string
	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeBye:
		packetType = "Bye"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	var source string
	switch h.Source {
	case SourceMicrophone:
		source = "Microphone"
	case SourceSystemAudio:
		source = "SystemAudio"
	default:
		source = fmt.Sprintf("Unknown(0x%02x)", h.Source)
	}

	return fmt.Sprintf("%s session=%d source=%s len=%d", packetType, h.SessionID, source, h.PacketLen)
}
