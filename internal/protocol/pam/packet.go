package pam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the transport header preceding every body.
const HeaderSize = 16

// DefaultMaxPacketSize bounds a single inbound packet.
const DefaultMaxPacketSize = 64 * 1024

// ErrPacketTooLarge is returned when a header declares a body above the limit.
var ErrPacketTooLarge = errors.New("pam: packet exceeds maximum size")

// Packet is one transport unit: {len}{cmd}{status}{reserved}{body}, where len
// counts the header.
type Packet struct {
	Command Command
	Status  uint32
	Body    []byte
}

// ReadPacket reads one packet from r. maxSize of 0 selects
// DefaultMaxPacketSize.
func ReadPacket(r io.Reader, maxSize int) (*Packet, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxPacketSize
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(hdr[0:4])
	if total < HeaderSize {
		return nil, fmt.Errorf("%w: packet length %d below header size", ErrMalformedFrame, total)
	}
	if uint64(total) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, total, maxSize)
	}

	p := &Packet{
		Command: Command(binary.LittleEndian.Uint32(hdr[4:8])),
		Status:  binary.LittleEndian.Uint32(hdr[8:12]),
		Body:    make([]byte, total-HeaderSize),
	}
	if _, err := io.ReadFull(r, p.Body); err != nil {
		return nil, fmt.Errorf("read packet body: %w", err)
	}
	return p, nil
}

// WritePacket writes a packet with the given command, status and body.
func WritePacket(w io.Writer, cmd Command, status uint32, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(HeaderSize+len(body)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(cmd))
	binary.LittleEndian.PutUint32(buf[8:12], status)
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// NegotiateVersion returns the version the server speaks to a client that
// asked for requested. Clients that send no version get version 1.
func NegotiateVersion(body []byte) int {
	if len(body) < 4 {
		return Version1
	}
	v := binary.LittleEndian.Uint32(body[:4])
	switch {
	case v == 0:
		return Version1
	case v > LatestVersion:
		return LatestVersion
	default:
		return int(v)
	}
}

// VersionBody encodes a version number as a GET_VERSION body.
func VersionBody(v int) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}
