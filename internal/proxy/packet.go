package proxy

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/queryrelay/queryrelay/internal/utils"
)

// MySQL client/server packets are framed as a 3-byte little-endian
// payload length, a sequence byte, then the payload.
const packetHeaderSize = 4

// Command bytes inspected on worker-bound connections
const (
	comQuery       = 0x03
	comStmtPrepare = 0x16
)

// packet is one framed unit read off a relay connection
type packet struct {
	seq     byte
	payload []byte
}

// readPacket reads a single framed packet from r
func readPacket(r io.Reader) (packet, error) {
	var header [packetHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return packet{}, err
	}

	length := int(uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16)
	if length > utils.MaxWirePacketSize {
		return packet{}, fmt.Errorf("packet length %d exceeds protocol maximum", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, err
	}

	return packet{seq: header[3], payload: payload}, nil
}

// writePacket frames and writes a single packet to w
func writePacket(w io.Writer, p packet) error {
	buf := make([]byte, packetHeaderSize+len(p.payload))
	buf[0] = byte(len(p.payload))
	buf[1] = byte(len(p.payload) >> 8)
	buf[2] = byte(len(p.payload) >> 16)
	buf[3] = p.seq
	copy(buf[packetHeaderSize:], p.payload)

	_, err := w.Write(buf)
	return err
}

// writeErrPacket sends a server ERR packet so clients see a normal
// MySQL error instead of a dropped connection
func writeErrPacket(w io.Writer, seq byte, code uint16, sqlState, message string) error {
	payload := make([]byte, 0, 9+len(message))
	payload = append(payload, 0xff)
	payload = binary.LittleEndian.AppendUint16(payload, code)
	payload = append(payload, '#')
	payload = append(payload, sqlState...)
	payload = append(payload, message...)

	return writePacket(w, packet{seq: seq, payload: payload})
}

// commandStatement extracts the SQL text from a COM_QUERY or
// COM_STMT_PREPARE packet. Command packets always restart the sequence
// at zero, which distinguishes them from handshake traffic.
func commandStatement(p packet) (string, bool) {
	if p.seq != 0 || len(p.payload) < 2 {
		return "", false
	}
	if p.payload[0] != comQuery && p.payload[0] != comStmtPrepare {
		return "", false
	}
	return string(p.payload[1:]), true
}
