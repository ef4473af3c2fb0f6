package fido

import (
	"encoding/binary"

	"github.com/ardnew/softctap/usb"
)

// CTAPHID command codes. The high bit marks an initialization packet on
// the wire and is never part of the command value.
const (
	CmdPing      = 0x01
	CmdMsg       = 0x03
	CmdInit      = 0x06
	CmdWink      = 0x08
	CmdCBOR      = 0x10
	CmdCancel    = 0x11
	CmdKeepalive = 0x3B
	CmdError     = 0x3F
)

// initPacketBit distinguishes initialization packets from continuation
// packets in the fifth byte of a report.
const initPacketBit = 0x80

// CTAPHID error codes carried in the payload of a CmdError response.
const (
	ErrCodeInvalidCmd     = 0x01
	ErrCodeInvalidLen     = 0x03
	ErrCodeInvalidSeq     = 0x04
	ErrCodeChannelBusy    = 0x06
	ErrCodeInvalidChannel = 0x0B
	ErrCodeOther          = 0x7F
)

// BroadcastCID addresses the channel allocator: an INIT on this channel
// requests a fresh channel identifier.
const BroadcastCID uint32 = 0xFFFFFFFF

// Keepalive status codes.
const (
	StatusProcessing = 0x01
	StatusUpNeeded   = 0x02
)

// Capability flags reported in the INIT response.
const (
	CapabilityWink = 0x01
	CapabilityCBOR = 0x04
	CapabilityNMsg = 0x08
)

const (
	// initPayloadSize is the payload capacity of an initialization
	// packet: 64 minus the channel, command, and length fields.
	initPayloadSize = usb.PacketSize - 7

	// contPayloadSize is the payload capacity of a continuation packet:
	// 64 minus the channel and sequence fields.
	contPayloadSize = usb.PacketSize - 5

	// maxSequence is the highest continuation sequence number.
	maxSequence = 0x7F

	// MaxMessageSize is the largest message a single transaction can
	// carry: one initialization packet plus 128 continuation packets.
	MaxMessageSize = initPayloadSize + (maxSequence+1)*contPayloadSize
)

// fragment splits a message into wire packets: one initialization packet
// followed by as many continuation packets as the payload requires.
// Payloads above MaxMessageSize are the caller's bug.
func fragment(cid uint32, cmd uint8, payload []byte) [][usb.PacketSize]byte {
	if len(payload) > MaxMessageSize {
		panic("fido: message exceeds transaction capacity")
	}

	n := 1
	if len(payload) > initPayloadSize {
		n += (len(payload) - initPayloadSize + contPayloadSize - 1) / contPayloadSize
	}
	packets := make([][usb.PacketSize]byte, n)

	binary.BigEndian.PutUint32(packets[0][0:], cid)
	packets[0][4] = cmd | initPacketBit
	binary.BigEndian.PutUint16(packets[0][5:], uint16(len(payload)))
	off := copy(packets[0][7:], payload)

	for i := 1; i < n; i++ {
		binary.BigEndian.PutUint32(packets[i][0:], cid)
		packets[i][4] = uint8(i - 1)
		off += copy(packets[i][5:], payload[off:])
	}
	return packets
}
