package fido

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
)

// Transport is the packet-level capability the authenticator needs from
// the layer below: stage one packet for transmission to the host, and
// request delivery of the next packet from the host.
type Transport interface {
	TransmitPacket(packet *[usb.PacketSize]byte) bool
	ReceivePacket() bool
}

// CTAP2 command and status codes used by the CBOR channel.
const (
	ctap2GetInfo = 0x04

	ctap2OK             = 0x00
	ctap2ErrInvalidCmd  = 0x01
	ctap2ErrInvalidLen  = 0x03
	ctap2ErrInvalidCBOR = 0x12
)

// AAGUID identifies the authenticator model. All-zero marks a device
// that does not attest to a particular model.
var AAGUID = [16]byte{}

// Version is the device version reported in the INIT response.
type Version struct {
	Major uint8
	Minor uint8
	Build uint8
}

// authenticatorInfo is the CTAP2 GetInfo response body. Field keys are
// the integer map keys the protocol assigns.
type authenticatorInfo struct {
	Versions   []string `cbor:"1,keyasint"`
	AAGUID     []byte   `cbor:"3,keyasint"`
	MaxMsgSize uint     `cbor:"5,keyasint"`
}

// assembly tracks one in-progress multi-packet message.
type assembly struct {
	cid  uint32
	cmd  uint8
	data []byte
	want int
	seq  uint8
}

// Authenticator is the CTAPHID message layer: it reassembles request
// messages from 64-byte packets, dispatches commands, and fragments
// responses back into packets, feeding them to the transport one at a
// time as the host drains them.
//
// It shares the transport's execution model: all methods and callbacks
// run on the single goroutine driving the controller.
type Authenticator struct {
	transport Transport
	version   Version

	channels map[uint32]bool
	rx       *assembly

	// Response packets not yet handed to the transport, and whether one
	// is staged there now.
	queue    [][usb.PacketSize]byte
	inflight bool

	winkHandler func()
	msgHandler  func(request []byte) []byte

	enc cbor.EncMode
}

// New creates an authenticator speaking CTAPHID over the given transport.
func New(transport Transport, version Version) *Authenticator {
	enc, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		// Static options; an error here is a programming bug.
		panic(fmt.Sprintf("fido: cbor encoder: %v", err))
	}
	return &Authenticator{
		transport: transport,
		version:   version,
		channels:  make(map[uint32]bool),
		enc:       enc,
	}
}

// Start arms the receive side: the authenticator requests packets from
// the transport whenever it is able to take one, so the first request
// must be posted once the transport is enabled.
func (a *Authenticator) Start() {
	a.requestPacket()
}

// requestPacket asks the transport for the next packet, but only while
// the authenticator can actually take one. Requesting only when ready
// keeps a requested-but-undeliverable packet from wedging the OUT
// direction.
func (a *Authenticator) requestPacket() {
	if a.CanReceivePacket() {
		a.transport.ReceivePacket()
	}
}

// SetWinkHandler registers the callback invoked on CTAPHID_WINK.
func (a *Authenticator) SetWinkHandler(fn func()) {
	a.winkHandler = fn
}

// SetMsgHandler registers the handler for CTAPHID_MSG (CTAP1/U2F)
// requests. Without a handler the command is rejected.
func (a *Authenticator) SetMsgHandler(fn func(request []byte) []byte) {
	a.msgHandler = fn
}

// CanReceivePacket reports whether the authenticator can take another
// request packet. While a response is draining it cannot: the transport
// withholds the packet and redelivers it once the queue empties.
func (a *Authenticator) CanReceivePacket() bool {
	return !a.inflight && len(a.queue) == 0
}

// PacketReceived consumes one request packet from the transport.
func (a *Authenticator) PacketReceived(packet *[usb.PacketSize]byte) {
	cid := binary.BigEndian.Uint32(packet[0:4])
	if packet[4]&initPacketBit != 0 {
		a.initPacket(cid, packet)
	} else {
		a.contPacket(cid, packet)
	}
	a.requestPacket()
}

// PacketTransmitted hands the next queued response packet to the
// transport once the host has drained the previous one. Once the queue
// empties the receive side is re-armed, picking up any packet the
// transport withheld while the response was draining.
func (a *Authenticator) PacketTransmitted() {
	a.inflight = false
	a.pump()
	a.requestPacket()
}

func (a *Authenticator) initPacket(cid uint32, packet *[usb.PacketSize]byte) {
	cmd := packet[4] &^ uint8(initPacketBit)
	want := int(binary.BigEndian.Uint16(packet[5:7]))

	if cid == 0 {
		a.sendError(cid, ErrCodeInvalidChannel)
		return
	}

	// INIT and CANCEL act immediately, even mid-message.
	switch cmd {
	case CmdInit:
		if a.rx != nil && a.rx.cid == cid {
			a.rx = nil
		}
		a.handleInit(cid, packet[7:7+min(want, initPayloadSize)])
		return
	case CmdCancel:
		if a.rx != nil && a.rx.cid == cid {
			a.rx = nil
		}
		return
	}

	if a.rx != nil {
		if a.rx.cid == cid {
			// A new initialization packet aborts the message in
			// progress on the same channel.
			a.rx = nil
			a.sendError(cid, ErrCodeInvalidSeq)
		} else {
			a.sendError(cid, ErrCodeChannelBusy)
		}
		return
	}
	if cid != BroadcastCID && !a.channels[cid] {
		a.sendError(cid, ErrCodeInvalidChannel)
		return
	}
	if cid == BroadcastCID {
		// Only INIT speaks on the broadcast channel.
		a.sendError(cid, ErrCodeInvalidChannel)
		return
	}
	if want > MaxMessageSize {
		a.sendError(cid, ErrCodeInvalidLen)
		return
	}

	data := make([]byte, 0, want)
	data = append(data, packet[7:7+min(want, initPayloadSize)]...)
	if len(data) == want {
		a.dispatch(cid, cmd, data)
		return
	}
	a.rx = &assembly{cid: cid, cmd: cmd, data: data, want: want}
}

func (a *Authenticator) contPacket(cid uint32, packet *[usb.PacketSize]byte) {
	if a.rx == nil || a.rx.cid != cid {
		// Spurious continuation packets are dropped.
		pkg.LogDebug(pkg.ComponentFIDO, "dropping stray continuation packet",
			"channel", fmt.Sprintf("0x%08X", cid))
		return
	}
	if seq := packet[4]; seq != a.rx.seq {
		a.rx = nil
		a.sendError(cid, ErrCodeInvalidSeq)
		return
	}

	remain := a.rx.want - len(a.rx.data)
	a.rx.data = append(a.rx.data, packet[5:5+min(remain, contPayloadSize)]...)
	a.rx.seq++

	if len(a.rx.data) == a.rx.want {
		rx := a.rx
		a.rx = nil
		a.dispatch(rx.cid, rx.cmd, rx.data)
	}
}

func (a *Authenticator) dispatch(cid uint32, cmd uint8, payload []byte) {
	pkg.LogDebug(pkg.ComponentFIDO, "dispatching message",
		"channel", fmt.Sprintf("0x%08X", cid),
		"command", fmt.Sprintf("0x%02X", cmd),
		"length", len(payload))

	switch cmd {
	case CmdPing:
		a.respond(cid, CmdPing, payload)
	case CmdWink:
		if a.winkHandler != nil {
			a.winkHandler()
		}
		a.respond(cid, CmdWink, nil)
	case CmdMsg:
		if a.msgHandler == nil {
			a.sendError(cid, ErrCodeInvalidCmd)
			return
		}
		a.respond(cid, CmdMsg, a.msgHandler(payload))
	case CmdCBOR:
		a.handleCBOR(cid, payload)
	default:
		a.sendError(cid, ErrCodeInvalidCmd)
	}
}

// handleInit answers CTAPHID_INIT: echo the nonce and report the channel
// the requester should use from here on. A broadcast INIT allocates a
// fresh channel; INIT on an existing channel resynchronizes it.
func (a *Authenticator) handleInit(cid uint32, nonce []byte) {
	if len(nonce) != 8 {
		a.sendError(cid, ErrCodeInvalidLen)
		return
	}

	assigned := cid
	if cid == BroadcastCID {
		var err error
		if assigned, err = a.allocateChannel(); err != nil {
			pkg.LogError(pkg.ComponentFIDO, "channel allocation failed", "error", err)
			a.sendError(cid, ErrCodeOther)
			return
		}
	} else if !a.channels[cid] {
		a.sendError(cid, ErrCodeInvalidChannel)
		return
	}

	payload := make([]byte, 17)
	copy(payload, nonce)
	binary.BigEndian.PutUint32(payload[8:], assigned)
	payload[12] = 2 // CTAPHID protocol version
	payload[13] = a.version.Major
	payload[14] = a.version.Minor
	payload[15] = a.version.Build
	payload[16] = CapabilityWink | CapabilityCBOR

	// The response goes out on the channel the request arrived on.
	a.respond(cid, CmdInit, payload)
}

// handleCBOR answers the CTAP2 channel. The first payload byte selects
// the CTAP2 command; the response is a status byte followed by the
// CBOR-encoded body.
func (a *Authenticator) handleCBOR(cid uint32, payload []byte) {
	if len(payload) == 0 {
		a.respond(cid, CmdCBOR, []byte{ctap2ErrInvalidLen})
		return
	}
	switch payload[0] {
	case ctap2GetInfo:
		body, err := a.enc.Marshal(&authenticatorInfo{
			Versions:   []string{"FIDO_2_0"},
			AAGUID:     AAGUID[:],
			MaxMsgSize: MaxMessageSize,
		})
		if err != nil {
			pkg.LogError(pkg.ComponentFIDO, "encoding GetInfo failed", "error", err)
			a.respond(cid, CmdCBOR, []byte{ctap2ErrInvalidCBOR})
			return
		}
		a.respond(cid, CmdCBOR, append([]byte{ctap2OK}, body...))
	default:
		a.respond(cid, CmdCBOR, []byte{ctap2ErrInvalidCmd})
	}
}

// allocateChannel draws a fresh nonzero, non-broadcast channel
// identifier.
func (a *Authenticator) allocateChannel() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		cid := binary.BigEndian.Uint32(b[:])
		if cid == 0 || cid == BroadcastCID || a.channels[cid] {
			continue
		}
		a.channels[cid] = true
		return cid, nil
	}
}

// Keepalive reports processing status to the host mid-transaction.
func (a *Authenticator) Keepalive(cid uint32, status uint8) {
	a.respond(cid, CmdKeepalive, []byte{status})
}

func (a *Authenticator) sendError(cid uint32, code uint8) {
	a.respond(cid, CmdError, []byte{code})
}

// respond fragments a response message and starts draining it through
// the transport.
func (a *Authenticator) respond(cid uint32, cmd uint8, payload []byte) {
	a.queue = append(a.queue, fragment(cid, cmd, payload)...)
	a.pump()
}

// pump stages the next queued packet if none is in flight. The transport
// turns this into a resume of the IN direction; the host's read, surfaced
// as PacketTransmitted, pumps again.
func (a *Authenticator) pump() {
	if a.inflight || len(a.queue) == 0 {
		return
	}
	packet := a.queue[0]
	a.queue = a.queue[1:]
	a.inflight = true
	if !a.transport.TransmitPacket(&packet) {
		pkg.LogWarn(pkg.ComponentFIDO, "transport rejected packet, requeueing")
		a.inflight = false
		a.queue = append([][usb.PacketSize]byte{packet}, a.queue...)
	}
}
