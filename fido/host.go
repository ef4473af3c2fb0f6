package fido

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
)

// Exchanger is the host-side report pipe a Host drives: send one OUT
// report, poll one IN report. The emulated bus driver in
// [github.com/ardnew/softctap/usb/emul] satisfies it.
type Exchanger interface {
	SendReport(ep int, data []byte) error
	RecvReport(ep int) ([]byte, error)
}

// Host speaks CTAPHID from the host side: it opens a channel with INIT
// and runs request/response transactions over it.
type Host struct {
	bus Exchanger
	ep  int
	cid uint32
}

// NewHost creates a host-side CTAPHID endpoint driver. Init must run
// before any transaction.
func NewHost(bus Exchanger, ep int) *Host {
	return &Host{bus: bus, ep: ep, cid: BroadcastCID}
}

// Channel returns the channel identifier assigned by Init, or the
// broadcast channel before then.
func (h *Host) Channel() uint32 {
	return h.cid
}

// Init performs the INIT handshake on the broadcast channel and adopts
// the assigned channel. It returns the device's capability flags.
func (h *Host) Init() (uint8, error) {
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return 0, err
	}

	cmd, payload, err := h.transact(BroadcastCID, CmdInit, nonce[:])
	if err != nil {
		return 0, err
	}
	if cmd != CmdInit {
		return 0, fmt.Errorf("INIT answered with command 0x%02X: %w", cmd, pkg.ErrInvalidCommand)
	}
	if len(payload) < 17 {
		return 0, pkg.ErrInvalidPacketSize
	}
	if [8]byte(payload[:8]) != nonce {
		return 0, fmt.Errorf("INIT nonce mismatch: %w", pkg.ErrInvalidChannel)
	}

	h.cid = binary.BigEndian.Uint32(payload[8:12])
	pkg.LogDebug(pkg.ComponentFIDO, "channel opened",
		"channel", fmt.Sprintf("0x%08X", h.cid),
		"capabilities", fmt.Sprintf("0x%02X", payload[16]))
	return payload[16], nil
}

// Call runs one transaction on the open channel. An ERROR response is
// surfaced as an error.
func (h *Host) Call(cmd uint8, payload []byte) ([]byte, error) {
	rcmd, rpayload, err := h.transact(h.cid, cmd, payload)
	if err != nil {
		return nil, err
	}
	if rcmd == CmdError {
		code := uint8(ErrCodeOther)
		if len(rpayload) > 0 {
			code = rpayload[0]
		}
		return nil, fmt.Errorf("device error 0x%02X: %w", code, pkg.ErrInvalidCommand)
	}
	if rcmd != cmd {
		return nil, fmt.Errorf("command 0x%02X answered with 0x%02X: %w", cmd, rcmd, pkg.ErrInvalidCommand)
	}
	return rpayload, nil
}

// Ping echoes data through the device.
func (h *Host) Ping(data []byte) ([]byte, error) {
	return h.Call(CmdPing, data)
}

// Wink asks the device to identify itself to the user.
func (h *Host) Wink() error {
	_, err := h.Call(CmdWink, nil)
	return err
}

// GetInfo runs CTAP2 authenticatorGetInfo and decodes the response into
// out, which follows the protocol's integer-keyed map layout.
func (h *Host) GetInfo(out any) error {
	payload, err := h.Call(CmdCBOR, []byte{ctap2GetInfo})
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return pkg.ErrInvalidPacketSize
	}
	if payload[0] != ctap2OK {
		return fmt.Errorf("GetInfo status 0x%02X: %w", payload[0], pkg.ErrInvalidCommand)
	}
	return cbor.Unmarshal(payload[1:], out)
}

// transact sends one request message and reassembles the response.
func (h *Host) transact(cid uint32, cmd uint8, payload []byte) (uint8, []byte, error) {
	if len(payload) > MaxMessageSize {
		return 0, nil, fmt.Errorf("payload %d exceeds %d bytes: %w",
			len(payload), MaxMessageSize, pkg.ErrMessageTooLarge)
	}
	for _, p := range fragment(cid, cmd, payload) {
		if err := h.bus.SendReport(h.ep, p[:]); err != nil {
			return 0, nil, fmt.Errorf("send report: %w", err)
		}
	}

	first, err := h.bus.RecvReport(h.ep)
	if err != nil {
		return 0, nil, fmt.Errorf("recv report: %w", err)
	}
	if len(first) != usb.PacketSize || first[4]&initPacketBit == 0 {
		return 0, nil, pkg.ErrInvalidPacketSize
	}
	if got := binary.BigEndian.Uint32(first[0:4]); got != cid {
		return 0, nil, fmt.Errorf("response on channel 0x%08X, want 0x%08X: %w",
			got, cid, pkg.ErrInvalidChannel)
	}

	rcmd := first[4] &^ uint8(initPacketBit)
	want := int(binary.BigEndian.Uint16(first[5:7]))
	data := append([]byte{}, first[7:]...)

	for seq := uint8(0); len(data) < want; seq++ {
		p, err := h.bus.RecvReport(h.ep)
		if err != nil {
			return 0, nil, fmt.Errorf("recv continuation: %w", err)
		}
		if len(p) != usb.PacketSize || p[4] != seq {
			return 0, nil, pkg.ErrInvalidSequence
		}
		data = append(data, p[5:]...)
	}
	return rcmd, data[:want], nil
}
