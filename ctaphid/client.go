package ctaphid

import (
	"fmt"

	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
	"github.com/ardnew/softctap/usb/ctrl"
)

// PacketClient is the upward capability set: the protocol layer consuming
// 64-byte reports from this transport. None of its methods may block.
type PacketClient interface {
	// CanReceivePacket reports whether the client is ready to accept a
	// packet right now. It must have no side effects.
	CanReceivePacket() bool

	// PacketReceived delivers a received packet. The array is owned by the
	// caller only for the duration of the call; clients must copy what
	// they keep.
	PacketReceived(packet *[usb.PacketSize]byte)

	// PacketTransmitted notifies completion of a prior TransmitPacket.
	PacketTransmitted()
}

// Client is the CTAP HID transport client of a USB device controller. It
// multiplexes one interrupt IN and one interrupt OUT endpoint into a
// symmetric 64-byte packet exchange between the controller below and a
// [PacketClient] above, holding at most one packet in flight per direction.
//
// All state transitions happen synchronously inside a controller callback
// or a client-initiated call; nothing blocks. The controller serializes
// callbacks for the governed endpoint and never invokes the client
// reentrantly, so Client takes no locks: callers retargeting it to run
// under multiple goroutines must provide that serialization themselves.
type Client struct {
	// Control-transfer collaborator; enumeration requests pass through.
	ctrl *ctrl.Client

	// Transaction buffer for the interrupt endpoint, shared with the
	// controller. Hardware writes it on OUT, the client fills it on IN.
	buffer usb.Buffer64

	client PacketClient

	// Staged outgoing packet, owned here until handed to the controller.
	// Non-nil implies pendingIn.
	txPacket *[usb.PacketSize]byte

	pendingIn  bool // A transmission was requested and has not completed
	pendingOut bool // A receive was requested and no packet delivered yet
	delayedOut bool // A received packet is withheld pending a receive call

	// Snapshot of the withheld packet, valid only while delayedOut. The
	// shared endpoint buffer belongs to the controller again once the
	// OUT transaction ends, so the withheld bytes must live here.
	delayedPacket [usb.PacketSize]byte
}

// New creates a transport client for the given controller, serving the
// FIDO HID descriptor tables for id during enumeration.
func New(controller usb.Controller, id Identity) *Client {
	c := &Client{
		ctrl: ctrl.New(controller, ctrl.Config{
			Device: deviceDescriptor(id),
			Configuration: usb.ConfigurationDescriptor{
				// Must be non-zero or Linux rejects the configuration.
				ConfigurationValue: 1,
				Attributes:         usb.ConfigAttrBusPowered,
				MaxPower:           50, // 100 mA
			},
			Interface: usb.InterfaceDescriptor{
				InterfaceClass: usb.ClassHID,
			},
			Endpoints: endpoints(),
			HID: &usb.HIDDescriptor{
				HIDVersion:  0x0110,
				CountryCode: 0, // Not supported
			},
			Report:    ReportDescriptor,
			Languages: []uint16{usb.LangIDUSEnglish},
			Strings:   []string{id.Manufacturer, id.Product, id.SerialNumber},
		}),
	}
	return c
}

// SetClient registers the protocol layer receiving packets.
func (c *Client) SetClient(client PacketClient) {
	c.client = client
}

// controller returns the downward capability set.
func (c *Client) controller() usb.Controller {
	return c.ctrl.Controller()
}

// TransmitPacket stages packet for transmission on the interrupt IN
// endpoint. It returns false, leaving any staged packet unchanged, if a
// transmission is already pending: excess transmits are rejected, never
// queued. Never blocks.
func (c *Client) TransmitPacket(packet *[usb.PacketSize]byte) bool {
	if c.pendingIn {
		// The previous packet has not yet been transmitted.
		return false
	}
	c.pendingIn = true
	buf := *packet
	c.txPacket = &buf
	// Alert the controller that there is data to send on interrupt IN.
	c.controller().EndpointResumeIn(Endpoint)
	return true
}

// ReceivePacket requests delivery of the next packet arriving on the
// interrupt OUT endpoint. It returns false if a receive is already
// pending. If a packet was previously withheld with a delay, delivery is
// retried immediately, and on success the controller is told to release
// the held OUT direction.
func (c *Client) ReceivePacket() bool {
	if c.pendingOut {
		// The previous receive has not yet completed.
		return false
	}
	c.pendingOut = true
	// If a delay was reported earlier, the withheld packet goes to the
	// client now. Otherwise the controller will invoke PacketOut when a
	// packet arrives.
	if c.delayedOut {
		c.delayedOut = false
		packet := c.delayedPacket
		if c.deliverPacket(&packet) {
			c.controller().EndpointResumeOut(Endpoint)
		}
	}
	return true
}

// CancelTransaction cancels both directions: any staged packet is dropped,
// an in-flight IN transfer is aborted, and a pending receive is cleared.
// Returns true only if something was actually cancelled.
func (c *Client) CancelTransaction() bool {
	in := c.cancelInTransaction()
	out := c.cancelOutTransaction()
	return in || out
}

// cancelInTransaction drops the staged packet and aborts the in-flight IN
// transfer, if any.
func (c *Client) cancelInTransaction() bool {
	c.txPacket = nil
	cancelled := c.pendingIn
	c.pendingIn = false
	if cancelled {
		c.controller().EndpointCancelIn(Endpoint)
	}
	return cancelled
}

// cancelOutTransaction clears a pending receive, if any.
func (c *Client) cancelOutTransaction() bool {
	cancelled := c.pendingOut
	c.pendingOut = false
	return cancelled
}

// deliverPacket hands packet to the client. Returns false if the client
// is not ready, in which case the packet is withheld until a later
// ReceivePacket call.
func (c *Client) deliverPacket(packet *[usb.PacketSize]byte) bool {
	if c.client == nil || !c.client.CanReceivePacket() {
		// Cannot deliver now; withhold and report a delay upstream.
		c.delayedPacket = *packet
		c.delayedOut = true
		return false
	}

	if !c.pendingOut {
		panic("ctaphid: packet delivered with no receive pending")
	}
	c.pendingOut = false

	// A newly arrived packet preempts a stale queued reply: the protocol
	// layer must see this input before deciding what to send next.
	c.cancelInTransaction()

	c.client.PacketReceived(packet)
	return true
}

// Enable sets up the control endpoint, registers the interrupt endpoint
// buffer, and enables both directions of the interrupt endpoint.
func (c *Client) Enable() {
	c.ctrl.Enable()
	c.controller().EndpointSetBuffer(Endpoint, &c.buffer)
	c.controller().EndpointInOutEnable(usb.TransferTypeInterrupt, Endpoint)
}

// Attach connects the device to the bus.
func (c *Client) Attach() {
	c.ctrl.Attach()
}

// BusReset handles a bus reset. Reconfiguration is driven by the hardware
// layer.
func (c *Client) BusReset() {
	pkg.LogDebug(pkg.ComponentTransport, "bus reset")
}

// CtrlSetup passes a SETUP transaction to the control collaborator.
func (c *Client) CtrlSetup(ep int) usb.CtrlSetupResult {
	return c.ctrl.CtrlSetup(ep)
}

// CtrlIn passes a control IN transaction to the control collaborator.
func (c *Client) CtrlIn(ep int) usb.CtrlInResult {
	return c.ctrl.CtrlIn(ep)
}

// CtrlOut passes a control OUT transaction to the control collaborator.
func (c *Client) CtrlOut(ep int, n int) usb.CtrlOutResult {
	return c.ctrl.CtrlOut(ep, n)
}

// CtrlStatus passes the status stage start to the control collaborator.
func (c *Client) CtrlStatus(ep int) {
	c.ctrl.CtrlStatus(ep)
}

// CtrlStatusComplete passes status stage completion to the control
// collaborator.
func (c *Client) CtrlStatusComplete(ep int) {
	c.ctrl.CtrlStatusComplete(ep)
}

// PacketIn handles an IN token on the interrupt endpoint. If a packet is
// staged it is copied into the endpoint buffer and consumed; otherwise the
// controller is told to delay and re-poll after a resume.
func (c *Client) PacketIn(t usb.TransferType, ep int) usb.InResult {
	if t != usb.TransferTypeInterrupt {
		return usb.InError
	}
	if ep != Endpoint {
		return usb.InError
	}

	if c.txPacket == nil {
		// Nothing to send.
		return usb.InDelay
	}
	copy(c.buffer.Buf[:], c.txPacket[:])
	c.txPacket = nil
	return usb.InPacket(usb.PacketSize)
}

// PacketOut handles an OUT token on the interrupt endpoint. The payload
// must be exactly one full report; any other size is an error, never
// retried here. When the client cannot take the packet it is withheld and
// the controller must hold the OUT direction until a resume.
func (c *Client) PacketOut(t usb.TransferType, ep int, n int) usb.OutResult {
	if t != usb.TransferTypeInterrupt {
		return usb.OutError
	}
	if ep != Endpoint {
		return usb.OutError
	}
	if n != usb.PacketSize {
		pkg.LogWarn(pkg.ComponentTransport, "rejecting short report",
			"bytes", n)
		return usb.OutError
	}

	// A delay result holds the OUT direction, so a second packet arriving
	// while one is withheld means the controller broke its contract.
	if c.delayedOut {
		panic("ctaphid: packet arrived while a packet is already withheld")
	}

	// Snapshot the buffer before querying the client: the buffer belongs
	// to the controller again as soon as this transaction ends.
	var packet [usb.PacketSize]byte
	copy(packet[:], c.buffer.Buf[:])

	if c.deliverPacket(&packet) {
		return usb.OutOK
	}
	return usb.OutDelay
}

// PacketTransmitted handles completion of a staged IN packet. A packet
// still staged at completion means the controller broke its contract or
// memory was corrupted; both are unrecoverable.
func (c *Client) PacketTransmitted(ep int) {
	if ep != Endpoint {
		panic(fmt.Sprintf("ctaphid: unexpected transmission on endpoint %d", ep))
	}
	if c.txPacket != nil {
		panic("ctaphid: staged packet present at transmission complete")
	}
	c.pendingIn = false
	if c.client != nil {
		c.client.PacketTransmitted()
	}
}

// Compile-time interface check
var _ usb.Client = (*Client)(nil)
