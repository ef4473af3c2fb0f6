package usb

import "fmt"

// PacketSize is the fixed report size, in bytes, of every transaction on the
// interrupt endpoint pair. Both directions always carry full 64-byte reports.
const PacketSize = 64

// MaxEndpoints is the number of data endpoint numbers (1-15).
const MaxEndpoints = 15

// TransferType identifies the USB transfer type of a transaction
// (USB 2.0 Spec Table 9-13 encoding).
type TransferType uint8

// Transfer types.
const (
	TransferTypeControl     TransferType = 0x00
	TransferTypeIsochronous TransferType = 0x01
	TransferTypeBulk        TransferType = 0x02
	TransferTypeInterrupt   TransferType = 0x03
)

// String returns a human-readable transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferTypeControl:
		return "Control"
	case TransferTypeIsochronous:
		return "Isochronous"
	case TransferTypeBulk:
		return "Bulk"
	case TransferTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Buffer64 is a 64-byte transaction buffer shared between a client and the
// controller. For OUT transactions the controller writes it once per
// transaction and the client reads it once; for IN transactions the roles
// reverse. Single writer and single reader per transaction, no locking.
type Buffer64 struct {
	Buf [PacketSize]byte
}

// InStatus is the disposition of an IN token on a data endpoint.
type InStatus uint8

// IN token dispositions.
const (
	InStatusPacket InStatus = iota // A packet was staged into the endpoint buffer
	InStatusDelay                  // Nothing to send; controller must re-poll after a resume
	InStatusError                  // Usage error; transaction aborted
)

// String returns a human-readable status name.
func (s InStatus) String() string {
	switch s {
	case InStatusPacket:
		return "packet"
	case InStatusDelay:
		return "delay"
	case InStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// InResult reports the outcome of an IN token delivered to a client.
type InResult struct {
	Status InStatus
	Count  int // Bytes staged when Status == InStatusPacket
}

// InPacket returns an InResult reporting n bytes staged for transmission.
func InPacket(n int) InResult {
	return InResult{Status: InStatusPacket, Count: n}
}

// InDelay and InError are the payload-free IN results.
var (
	InDelay = InResult{Status: InStatusDelay}
	InError = InResult{Status: InStatusError}
)

// OutResult reports the outcome of an OUT token delivered to a client.
type OutResult uint8

// OUT token dispositions.
const (
	OutOK    OutResult = iota // Packet consumed
	OutDelay                  // Client not ready; controller must hold the channel until a resume
	OutError                  // Usage error; transaction aborted
)

// String returns a human-readable result name.
func (r OutResult) String() string {
	switch r {
	case OutOK:
		return "ok"
	case OutDelay:
		return "delay"
	case OutError:
		return "error"
	default:
		return "unknown"
	}
}

// CtrlSetupResult reports the outcome of a SETUP transaction on EP0.
type CtrlSetupResult uint8

// SETUP dispositions.
const (
	CtrlSetupOK           CtrlSetupResult = iota // Request accepted
	CtrlSetupOKSetAddress                        // Request accepted; address change pending status stage
	CtrlSetupError                               // Request rejected; controller should stall EP0
)

// CtrlInStatus is the disposition of a control IN data stage transaction.
type CtrlInStatus uint8

// Control IN dispositions.
const (
	CtrlInStatusPacket CtrlInStatus = iota // A (possibly final) packet was staged
	CtrlInStatusDelay                      // Data not ready yet
	CtrlInStatusError                      // Transfer aborted; controller should stall EP0
)

// CtrlInResult reports the outcome of a control IN transaction.
type CtrlInResult struct {
	Status CtrlInStatus
	Count  int  // Bytes staged when Status == CtrlInStatusPacket
	Last   bool // True when this is the final packet of the data stage
}

// CtrlInPacket returns a CtrlInResult staging n bytes, final iff last.
func CtrlInPacket(n int, last bool) CtrlInResult {
	return CtrlInResult{Status: CtrlInStatusPacket, Count: n, Last: last}
}

// CtrlInDelay and CtrlInError are the payload-free control IN results.
var (
	CtrlInDelay = CtrlInResult{Status: CtrlInStatusDelay}
	CtrlInError = CtrlInResult{Status: CtrlInStatusError}
)

// CtrlOutResult reports the outcome of a control OUT data stage transaction.
type CtrlOutResult uint8

// Control OUT dispositions.
const (
	CtrlOutOK    CtrlOutResult = iota // Packet consumed
	CtrlOutDelay                      // Client not ready
	CtrlOutError                      // Transfer aborted; controller should stall EP0
)

// Controller is the downward capability set a device client consumes. It is
// implemented by controller hardware drivers and by the in-memory emulator
// in [github.com/ardnew/softctap/usb/emul].
//
// The resume and cancel operations are the flow-control primitives:
// ResumeIn/ResumeOut ask the controller to re-poll a direction previously
// answered with a delay result, and CancelIn aborts an in-flight IN
// transfer. CancelIn is assumed idempotent; whether the abort is truly
// synchronous at the hardware level is the controller's guarantee, not
// something clients re-verify.
type Controller interface {
	// SetClient registers the client receiving transaction callbacks.
	SetClient(c Client)

	// Enable powers up the controller in device mode.
	Enable()

	// Attach connects the device to the bus, making it visible to the host.
	Attach()

	// Detach disconnects the device from the bus.
	Detach()

	// SetAddress records the device address assigned during enumeration.
	SetAddress(addr uint8)

	// EndpointSetCtrlBuffer registers the EP0 transaction buffer.
	EndpointSetCtrlBuffer(buf *Buffer64)

	// EndpointSetBuffer registers the shared transaction buffer for a data
	// endpoint number. One buffer serves both directions of the endpoint.
	EndpointSetBuffer(ep int, buf *Buffer64)

	// EndpointInOutEnable enables both directions of a data endpoint for
	// the given transfer type.
	EndpointInOutEnable(t TransferType, ep int)

	// EndpointResumeIn requests re-polling of the IN direction after the
	// client previously reported a delay (or had nothing staged).
	EndpointResumeIn(ep int)

	// EndpointResumeOut releases an OUT direction the controller was asked
	// to hold with a delay result.
	EndpointResumeOut(ep int)

	// EndpointCancelIn aborts the in-flight IN transfer on the endpoint.
	EndpointCancelIn(ep int)
}

// Client is the set of transaction callbacks a controller invokes on its
// registered device client. Callbacks for a given endpoint are serialized
// and non-reentrant: the controller never invokes a client concurrently
// with itself.
type Client interface {
	// Enable performs one-time endpoint and buffer setup.
	Enable()

	// Attach is invoked when the device should connect to the bus.
	Attach()

	// BusReset is invoked when the host resets the bus.
	BusReset()

	// CtrlSetup handles a SETUP transaction on a control endpoint.
	CtrlSetup(ep int) CtrlSetupResult

	// CtrlIn handles a control IN data stage transaction.
	CtrlIn(ep int) CtrlInResult

	// CtrlOut handles a control OUT data stage transaction carrying n bytes.
	CtrlOut(ep int, n int) CtrlOutResult

	// CtrlStatus is invoked at the start of the status stage.
	CtrlStatus(ep int)

	// CtrlStatusComplete is invoked when the status stage completes.
	CtrlStatusComplete(ep int)

	// PacketIn handles an IN token on a data endpoint.
	PacketIn(t TransferType, ep int) InResult

	// PacketOut handles an OUT token on a data endpoint carrying n bytes.
	PacketOut(t TransferType, ep int, n int) OutResult

	// PacketTransmitted is invoked when a previously staged IN packet has
	// been accepted by the host.
	PacketTransmitted(ep int)
}
