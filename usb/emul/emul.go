// Package emul provides an in-memory emulation of a USB device
// controller and the host driving it.
//
// [Controller] implements [usb.Controller] without hardware: transactions
// are initiated by a [Host], which plays the role of the host-side bus
// driver issuing SETUP, IN, and OUT tokens. Delay results from the device
// client are modeled the way controller hardware models them: the
// direction is held (the emulated host sees NAKs) until the client calls
// the matching resume primitive.
//
// The emulation is strictly single-context: the emulated host and the
// device client run on one goroutine, mirroring the serialized,
// non-reentrant callback contract of real controller hardware. Neither
// type is safe for concurrent use.
package emul

import (
	"fmt"

	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
)

// Controller is an in-memory USB device controller.
type Controller struct {
	client usb.Client

	enabled  bool
	attached bool
	address  uint8

	ctrlBuffer *usb.Buffer64

	// Data endpoint state, indexed by endpoint number.
	epBuffer  [usb.MaxEndpoints + 1]*usb.Buffer64
	epType    [usb.MaxEndpoints + 1]usb.TransferType
	epEnabled [usb.MaxEndpoints + 1]bool

	// Held directions: a delay result suspends the direction until the
	// client resumes it.
	inHeld  [usb.MaxEndpoints + 1]bool
	outHeld [usb.MaxEndpoints + 1]bool
}

// NewController creates an emulated controller.
func NewController() *Controller {
	return &Controller{}
}

// SetClient registers the device client receiving transaction callbacks.
func (c *Controller) SetClient(client usb.Client) {
	c.client = client
}

// Enable powers up the controller.
func (c *Controller) Enable() {
	c.enabled = true
}

// Attach connects the device to the emulated bus.
func (c *Controller) Attach() {
	c.attached = true
	pkg.LogDebug(pkg.ComponentEmul, "device attached")
}

// Detach disconnects the device from the emulated bus.
func (c *Controller) Detach() {
	c.attached = false
}

// SetAddress records the enumerated device address.
func (c *Controller) SetAddress(addr uint8) {
	c.address = addr
}

// Address returns the enumerated device address.
func (c *Controller) Address() uint8 {
	return c.address
}

// EndpointSetCtrlBuffer registers the EP0 transaction buffer.
func (c *Controller) EndpointSetCtrlBuffer(buf *usb.Buffer64) {
	c.ctrlBuffer = buf
}

// EndpointSetBuffer registers the shared transaction buffer for a data
// endpoint.
func (c *Controller) EndpointSetBuffer(ep int, buf *usb.Buffer64) {
	if ep < 1 || ep > usb.MaxEndpoints {
		panic(fmt.Sprintf("emul: endpoint %d out of range", ep))
	}
	c.epBuffer[ep] = buf
}

// EndpointInOutEnable enables both directions of a data endpoint.
func (c *Controller) EndpointInOutEnable(t usb.TransferType, ep int) {
	if ep < 1 || ep > usb.MaxEndpoints {
		panic(fmt.Sprintf("emul: endpoint %d out of range", ep))
	}
	c.epType[ep] = t
	c.epEnabled[ep] = true
}

// EndpointResumeIn releases a held IN direction, allowing the next host
// poll to reach the client again.
func (c *Controller) EndpointResumeIn(ep int) {
	c.inHeld[ep] = false
}

// EndpointResumeOut releases a held OUT direction, allowing the host to
// deliver packets again.
func (c *Controller) EndpointResumeOut(ep int) {
	c.outHeld[ep] = false
}

// EndpointCancelIn aborts any in-flight IN transfer on the endpoint. The
// emulation completes IN transactions synchronously, so there is never a
// transfer mid-flight to abort; the primitive is idempotent and only
// suspends further polling until the next resume.
func (c *Controller) EndpointCancelIn(ep int) {
	c.inHeld[ep] = true
}

// Compile-time interface check
var _ usb.Controller = (*Controller)(nil)
