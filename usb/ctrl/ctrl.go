// Package ctrl implements the control-endpoint side of a USB device
// client: descriptor tables and the EP0 state machine answering standard
// requests during enumeration.
//
// A [Client] owns the device, configuration, interface, endpoint, HID, and
// string descriptors supplied at construction and serves them to the host
// in max-packet-size pieces. Data-endpoint traffic is not handled here;
// clients layering on top of ctrl (such as
// [github.com/ardnew/softctap/ctaphid]) pass their control callbacks
// through and keep the data endpoints for themselves.
package ctrl

import (
	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
)

// MaxResponseSize is the maximum staged control IN response. It covers the
// full configuration descriptor set and the longest string descriptor.
const MaxResponseSize = 256

// ctrlState tracks the in-progress control transfer on EP0.
type ctrlState uint8

const (
	stateIdle       ctrlState = iota // No transfer in progress
	stateDataIn                      // Streaming a response to the host
	stateSetAddress                  // Address change pending the status stage
)

// Config carries the descriptor tables a Client serves.
type Config struct {
	Device        usb.DeviceDescriptor
	Configuration usb.ConfigurationDescriptor
	Interface     usb.InterfaceDescriptor
	Endpoints     []usb.EndpointDescriptor
	HID           *usb.HIDDescriptor // Optional HID class descriptor
	Report        []byte             // Optional HID report descriptor
	Languages     []uint16           // Supported language IDs
	Strings       []string           // String descriptors, indexed from 1
}

// Client handles control transfers on EP0 for a device client.
type Client struct {
	controller usb.Controller
	config     Config

	// EP0 transaction buffer shared with the controller.
	buffer usb.Buffer64

	// In-progress transfer state.
	state          ctrlState
	response       [MaxResponseSize]byte
	responseLen    int
	responseOff    int
	pendingAddress uint8

	// Active configuration value (0 = not configured).
	configuration uint8
}

// New creates a control client for the given controller and descriptor
// tables. The configuration descriptor's TotalLength and NumEndpoints are
// derived from the tables, so callers need not precompute them.
func New(controller usb.Controller, config Config) *Client {
	total := usb.ConfigurationDescriptorSize + usb.InterfaceDescriptorSize +
		len(config.Endpoints)*usb.EndpointDescriptorSize
	if config.HID != nil {
		total += usb.HIDDescriptorSize
	}
	config.Configuration.TotalLength = uint16(total)
	config.Configuration.NumInterfaces = 1
	config.Interface.NumEndpoints = uint8(len(config.Endpoints))
	if config.Report != nil && config.HID != nil {
		config.HID.ReportDescLen = uint16(len(config.Report))
	}
	return &Client{
		controller: controller,
		config:     config,
	}
}

// Controller returns the controller this client drives.
func (c *Client) Controller() usb.Controller {
	return c.controller
}

// Configured returns true once the host has selected a configuration.
func (c *Client) Configured() bool {
	return c.configuration != 0
}

// Enable registers the EP0 transaction buffer with the controller.
func (c *Client) Enable() {
	c.controller.EndpointSetCtrlBuffer(&c.buffer)
}

// Attach connects the device to the bus.
func (c *Client) Attach() {
	c.controller.Attach()
}

// CtrlSetup handles a SETUP transaction on EP0.
func (c *Client) CtrlSetup(ep int) usb.CtrlSetupResult {
	if ep != 0 {
		return usb.CtrlSetupError
	}

	var setup usb.SetupPacket
	if err := usb.ParseSetupPacket(c.buffer.Buf[:usb.SetupPacketSize], &setup); err != nil {
		return usb.CtrlSetupError
	}

	pkg.LogDebug(pkg.ComponentCtrl, "setup received", "request", setup.String())

	c.state = stateIdle
	c.responseLen = 0
	c.responseOff = 0

	switch {
	case setup.IsStandard():
		return c.handleStandard(&setup)
	case setup.IsClass():
		return c.handleClass(&setup)
	default:
		return usb.CtrlSetupError
	}
}

// handleStandard answers standard device requests.
func (c *Client) handleStandard(setup *usb.SetupPacket) usb.CtrlSetupResult {
	switch setup.Request {
	case usb.RequestGetDescriptor:
		return c.getDescriptor(setup)

	case usb.RequestSetAddress:
		c.pendingAddress = uint8(setup.Value & 0x7F)
		c.state = stateSetAddress
		return usb.CtrlSetupOKSetAddress

	case usb.RequestSetConfiguration:
		c.configuration = uint8(setup.Value & 0xFF)
		pkg.LogDebug(pkg.ComponentCtrl, "configuration set",
			"value", c.configuration)
		return usb.CtrlSetupOK

	case usb.RequestGetConfiguration:
		c.response[0] = c.configuration
		return c.stageResponse(1, setup)

	case usb.RequestGetStatus:
		c.response[0] = 0
		c.response[1] = 0
		return c.stageResponse(2, setup)

	case usb.RequestGetInterface:
		c.response[0] = 0
		return c.stageResponse(1, setup)

	case usb.RequestSetInterface, usb.RequestClearFeature, usb.RequestSetFeature:
		// Single interface, no alternates, no features.
		return usb.CtrlSetupOK

	default:
		return usb.CtrlSetupError
	}
}

// HID class request codes served here.
const (
	requestGetIdle     = 0x02
	requestSetIdle     = 0x0A
	requestGetProtocol = 0x03
	requestSetProtocol = 0x0B
)

// handleClass answers the HID class requests a CTAP interface receives.
// Idle rate and protocol are accepted but carry no behavior for a
// non-boot interface.
func (c *Client) handleClass(setup *usb.SetupPacket) usb.CtrlSetupResult {
	switch setup.Request {
	case requestSetIdle, requestSetProtocol:
		return usb.CtrlSetupOK
	case requestGetIdle:
		c.response[0] = 0
		return c.stageResponse(1, setup)
	case requestGetProtocol:
		c.response[0] = 1 // Report protocol
		return c.stageResponse(1, setup)
	default:
		return usb.CtrlSetupError
	}
}

// getDescriptor stages the requested descriptor into the response buffer.
func (c *Client) getDescriptor(setup *usb.SetupPacket) usb.CtrlSetupResult {
	var n int

	switch setup.DescriptorType() {
	case usb.DescriptorTypeDevice:
		n = c.config.Device.MarshalTo(c.response[:])

	case usb.DescriptorTypeConfiguration:
		if setup.DescriptorIndex() != 0 {
			return usb.CtrlSetupError
		}
		n = c.marshalConfiguration()

	case usb.DescriptorTypeString:
		n = c.marshalString(setup.DescriptorIndex())
		if n == 0 {
			return usb.CtrlSetupError
		}

	case usb.DescriptorTypeHID:
		if c.config.HID == nil {
			return usb.CtrlSetupError
		}
		n = c.config.HID.MarshalTo(c.response[:])

	case usb.DescriptorTypeHIDReport:
		if c.config.Report == nil {
			return usb.CtrlSetupError
		}
		n = copy(c.response[:], c.config.Report)

	default:
		return usb.CtrlSetupError
	}

	if n == 0 {
		return usb.CtrlSetupError
	}
	return c.stageResponse(n, setup)
}

// marshalConfiguration writes the full configuration descriptor set
// (configuration, interface, HID, endpoints) to the response buffer.
func (c *Client) marshalConfiguration() int {
	n := c.config.Configuration.MarshalTo(c.response[:])
	n += c.config.Interface.MarshalTo(c.response[n:])
	if c.config.HID != nil {
		n += c.config.HID.MarshalTo(c.response[n:])
	}
	for i := range c.config.Endpoints {
		n += c.config.Endpoints[i].MarshalTo(c.response[n:])
	}
	return n
}

// marshalString writes the string descriptor at index to the response
// buffer. Index 0 is the language ID table.
func (c *Client) marshalString(index uint8) int {
	if index == 0 {
		return usb.LanguageDescriptorTo(c.response[:], c.config.Languages...)
	}
	i := int(index) - 1
	if i >= len(c.config.Strings) {
		return 0
	}
	return usb.StringDescriptorTo(c.response[:], c.config.Strings[i])
}

// stageResponse arms the data-in state machine with n response bytes,
// truncated to the host's requested length.
func (c *Client) stageResponse(n int, setup *usb.SetupPacket) usb.CtrlSetupResult {
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	c.responseLen = n
	c.responseOff = 0
	c.state = stateDataIn
	return usb.CtrlSetupOK
}

// CtrlIn streams the staged response to the host in EP0-sized pieces.
func (c *Client) CtrlIn(ep int) usb.CtrlInResult {
	if ep != 0 {
		return usb.CtrlInError
	}
	if c.state != stateDataIn {
		// Zero-length status handshake for requests without a data stage.
		return usb.CtrlInPacket(0, true)
	}

	max := int(c.config.Device.MaxPacketSize0)
	remaining := c.responseLen - c.responseOff
	n := remaining
	if n > max {
		n = max
	}
	copy(c.buffer.Buf[:n], c.response[c.responseOff:c.responseOff+n])
	c.responseOff += n

	// A response that is an exact multiple of the packet size ends with a
	// zero-length packet, so the transfer is last only when short.
	last := c.responseOff >= c.responseLen && n < max
	if last {
		c.state = stateIdle
	}
	return usb.CtrlInPacket(n, last)
}

// CtrlOut consumes a control OUT data stage. No standard or HID request
// served here carries OUT data, so payload bytes are ignored.
func (c *Client) CtrlOut(ep int, n int) usb.CtrlOutResult {
	if ep != 0 {
		return usb.CtrlOutError
	}
	return usb.CtrlOutOK
}

// CtrlStatus is invoked at the start of the status stage.
func (c *Client) CtrlStatus(ep int) {}

// CtrlStatusComplete applies deferred effects once the status stage
// completes. SET_ADDRESS takes effect only here, per USB 2.0 Spec 9.4.6.
func (c *Client) CtrlStatusComplete(ep int) {
	if c.state == stateSetAddress {
		c.controller.SetAddress(c.pendingAddress)
		pkg.LogDebug(pkg.ComponentCtrl, "address set",
			"address", c.pendingAddress)
	}
	c.state = stateIdle
}
