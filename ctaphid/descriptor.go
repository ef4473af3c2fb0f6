package ctaphid

import "github.com/ardnew/softctap/usb"

// Default device identity. Boards can override via [Identity].
const (
	VendorID  = 0x1915 // Nordic Semiconductor
	ProductID = 0x521F // nRF52840 Dongle (PCA10059)
)

// Identity carries the device identity served during enumeration.
type Identity struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	SerialNumber string
}

// DefaultIdentity returns the identity of the reference board.
func DefaultIdentity() Identity {
	return Identity{
		VendorID:     VendorID,
		ProductID:    ProductID,
		Manufacturer: "Nordic Semiconductor ASA",
		Product:      "SoftCTAP",
		SerialNumber: "v0.1",
	}
}

// Endpoint is the single interrupt endpoint number this client governs,
// in both directions. Any other endpoint reaching the client is an error.
const Endpoint = 1

// PollInterval is the interrupt polling interval in frames.
const PollInterval = 5

// ReportDescriptor is the FIDO HID report descriptor: one 64-byte input
// report and one 64-byte output report of opaque bytes on the FIDO usage
// page (FIDO2 spec section 8.1.8.2).
var ReportDescriptor = []byte{
	0x06, 0xD0, 0xF1, // Usage Page (FIDO)
	0x09, 0x01, // Usage (CTAPHID)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x20, //   Usage (Data In)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xFF, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x40, //   Report Count (64)
	0x81, 0x02, //   Input (Data, Absolute, Variable)
	0x09, 0x21, //   Usage (Data Out)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xFF, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x40, //   Report Count (64)
	0x91, 0x02, //   Output (Data, Absolute, Variable)
	0xC0, // End Collection
}

// endpoints returns the interrupt endpoint pair descriptor table.
func endpoints() []usb.EndpointDescriptor {
	return []usb.EndpointDescriptor{
		{
			EndpointAddress: Endpoint | usb.EndpointDirectionOut,
			TransferType:    usb.TransferTypeInterrupt,
			MaxPacketSize:   usb.PacketSize,
			Interval:        PollInterval,
		},
		{
			EndpointAddress: Endpoint | usb.EndpointDirectionIn,
			TransferType:    usb.TransferTypeInterrupt,
			MaxPacketSize:   usb.PacketSize,
			Interval:        PollInterval,
		},
	}
}

// deviceDescriptor returns the device descriptor for the given identity.
func deviceDescriptor(id Identity) usb.DeviceDescriptor {
	return usb.DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    usb.PacketSize,
		VendorID:          id.VendorID,
		ProductID:         id.ProductID,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
}
