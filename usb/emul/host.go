package emul

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
)

// maxCtrlTransfer bounds a single control transfer's data stage.
const maxCtrlTransfer = 4096

// Host is the host-side bus driver of an emulated controller. It issues
// the SETUP, IN, and OUT tokens that controller hardware would generate,
// invoking the device client's callbacks synchronously.
type Host struct {
	ctrl *Controller

	// Next address to assign during enumeration.
	nextAddress uint8
}

// NewHost creates a host driving the given emulated controller.
func NewHost(ctrl *Controller) *Host {
	return &Host{ctrl: ctrl, nextAddress: 1}
}

// ControlTransfer performs a full control transfer on EP0: SETUP stage,
// optional data stage, and status stage. For device-to-host requests the
// returned slice holds the response; for host-to-device requests out
// carries the data stage payload.
func (h *Host) ControlTransfer(setup *usb.SetupPacket, out []byte) ([]byte, error) {
	if !h.ctrl.attached {
		return nil, pkg.ErrDetached
	}
	if h.ctrl.ctrlBuffer == nil || h.ctrl.client == nil {
		return nil, pkg.ErrNotConfigured
	}

	setup.MarshalTo(h.ctrl.ctrlBuffer.Buf[:])
	switch h.ctrl.client.CtrlSetup(0) {
	case usb.CtrlSetupOK, usb.CtrlSetupOKSetAddress:
	default:
		return nil, fmt.Errorf("control setup %s: %w", setup, pkg.ErrStall)
	}

	var response []byte
	if setup.IsDeviceToHost() && setup.Length > 0 {
		data, err := h.dataInStage(setup)
		if err != nil {
			return nil, err
		}
		response = data
	} else if len(out) > 0 {
		if err := h.dataOutStage(out); err != nil {
			return nil, err
		}
	}

	h.ctrl.client.CtrlStatus(0)
	h.ctrl.client.CtrlStatusComplete(0)
	return response, nil
}

// dataInStage collects the data stage of a device-to-host transfer.
func (h *Host) dataInStage(setup *usb.SetupPacket) ([]byte, error) {
	var data []byte
	for {
		res := h.ctrl.client.CtrlIn(0)
		switch res.Status {
		case usb.CtrlInStatusPacket:
			data = append(data, h.ctrl.ctrlBuffer.Buf[:res.Count]...)
			if res.Last || len(data) >= int(setup.Length) {
				return data, nil
			}
			if len(data) > maxCtrlTransfer {
				return nil, pkg.ErrBufferTooSmall
			}
		case usb.CtrlInStatusDelay:
			// The emulation has no asynchronous data sources; a delay
			// here would never resolve.
			return nil, pkg.ErrTimeout
		default:
			return nil, pkg.ErrStall
		}
	}
}

// dataOutStage sends the data stage of a host-to-device transfer.
func (h *Host) dataOutStage(out []byte) error {
	for off := 0; off < len(out); off += usb.PacketSize {
		end := off + usb.PacketSize
		if end > len(out) {
			end = len(out)
		}
		n := copy(h.ctrl.ctrlBuffer.Buf[:], out[off:end])
		if res := h.ctrl.client.CtrlOut(0, n); res != usb.CtrlOutOK {
			return pkg.ErrStall
		}
	}
	return nil
}

// SendReport delivers an interrupt OUT report to the device. A held OUT
// direction (the device reported a delay and has not resumed) surfaces as
// a timeout, the way a host sees endless NAKs.
func (h *Host) SendReport(ep int, data []byte) error {
	if !h.ctrl.attached {
		return pkg.ErrDetached
	}
	if ep < 1 || ep > usb.MaxEndpoints || !h.ctrl.epEnabled[ep] {
		return pkg.ErrInvalidEndpoint
	}
	// Reports ride interrupt endpoints only.
	if h.ctrl.epType[ep] != usb.TransferTypeInterrupt {
		return pkg.ErrInvalidTransferType
	}
	if h.ctrl.outHeld[ep] {
		return pkg.ErrTimeout
	}

	copy(h.ctrl.epBuffer[ep].Buf[:], data)
	switch h.ctrl.client.PacketOut(h.ctrl.epType[ep], ep, len(data)) {
	case usb.OutOK:
		return nil
	case usb.OutDelay:
		// The packet was accepted but the device cannot take another
		// until it resumes the direction.
		h.ctrl.outHeld[ep] = true
		return nil
	default:
		return pkg.ErrStall
	}
}

// RecvReport polls the interrupt IN endpoint once. If the device has
// nothing staged the direction is held and the poll times out; a resume
// from the device client releases it.
func (h *Host) RecvReport(ep int) ([]byte, error) {
	if !h.ctrl.attached {
		return nil, pkg.ErrDetached
	}
	if ep < 1 || ep > usb.MaxEndpoints || !h.ctrl.epEnabled[ep] {
		return nil, pkg.ErrInvalidEndpoint
	}
	if h.ctrl.epType[ep] != usb.TransferTypeInterrupt {
		return nil, pkg.ErrInvalidTransferType
	}
	if h.ctrl.inHeld[ep] {
		return nil, pkg.ErrTimeout
	}

	res := h.ctrl.client.PacketIn(h.ctrl.epType[ep], ep)
	switch res.Status {
	case usb.InStatusPacket:
		data := make([]byte, res.Count)
		copy(data, h.ctrl.epBuffer[ep].Buf[:res.Count])
		// The host ACK completes the transfer.
		h.ctrl.client.PacketTransmitted(ep)
		return data, nil
	case usb.InStatusDelay:
		h.ctrl.inHeld[ep] = true
		return nil, pkg.ErrTimeout
	default:
		return nil, pkg.ErrStall
	}
}

// DeviceInfo collects what enumeration learned about the device.
type DeviceInfo struct {
	Device           usb.DeviceDescriptor
	Configuration    usb.ConfigurationDescriptor
	ReportDescriptor []byte
	Manufacturer     string
	Product          string
	SerialNumber     string
}

// Enumerate walks the standard enumeration sequence: read the device
// descriptor, assign an address, read the configuration set and strings,
// select configuration 1, and fetch the HID report descriptor.
func (h *Host) Enumerate() (*DeviceInfo, error) {
	var info DeviceInfo
	var setup usb.SetupPacket

	usb.GetDescriptorSetup(&setup, usb.DescriptorTypeDevice, 0, usb.DeviceDescriptorSize)
	data, err := h.ControlTransfer(&setup, nil)
	if err != nil {
		return nil, fmt.Errorf("get device descriptor: %w", err)
	}
	if err := usb.ParseDeviceDescriptor(data, &info.Device); err != nil {
		return nil, err
	}

	addr := h.nextAddress
	h.nextAddress++
	usb.SetAddressSetup(&setup, addr)
	if _, err := h.ControlTransfer(&setup, nil); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}

	// Read the configuration header first to learn the total length, then
	// the full configuration set.
	usb.GetDescriptorSetup(&setup, usb.DescriptorTypeConfiguration, 0, usb.ConfigurationDescriptorSize)
	data, err = h.ControlTransfer(&setup, nil)
	if err != nil {
		return nil, fmt.Errorf("get configuration descriptor: %w", err)
	}
	if err := usb.ParseConfigurationDescriptor(data, &info.Configuration); err != nil {
		return nil, err
	}
	usb.GetDescriptorSetup(&setup, usb.DescriptorTypeConfiguration, 0, info.Configuration.TotalLength)
	if _, err := h.ControlTransfer(&setup, nil); err != nil {
		return nil, fmt.Errorf("get full configuration: %w", err)
	}

	info.Manufacturer, _ = h.GetString(info.Device.ManufacturerIndex)
	info.Product, _ = h.GetString(info.Device.ProductIndex)
	info.SerialNumber, _ = h.GetString(info.Device.SerialNumberIndex)

	usb.SetConfigurationSetup(&setup, info.Configuration.ConfigurationValue)
	if _, err := h.ControlTransfer(&setup, nil); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}

	info.ReportDescriptor, err = h.GetReportDescriptor(0)
	if err != nil {
		return nil, fmt.Errorf("get report descriptor: %w", err)
	}

	pkg.LogInfo(pkg.ComponentEmul, "enumeration complete",
		"vendorID", fmt.Sprintf("0x%04X", info.Device.VendorID),
		"productID", fmt.Sprintf("0x%04X", info.Device.ProductID),
		"product", info.Product)
	return &info, nil
}

// GetString reads and decodes the string descriptor at index.
func (h *Host) GetString(index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}
	var setup usb.SetupPacket
	usb.GetDescriptorSetup(&setup, usb.DescriptorTypeString, index, 255)
	data, err := h.ControlTransfer(&setup, nil)
	if err != nil {
		return "", err
	}
	if len(data) < 2 || data[1] != usb.DescriptorTypeString {
		return "", pkg.ErrDescriptorTypeMismatch
	}
	runes := make([]rune, 0, (len(data)-2)/2)
	for i := 2; i+1 < len(data); i += 2 {
		runes = append(runes, rune(binary.LittleEndian.Uint16(data[i:])))
	}
	return string(runes), nil
}

// GetReportDescriptor reads the HID report descriptor for an interface.
func (h *Host) GetReportDescriptor(iface uint8) ([]byte, error) {
	setup := usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost | usb.RequestTypeStandard | usb.RequestRecipientInterface,
		Request:     usb.RequestGetDescriptor,
		Value:       usb.DescriptorTypeHIDReport << 8,
		Index:       uint16(iface),
		Length:      255,
	}
	return h.ControlTransfer(&setup, nil)
}
