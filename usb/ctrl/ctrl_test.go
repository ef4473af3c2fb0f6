package ctrl

import (
	"testing"

	"github.com/ardnew/softctap/usb"
)

// mockController records what the client asks of it.
type mockController struct {
	client     usb.Client
	ctrlBuffer *usb.Buffer64
	address    uint8
	attached   bool
}

func (m *mockController) SetClient(c usb.Client)                         { m.client = c }
func (m *mockController) Enable()                                        {}
func (m *mockController) Attach()                                        { m.attached = true }
func (m *mockController) Detach()                                        { m.attached = false }
func (m *mockController) SetAddress(addr uint8)                          { m.address = addr }
func (m *mockController) EndpointSetCtrlBuffer(buf *usb.Buffer64)        { m.ctrlBuffer = buf }
func (m *mockController) EndpointSetBuffer(ep int, buf *usb.Buffer64)    {}
func (m *mockController) EndpointInOutEnable(t usb.TransferType, ep int) {}
func (m *mockController) EndpointResumeIn(ep int)                        {}
func (m *mockController) EndpointResumeOut(ep int)                       {}
func (m *mockController) EndpointCancelIn(ep int)                        {}

func testConfig() Config {
	return Config{
		Device: usb.DeviceDescriptor{
			USBVersion:        0x0200,
			MaxPacketSize0:    8, // Small EP0 exercises multi-packet responses
			VendorID:          0x1915,
			ProductID:         0x521F,
			ManufacturerIndex: 1,
			ProductIndex:      2,
			NumConfigurations: 1,
		},
		Configuration: usb.ConfigurationDescriptor{
			ConfigurationValue: 1,
			Attributes:         usb.ConfigAttrBusPowered,
			MaxPower:           50,
		},
		Interface: usb.InterfaceDescriptor{
			InterfaceClass: usb.ClassHID,
		},
		Endpoints: []usb.EndpointDescriptor{
			{EndpointAddress: usb.EndpointDirectionOut | 1, TransferType: usb.TransferTypeInterrupt, MaxPacketSize: 64, Interval: 5},
			{EndpointAddress: usb.EndpointDirectionIn | 1, TransferType: usb.TransferTypeInterrupt, MaxPacketSize: 64, Interval: 5},
		},
		HID:       &usb.HIDDescriptor{HIDVersion: 0x0110},
		Report:    []byte{0x06, 0xD0, 0xF1, 0x09, 0x01},
		Languages: []uint16{usb.LangIDUSEnglish},
		Strings:   []string{"Maker", "Widget"},
	}
}

func newTestClient(t *testing.T) (*Client, *mockController) {
	t.Helper()
	controller := &mockController{}
	client := New(controller, testConfig())
	client.Enable()
	if controller.ctrlBuffer == nil {
		t.Fatal("Enable did not register the EP0 buffer")
	}
	return client, controller
}

// setup writes a SETUP packet into the EP0 buffer and delivers it.
func setup(t *testing.T, c *Client, m *mockController, s *usb.SetupPacket) usb.CtrlSetupResult {
	t.Helper()
	s.MarshalTo(m.ctrlBuffer.Buf[:])
	return c.CtrlSetup(0)
}

// readResponse drains the data stage into one slice.
func readResponse(t *testing.T, c *Client, m *mockController) []byte {
	t.Helper()
	var data []byte
	for {
		res := c.CtrlIn(0)
		if res.Status != usb.CtrlInStatusPacket {
			t.Fatalf("CtrlIn status = %v", res.Status)
		}
		data = append(data, m.ctrlBuffer.Buf[:res.Count]...)
		if res.Last {
			return data
		}
	}
}

func TestNewDerivesLengths(t *testing.T) {
	client, _ := newTestClient(t)

	wantTotal := uint16(usb.ConfigurationDescriptorSize + usb.InterfaceDescriptorSize +
		usb.HIDDescriptorSize + 2*usb.EndpointDescriptorSize)
	if got := client.config.Configuration.TotalLength; got != wantTotal {
		t.Errorf("TotalLength = %d, want %d", got, wantTotal)
	}
	if got := client.config.Interface.NumEndpoints; got != 2 {
		t.Errorf("NumEndpoints = %d, want 2", got)
	}
	if got := client.config.HID.ReportDescLen; got != 5 {
		t.Errorf("ReportDescLen = %d, want 5", got)
	}
}

func TestGetDeviceDescriptor(t *testing.T) {
	client, controller := newTestClient(t)

	var s usb.SetupPacket
	usb.GetDescriptorSetup(&s, usb.DescriptorTypeDevice, 0, usb.DeviceDescriptorSize)
	if res := setup(t, client, controller, &s); res != usb.CtrlSetupOK {
		t.Fatalf("CtrlSetup = %v, want OK", res)
	}

	// MaxPacketSize0 is 8, so 18 bytes arrive as 8+8+2.
	data := readResponse(t, client, controller)
	if len(data) != usb.DeviceDescriptorSize {
		t.Fatalf("response length = %d, want %d", len(data), usb.DeviceDescriptorSize)
	}

	var parsed usb.DeviceDescriptor
	if err := usb.ParseDeviceDescriptor(data, &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.VendorID != 0x1915 || parsed.ProductID != 0x521F {
		t.Errorf("IDs = %04X:%04X, want 1915:521F", parsed.VendorID, parsed.ProductID)
	}
}

func TestGetConfigurationSet(t *testing.T) {
	client, controller := newTestClient(t)

	var s usb.SetupPacket
	usb.GetDescriptorSetup(&s, usb.DescriptorTypeConfiguration, 0, 255)
	if res := setup(t, client, controller, &s); res != usb.CtrlSetupOK {
		t.Fatalf("CtrlSetup = %v, want OK", res)
	}

	data := readResponse(t, client, controller)

	var config usb.ConfigurationDescriptor
	if err := usb.ParseConfigurationDescriptor(data, &config); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if int(config.TotalLength) != len(data) {
		t.Errorf("TotalLength = %d, but %d bytes returned", config.TotalLength, len(data))
	}

	// Interface descriptor follows the configuration descriptor.
	iface := data[usb.ConfigurationDescriptorSize:]
	if iface[1] != usb.DescriptorTypeInterface || iface[5] != usb.ClassHID {
		t.Errorf("unexpected interface descriptor: % X", iface[:usb.InterfaceDescriptorSize])
	}

	// HID descriptor follows the interface descriptor, then endpoints.
	hid := iface[usb.InterfaceDescriptorSize:]
	if hid[1] != usb.DescriptorTypeHID {
		t.Errorf("expected HID descriptor, got type 0x%02X", hid[1])
	}
	ep := hid[usb.HIDDescriptorSize:]
	var parsed usb.EndpointDescriptor
	if err := usb.ParseEndpointDescriptor(ep, &parsed); err != nil {
		t.Fatalf("endpoint parse error: %v", err)
	}
	if parsed.IsIn() || parsed.Number() != 1 {
		t.Errorf("first endpoint = %+v, want OUT 1", parsed)
	}
}

func TestGetConfigurationTruncated(t *testing.T) {
	client, controller := newTestClient(t)

	// Hosts first read just the 9-byte header to learn TotalLength.
	var s usb.SetupPacket
	usb.GetDescriptorSetup(&s, usb.DescriptorTypeConfiguration, 0, usb.ConfigurationDescriptorSize)
	setup(t, client, controller, &s)

	data := readResponse(t, client, controller)
	if len(data) != usb.ConfigurationDescriptorSize {
		t.Errorf("response length = %d, want %d", len(data), usb.ConfigurationDescriptorSize)
	}
}

func TestGetStringDescriptors(t *testing.T) {
	client, controller := newTestClient(t)

	var s usb.SetupPacket
	usb.GetDescriptorSetup(&s, usb.DescriptorTypeString, 0, 255)
	setup(t, client, controller, &s)
	lang := readResponse(t, client, controller)
	if len(lang) != 4 || lang[2] != 0x09 || lang[3] != 0x04 {
		t.Errorf("language table = % X", lang)
	}

	usb.GetDescriptorSetup(&s, usb.DescriptorTypeString, 1, 255)
	setup(t, client, controller, &s)
	str := readResponse(t, client, controller)
	if len(str) != 2+2*len("Maker") {
		t.Errorf("string length = %d", len(str))
	}

	usb.GetDescriptorSetup(&s, usb.DescriptorTypeString, 9, 255)
	if res := setup(t, client, controller, &s); res != usb.CtrlSetupError {
		t.Errorf("out-of-range string index: CtrlSetup = %v, want error", res)
	}
}

func TestGetHIDDescriptors(t *testing.T) {
	client, controller := newTestClient(t)

	var s usb.SetupPacket
	usb.GetDescriptorSetup(&s, usb.DescriptorTypeHIDReport, 0, 255)
	s.RequestType |= usb.RequestRecipientInterface
	setup(t, client, controller, &s)
	report := readResponse(t, client, controller)
	if len(report) != 5 {
		t.Errorf("report descriptor length = %d, want 5", len(report))
	}

	usb.GetDescriptorSetup(&s, usb.DescriptorTypeHID, 0, 255)
	s.RequestType |= usb.RequestRecipientInterface
	setup(t, client, controller, &s)
	hid := readResponse(t, client, controller)
	if len(hid) != usb.HIDDescriptorSize {
		t.Errorf("HID descriptor length = %d, want %d", len(hid), usb.HIDDescriptorSize)
	}
}

func TestSetAddressDeferred(t *testing.T) {
	client, controller := newTestClient(t)

	var s usb.SetupPacket
	usb.SetAddressSetup(&s, 5)
	if res := setup(t, client, controller, &s); res != usb.CtrlSetupOKSetAddress {
		t.Fatalf("CtrlSetup = %v, want OKSetAddress", res)
	}

	// The address must not change before the status stage completes.
	if controller.address != 0 {
		t.Fatal("address applied before status stage")
	}
	client.CtrlStatus(0)
	client.CtrlStatusComplete(0)
	if controller.address != 5 {
		t.Errorf("address = %d, want 5", controller.address)
	}
}

func TestSetConfiguration(t *testing.T) {
	client, controller := newTestClient(t)

	if client.Configured() {
		t.Fatal("configured before SET_CONFIGURATION")
	}

	var s usb.SetupPacket
	usb.SetConfigurationSetup(&s, 1)
	if res := setup(t, client, controller, &s); res != usb.CtrlSetupOK {
		t.Fatalf("CtrlSetup = %v, want OK", res)
	}
	client.CtrlStatus(0)
	client.CtrlStatusComplete(0)

	if !client.Configured() {
		t.Error("not configured after SET_CONFIGURATION")
	}

	// GET_CONFIGURATION reflects the selection.
	s = usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost,
		Request:     usb.RequestGetConfiguration,
		Length:      1,
	}
	setup(t, client, controller, &s)
	data := readResponse(t, client, controller)
	if len(data) != 1 || data[0] != 1 {
		t.Errorf("GET_CONFIGURATION = % X, want 01", data)
	}
}

func TestGetStatus(t *testing.T) {
	client, controller := newTestClient(t)

	s := usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost,
		Request:     usb.RequestGetStatus,
		Length:      2,
	}
	setup(t, client, controller, &s)
	data := readResponse(t, client, controller)
	if len(data) != 2 || data[0] != 0 || data[1] != 0 {
		t.Errorf("GET_STATUS = % X, want 00 00", data)
	}
}

func TestHIDClassRequests(t *testing.T) {
	client, controller := newTestClient(t)

	// SET_IDLE is accepted without a data stage.
	s := usb.SetupPacket{
		RequestType: usb.RequestTypeClass | usb.RequestRecipientInterface,
		Request:     0x0A,
	}
	if res := setup(t, client, controller, &s); res != usb.CtrlSetupOK {
		t.Errorf("SET_IDLE = %v, want OK", res)
	}

	// GET_PROTOCOL reports the report protocol.
	s = usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost | usb.RequestTypeClass | usb.RequestRecipientInterface,
		Request:     0x03,
		Length:      1,
	}
	setup(t, client, controller, &s)
	data := readResponse(t, client, controller)
	if len(data) != 1 || data[0] != 1 {
		t.Errorf("GET_PROTOCOL = % X, want 01", data)
	}
}

func TestUnsupportedRequests(t *testing.T) {
	client, controller := newTestClient(t)

	vendor := usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost | usb.RequestTypeVendor,
		Request:     0x42,
	}
	if res := setup(t, client, controller, &vendor); res != usb.CtrlSetupError {
		t.Errorf("vendor request = %v, want error", res)
	}

	unknown := usb.SetupPacket{
		RequestType: usb.RequestDirectionHostToDevice,
		Request:     0x7F,
	}
	if res := setup(t, client, controller, &unknown); res != usb.CtrlSetupError {
		t.Errorf("unknown standard request = %v, want error", res)
	}
}

func TestCtrlCallbacksRejectWrongEndpoint(t *testing.T) {
	client, _ := newTestClient(t)

	if res := client.CtrlSetup(1); res != usb.CtrlSetupError {
		t.Errorf("CtrlSetup(1) = %v, want error", res)
	}
	if res := client.CtrlIn(1); res.Status != usb.CtrlInStatusError {
		t.Errorf("CtrlIn(1) = %v, want error", res.Status)
	}
	if res := client.CtrlOut(1, 0); res != usb.CtrlOutError {
		t.Errorf("CtrlOut(1) = %v, want error", res)
	}
}

func TestZeroLengthPacketTermination(t *testing.T) {
	client, controller := newTestClient(t)

	// A 16-byte response over an 8-byte EP0 is an exact multiple: the
	// transfer must end with a zero-length packet.
	var s usb.SetupPacket
	usb.GetDescriptorSetup(&s, usb.DescriptorTypeDevice, 0, 16)
	setup(t, client, controller, &s)

	for i := 0; i < 2; i++ {
		res := client.CtrlIn(0)
		if res.Status != usb.CtrlInStatusPacket || res.Count != 8 || res.Last {
			t.Fatalf("packet %d: %+v", i, res)
		}
	}
	res := client.CtrlIn(0)
	if res.Status != usb.CtrlInStatusPacket || res.Count != 0 || !res.Last {
		t.Errorf("final packet: %+v, want zero-length last", res)
	}
}
