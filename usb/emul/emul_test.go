package emul_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softctap/ctaphid"
	"github.com/ardnew/softctap/pkg"
	"github.com/ardnew/softctap/usb"
	"github.com/ardnew/softctap/usb/emul"
)

// echoClient accepts every packet and records it.
type echoClient struct {
	ready       bool
	received    [][usb.PacketSize]byte
	transmitted int
}

func (c *echoClient) CanReceivePacket() bool { return c.ready }

func (c *echoClient) PacketReceived(packet *[usb.PacketSize]byte) {
	c.received = append(c.received, *packet)
}

func (c *echoClient) PacketTransmitted() { c.transmitted++ }

// newDevice wires an emulated controller to a CTAP HID transport client.
func newDevice(t *testing.T) (*emul.Host, *ctaphid.Client, *echoClient) {
	t.Helper()
	controller := emul.NewController()
	client := ctaphid.New(controller, ctaphid.DefaultIdentity())
	app := &echoClient{ready: true}
	client.SetClient(app)
	controller.SetClient(client)
	controller.Enable()
	client.Enable()
	client.Attach()
	return emul.NewHost(controller), client, app
}

func TestEnumerate(t *testing.T) {
	host, _, _ := newDevice(t)

	info, err := host.Enumerate()
	require.NoError(t, err)

	assert.Equal(t, uint16(ctaphid.VendorID), info.Device.VendorID)
	assert.Equal(t, uint16(ctaphid.ProductID), info.Device.ProductID)
	assert.Equal(t, uint8(usb.PacketSize), info.Device.MaxPacketSize0)
	assert.Equal(t, uint8(1), info.Device.NumConfigurations)

	assert.Equal(t, "Nordic Semiconductor ASA", info.Manufacturer)
	assert.Equal(t, "SoftCTAP", info.Product)

	// Configuration set: configuration + interface + HID + 2 endpoints.
	wantTotal := uint16(usb.ConfigurationDescriptorSize +
		usb.InterfaceDescriptorSize + usb.HIDDescriptorSize +
		2*usb.EndpointDescriptorSize)
	assert.Equal(t, wantTotal, info.Configuration.TotalLength)
	assert.Equal(t, uint8(1), info.Configuration.ConfigurationValue)

	if diff := cmp.Diff(ctaphid.ReportDescriptor, info.ReportDescriptor); diff != "" {
		t.Errorf("report descriptor mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsupportedRequestStalls(t *testing.T) {
	host, _, _ := newDevice(t)

	setup := usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost | usb.RequestTypeVendor,
		Request:     0x42,
		Length:      4,
	}
	_, err := host.ControlTransfer(&setup, nil)
	require.ErrorIs(t, err, pkg.ErrStall)
}

func TestReportOutDelivery(t *testing.T) {
	host, client, app := newDevice(t)
	require.True(t, client.ReceivePacket())

	report := make([]byte, usb.PacketSize)
	for i := range report {
		report[i] = byte(i)
	}
	require.NoError(t, host.SendReport(ctaphid.Endpoint, report))

	require.Len(t, app.received, 1)
	assert.Equal(t, report, app.received[0][:])
}

func TestReportOutHeldUntilResume(t *testing.T) {
	host, client, app := newDevice(t)
	app.ready = false

	report := make([]byte, usb.PacketSize)
	report[0] = 0xA5

	// The device reports a delay; the packet is withheld and the OUT
	// direction held.
	require.NoError(t, host.SendReport(ctaphid.Endpoint, report))
	require.Empty(t, app.received)

	// Held direction: further sends see NAKs.
	require.ErrorIs(t, host.SendReport(ctaphid.Endpoint, report), pkg.ErrTimeout)

	// The client becomes ready and requests a receive: the withheld
	// packet delivers and the direction resumes.
	app.ready = true
	require.True(t, client.ReceivePacket())
	require.Len(t, app.received, 1)
	assert.Equal(t, byte(0xA5), app.received[0][0])

	require.True(t, client.ReceivePacket())
	require.NoError(t, host.SendReport(ctaphid.Endpoint, report))
	require.Len(t, app.received, 2)
}

func TestReportInPolling(t *testing.T) {
	host, client, app := newDevice(t)

	// Nothing staged: poll times out and the direction is held.
	_, err := host.RecvReport(ctaphid.Endpoint)
	require.ErrorIs(t, err, pkg.ErrTimeout)
	_, err = host.RecvReport(ctaphid.Endpoint)
	require.ErrorIs(t, err, pkg.ErrTimeout)

	// Staging a packet resumes the direction.
	var out [usb.PacketSize]byte
	out[0] = 0x7E
	require.True(t, client.TransmitPacket(&out))

	data, err := host.RecvReport(ctaphid.Endpoint)
	require.NoError(t, err)
	require.Len(t, data, usb.PacketSize)
	assert.Equal(t, byte(0x7E), data[0])
	assert.Equal(t, 1, app.transmitted)

	// Consumed: the next poll holds again.
	_, err = host.RecvReport(ctaphid.Endpoint)
	require.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestReportInvalidEndpoint(t *testing.T) {
	host, _, _ := newDevice(t)

	require.ErrorIs(t, host.SendReport(2, make([]byte, usb.PacketSize)), pkg.ErrInvalidEndpoint)
	_, err := host.RecvReport(0)
	require.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
}

func TestReportNonInterruptEndpoint(t *testing.T) {
	controller := emul.NewController()
	controller.Enable()
	controller.Attach()
	controller.EndpointInOutEnable(usb.TransferTypeBulk, 2)
	host := emul.NewHost(controller)

	require.ErrorIs(t, host.SendReport(2, make([]byte, usb.PacketSize)), pkg.ErrInvalidTransferType)
	_, err := host.RecvReport(2)
	require.ErrorIs(t, err, pkg.ErrInvalidTransferType)
}
