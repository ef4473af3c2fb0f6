// Package usb defines the hardware-interface layer shared by device
// clients and USB controller drivers.
//
// It contains the two capability sets that bound a device client:
//
//   - [Controller] is the downward interface a client consumes: endpoint
//     enable/resume/cancel primitives and transaction buffer registration.
//   - [Client] is the upward callback interface a controller invokes:
//     SETUP/IN/OUT transactions on the control endpoint and packet
//     transactions on data endpoints.
//
// Transaction results are small enumerated values ([InResult], [OutResult],
// [CtrlInResult], ...) rather than errors: delay results are ordinary
// flow-control outcomes the controller acts on by holding or re-polling a
// direction, not failures.
//
// The package also provides the descriptor structures and SETUP packet
// codec needed to enumerate a device, all using MarshalTo/Parse with
// caller-provided buffers to avoid allocation on transaction paths.
//
// Callbacks for a given endpoint are serialized by the controller; see the
// [Client] contract.
package usb
