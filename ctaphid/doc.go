// Package ctaphid implements the CTAP HID transport client of a USB
// device controller.
//
// The [Client] sits between a [usb.Controller] below and a [PacketClient]
// above, exchanging fixed 64-byte reports over one interrupt IN and one
// interrupt OUT endpoint. It imposes no framing of its own: each
// transaction is 64 opaque bytes, and message framing above that (CTAPHID
// channels and commands) belongs to the layer above, such as
// [github.com/ardnew/softctap/fido].
//
// # Flow control
//
// The client tracks three independent per-direction conditions:
//
//   - pending in: a transmit was requested and has not completed
//   - pending out: a receive was requested and no packet delivered yet
//   - delayed out: a received packet is withheld because the protocol
//     layer was not ready, held until a later ReceivePacket call
//
// At most one packet is staged for transmission; excess transmits are
// rejected, never queued. Delay results push retry responsibility to the
// controller (re-poll after a resume) or to a later explicit call; the
// client itself never retries. A packet arriving from the host always
// preempts a stale staged reply.
//
// Control transfers and descriptor tables are delegated to
// [github.com/ardnew/softctap/usb/ctrl]; the client passes those
// callbacks through unchanged.
//
// # Execution model
//
// Everything runs in a single logical execution context: controller
// callbacks are serialized and non-reentrant, and client calls must come
// from that same context. The client therefore takes no locks. Usage and
// protocol errors surface as error results to the controller; invariant
// violations panic, since they signal controller-contract breakage.
package ctaphid
