// Package fido implements the CTAPHID message layer on top of the packet
// transport: channel allocation, fragmentation and reassembly of messages
// into 64-byte reports, and the command set (INIT, PING, WINK, MSG, CBOR,
// CANCEL, KEEPALIVE, ERROR) including a minimal CTAP2 GetInfo responder.
//
// Messages larger than one report span an initialization packet and up to
// 128 sequence-numbered continuation packets. The layer below carries at
// most one packet per direction, so responses queue here and drain one
// packet per host read.
package fido
