package pkg

import "errors"

// Transport and protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrDetached indicates the device is not attached to a host.
	ErrDetached = errors.New("device detached")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint number or address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidTransferType indicates a transfer type the client does not serve.
	ErrInvalidTransferType = errors.New("invalid transfer type")

	// ErrInvalidPacketSize indicates a packet whose length is not the fixed report size.
	ErrInvalidPacketSize = errors.New("invalid packet size")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrInvalidChannel indicates a CTAPHID channel identifier that is not allocated.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidSequence indicates an out-of-order continuation packet.
	ErrInvalidSequence = errors.New("invalid sequence number")

	// ErrInvalidCommand indicates an unrecognized CTAPHID command.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrMessageTooLarge indicates a message exceeding the maximum CTAPHID payload.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrTimeout indicates the emulated host gave up waiting on the device.
	ErrTimeout = errors.New("transfer timeout")
)
