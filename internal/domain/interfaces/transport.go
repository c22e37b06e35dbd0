package interfaces

import domaintypes "vaultline/internal/domain/types"

// EncryptedSender is the capability a gateway connection exposes to the rest
// of the system.
type EncryptedSender interface {
	// Send encrypts payload under the connection secret and queues it as a
	// single binary frame.
	Send(payload []byte) error
	// CloseWithError sends a clear {code, error} frame and terminates the
	// connection.
	CloseWithError(code int, message string)
}

// Peer is an EncryptedSender registered in the connection directory.
type Peer interface {
	EncryptedSender
	ID() domaintypes.ConnectionID
}
