package types

// HandshakeMessage is sent in clear by the gateway right after the upgrade.
type HandshakeMessage struct {
	HandshakePublicKeyHex string       `json:"handshakePublicKeyHex"`
	ConnectionID          ConnectionID `json:"connectionId"`
}

// CloseMessage is sent in clear immediately before the gateway terminates a
// connection it rejects.
type CloseMessage struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// VerificationFrame is the first encrypted frame a client sends.
type VerificationFrame struct {
	SessionToken string `cbor:"sessionToken"`
}

// RelayFrame asks the gateway to deliver Payload to Receiver.
type RelayFrame struct {
	Receiver UserID `cbor:"receiver"`
	Payload  []byte `cbor:"payload"`
}

// DeliveryFrame is what a recipient receives, either directly or after a
// relay drain. The gateway stores its encoded form in the relay unchanged.
type DeliveryFrame struct {
	Sender  UserID `cbor:"sender"`
	Payload []byte `cbor:"payload"`
	SentAt  int64  `cbor:"sentAt"`
}
