package gateway

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"vaultline/internal/domain"
)

// Close codes sent in the close frame and in the clear {code, error} frame.
const (
	CloseMalformed        = 4400
	CloseUnauthorized     = 4401
	CloseRelayUnavailable = 4503
)

// Close reasons.
const (
	ReasonDecryptionFailed    = "decryption_failed"
	ReasonMalformedFrame      = "malformed_frame"
	ReasonUnauthorized        = "unauthorized"
	ReasonVerificationTimeout = "verification_timeout"
	ReasonRelayUnavailable    = "relay_unavailable"
)

var errEmptyReceiver = errors.New("gateway: relay frame has no receiver")

// EncodeVerification builds the plaintext of the first frame a client sends.
func EncodeVerification(sessionToken string) ([]byte, error) {
	return cbor.Marshal(domain.VerificationFrame{SessionToken: sessionToken})
}

// EncodeRelay builds the plaintext of a relay request.
func EncodeRelay(receiver domain.UserID, payload []byte) ([]byte, error) {
	return cbor.Marshal(domain.RelayFrame{Receiver: receiver, Payload: payload})
}

// DecodeDelivery parses a frame received from the gateway.
func DecodeDelivery(b []byte) (domain.DeliveryFrame, error) {
	var f domain.DeliveryFrame
	err := cbor.Unmarshal(b, &f)
	return f, err
}

func decodeVerification(b []byte) (domain.VerificationFrame, error) {
	var f domain.VerificationFrame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return f, err
	}
	if f.SessionToken == "" {
		return f, errors.New("gateway: verification frame has no token")
	}
	return f, nil
}

func decodeRelay(b []byte) (domain.RelayFrame, error) {
	var f domain.RelayFrame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return f, err
	}
	if f.Receiver == "" {
		return f, errEmptyReceiver
	}
	return f, nil
}

func encodeDelivery(f domain.DeliveryFrame) ([]byte, error) {
	return cbor.Marshal(f)
}
