package domain

import (
	interfaces "vaultline/internal/domain/interfaces"
	types "vaultline/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID            = types.UserID
	ConnectionID      = types.ConnectionID
	SessionGUID       = types.SessionGUID
	KID               = types.KID
	SessionRecord     = types.SessionRecord
	SessionClaims     = types.SessionClaims
	PrivilegedClaims  = types.PrivilegedClaims
	HandshakeMessage  = types.HandshakeMessage
	CloseMessage      = types.CloseMessage
	VerificationFrame = types.VerificationFrame
	RelayFrame        = types.RelayFrame
	DeliveryFrame     = types.DeliveryFrame
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	SecretCache          = interfaces.SecretCache
	SessionRepository    = interfaces.SessionRepository
	SessionStore         = interfaces.SessionStore
	RelayStore           = interfaces.RelayStore
	SessionTokenVerifier = interfaces.SessionTokenVerifier
	SecondFactorVerifier = interfaces.SecondFactorVerifier
	EncryptedSender      = interfaces.EncryptedSender
	Peer                 = interfaces.Peer
)
