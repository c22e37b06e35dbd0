// Package domain defines the data models, contracts and error taxonomy shared
// by the session-security and secure-transport packages.
//
// It contains plain types (wire frames and records), interfaces (stores,
// verifiers, the encrypted sender capability) and the typed Error used to
// carry stable error codes to clients. It has no dependencies on concrete
// storage or transport packages.
package domain
