/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package kms defines the key-management capability consumed by the
// did-exchange protocol. Implementations own key storage and signing;
// the protocol core only holds verkeys and DIDs.
package kms

import "errors"

const (
	// MethodSov creates a classic, unqualified local DID from the key fingerprint.
	MethodSov = "sov"
	// MethodPeer creates a local key for a peer DID; the DID itself is assigned by the caller.
	MethodPeer = "peer"

	// KeyTypeEd25519 is the only key type the did-exchange protocol signs with.
	KeyTypeEd25519 = "ed25519"
)

// ErrKeyNotFound is returned when no key material exists for the requested DID.
var ErrKeyNotFound = errors.New("key not found")

// Posture describes how widely a local DID is known.
type Posture string

const (
	// PostureWalletOnly marks a DID known only to this wallet.
	PostureWalletOnly Posture = "wallet_only"
	// PosturePosted marks a DID written to a network but not set as the default public DID.
	PosturePosted Posture = "posted"
	// PosturePublic marks the wallet's default public DID.
	PosturePublic Posture = "public"
)

// IsPublic reports whether the posture allows the DID to be addressed by third parties.
func (p Posture) IsPublic() bool {
	return p == PosturePosted || p == PosturePublic
}

// KeyHandle is a reference to a locally held key pair.
type KeyHandle struct {
	// DID derived from (or assigned to) the key.
	DID string
	// VerKey is the base58 encoding of the public key.
	VerKey string
	// Posture of the DID.
	Posture Posture
}

// Wallet exposes key creation, lookup and signing.
// All operations may suspend on the underlying key store but must not
// retain locks between calls.
type Wallet interface {
	// CreateLocalKey generates a new key pair and returns its handle.
	CreateLocalKey(method, keyType string) (*KeyHandle, error)

	// GetLocalKey returns the handle for a DID previously created locally.
	// Returns ErrKeyNotFound if the DID is unknown.
	GetLocalKey(did string) (*KeyHandle, error)

	// GetPublicKey returns the wallet's public DID handle, or ErrKeyNotFound
	// if no public DID is configured.
	GetPublicKey() (*KeyHandle, error)

	// SetDID associates an externally assigned DID (e.g. a peer DID) with a
	// key already held by the wallet.
	SetDID(verKey, did string) error

	// SignMessage signs message with the private key behind fromVerKey.
	SignMessage(message []byte, fromVerKey string) ([]byte, error)

	// VerifySignature checks signature over message against verKey.
	VerifySignature(message, signature []byte, verKey string) error
}
