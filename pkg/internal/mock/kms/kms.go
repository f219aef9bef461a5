/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mockkms provides an in-memory Ed25519 wallet for tests.
package mockkms

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcutil/base58"

	"github.com/emergentid/didx/pkg/kms"
)

// Wallet is an in-memory kms.Wallet backed by real Ed25519 keys, so
// signatures produced by one wallet verify in another.
type Wallet struct {
	keys      map[string]ed25519.PrivateKey // by base58 verkey
	dids      map[string]*kms.KeyHandle     // by DID
	publicDID string
	lock      sync.RWMutex

	// CreateKeyErr, when set, is returned by CreateLocalKey.
	CreateKeyErr error
	// SignErr, when set, is returned by SignMessage.
	SignErr error
}

// New returns an empty mock wallet.
func New() *Wallet {
	return &Wallet{
		keys: make(map[string]ed25519.PrivateKey),
		dids: make(map[string]*kms.KeyHandle),
	}
}

// CreateLocalKey generates an Ed25519 key pair. For the sov method the DID is
// the base58 encoding of the first 16 verkey bytes; for the peer method the
// DID is left empty until assigned with SetDID.
func (w *Wallet) CreateLocalKey(method, keyType string) (*kms.KeyHandle, error) {
	if w.CreateKeyErr != nil {
		return nil, w.CreateKeyErr
	}

	if keyType != kms.KeyTypeEd25519 {
		return nil, fmt.Errorf("unsupported key type: %s", keyType)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	verKey := base58.Encode(pub)

	handle := &kms.KeyHandle{VerKey: verKey, Posture: kms.PostureWalletOnly}
	if method == kms.MethodSov {
		handle.DID = base58.Encode(pub[:16])
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	w.keys[verKey] = priv
	if handle.DID != "" {
		w.dids[handle.DID] = handle
	}

	return handle, nil
}

// SetDID assigns a DID to a key already held by the wallet.
func (w *Wallet) SetDID(verKey, did string) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if _, ok := w.keys[verKey]; !ok {
		return kms.ErrKeyNotFound
	}

	w.dids[did] = &kms.KeyHandle{DID: did, VerKey: verKey, Posture: kms.PostureWalletOnly}

	return nil
}

// SetPosture overrides the stored posture of a DID.
func (w *Wallet) SetPosture(did string, posture kms.Posture) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	handle, ok := w.dids[did]
	if !ok {
		return kms.ErrKeyNotFound
	}

	handle.Posture = posture

	return nil
}

// SetPublicDID marks an existing DID as the wallet's public DID.
func (w *Wallet) SetPublicDID(did string) error {
	if err := w.SetPosture(did, kms.PosturePublic); err != nil {
		return err
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	w.publicDID = did

	return nil
}

// GetLocalKey implements kms.Wallet.
func (w *Wallet) GetLocalKey(did string) (*kms.KeyHandle, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	handle, ok := w.dids[did]
	if !ok {
		return nil, kms.ErrKeyNotFound
	}

	return handle, nil
}

// GetPublicKey implements kms.Wallet.
func (w *Wallet) GetPublicKey() (*kms.KeyHandle, error) {
	w.lock.RLock()
	defer w.lock.RUnlock()

	if w.publicDID == "" {
		return nil, kms.ErrKeyNotFound
	}

	return w.dids[w.publicDID], nil
}

// SignMessage implements kms.Wallet.
func (w *Wallet) SignMessage(message []byte, fromVerKey string) ([]byte, error) {
	if w.SignErr != nil {
		return nil, w.SignErr
	}

	w.lock.RLock()
	priv, ok := w.keys[fromVerKey]
	w.lock.RUnlock()

	if !ok {
		return nil, kms.ErrKeyNotFound
	}

	return ed25519.Sign(priv, message), nil
}

// VerifySignature implements kms.Wallet. Verification needs only the verkey,
// so it works across wallets.
func (w *Wallet) VerifySignature(message, signature []byte, verKey string) error {
	pub := base58.Decode(verKey)
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid verkey: %s", verKey)
	}

	if !ed25519.Verify(pub, message, signature) {
		return errors.New("ed25519 signature verification failed")
	}

	return nil
}
