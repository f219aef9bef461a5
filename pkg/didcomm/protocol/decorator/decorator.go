/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package decorator holds the message decorators shared by didcomm
// protocols: thread correlation and signed attachments.
package decorator

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"

	"github.com/emergentid/didx/pkg/kms"
	"github.com/emergentid/didx/pkg/vdr/fingerprint"
)

// Thread thread data.
type Thread struct {
	ID  string `json:"thid,omitempty"`
	PID string `json:"pthid,omitempty"`
}

// ErrNotSigned is returned when signed payload access or verification is
// attempted on an unsigned attachment.
var ErrNotSigned = errors.New("attachment is not signed")

// Attachment is a didcomm `~attach` decorator embedding a payload in a
// message, optionally with a detached signature over it.
type Attachment struct {
	ID       string         `json:"@id,omitempty"`
	MimeType string         `json:"mime-type,omitempty"`
	Data     AttachmentData `json:"data,omitempty"`
}

// AttachmentData contains attachment payload in one of its supported forms,
// plus the detached signature if the attachment is signed.
type AttachmentData struct {
	// Base64 encoded payload bytes.
	Base64 string `json:"base64,omitempty"`
	// JSON payload, for unsigned attachments embedded directly.
	JSON interface{} `json:"json,omitempty"`
	// Signature over the payload, detached JWS style.
	Signature *Signature `json:"jws,omitempty"`
}

// Signature is a detached EdDSA signature over an attachment payload.
// The signing input is ASCII(protected || '.' || base64 payload).
type Signature struct {
	// Protected is the base64url-encoded signature header.
	Protected string `json:"protected,omitempty"`
	// Signature is the base64url-encoded signature bytes.
	Signature string `json:"signature,omitempty"`
}

type signatureHeader struct {
	Alg string `json:"alg"`
	KID string `json:"kid"`
}

// NewAttachment wraps payload bytes into a base64 attachment ready for signing.
func NewAttachment(payload []byte) *Attachment {
	return &Attachment{
		ID:       uuid.New().String(),
		MimeType: "application/json",
		Data: AttachmentData{
			Base64: base64.StdEncoding.EncodeToString(payload),
		},
	}
}

// Fetch returns the attachment payload bytes.
func (d *AttachmentData) Fetch() ([]byte, error) {
	if d.JSON != nil {
		bytes, err := json.Marshal(d.JSON)
		if err != nil {
			return nil, fmt.Errorf("invalid json attachment contents: %w", err)
		}

		return bytes, nil
	}

	if d.Base64 != "" {
		bytes, err := base64.StdEncoding.DecodeString(d.Base64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 attachment contents: %w", err)
		}

		return bytes, nil
	}

	return nil, errors.New("no contents in this attachment")
}

// Sign attaches a detached signature over the base64 payload, produced with
// the private key behind verKey. The signer is identified in the protected
// header by its did:key form.
func (d *AttachmentData) Sign(wallet kms.Wallet, verKey string) error {
	if d.Base64 == "" {
		return errors.New("sign attachment: only base64 payloads can be signed")
	}

	didKey, _ := fingerprint.CreateDIDKey(base58.Decode(verKey))

	headerBytes, err := json.Marshal(&signatureHeader{Alg: "EdDSA", KID: didKey})
	if err != nil {
		return fmt.Errorf("sign attachment: %w", err)
	}

	protected := base64.RawURLEncoding.EncodeToString(headerBytes)

	sig, err := wallet.SignMessage(signingInput(protected, d.Base64), verKey)
	if err != nil {
		return fmt.Errorf("sign attachment: %w", err)
	}

	d.Signature = &Signature{
		Protected: protected,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}

	return nil
}

// Verify checks the attachment's detached signature. When expectedKey (a
// base58 verkey) is non-empty the signature must verify against that exact
// key; otherwise the key named in the protected header is used.
func (d *AttachmentData) Verify(wallet kms.Wallet, expectedKey string) error {
	if d.Signature == nil {
		return ErrNotSigned
	}

	signerKey, err := d.SignerKey()
	if err != nil {
		return err
	}

	verKey := expectedKey
	if verKey == "" {
		verKey = signerKey
	}

	sig, err := base64.RawURLEncoding.DecodeString(d.Signature.Signature)
	if err != nil {
		return fmt.Errorf("verify attachment: invalid signature encoding: %w", err)
	}

	if err := wallet.VerifySignature(signingInput(d.Signature.Protected, d.Base64), sig, verKey); err != nil {
		return fmt.Errorf("verify attachment: %w", err)
	}

	return nil
}

// SignerKey returns the base58 verkey named in the signature's protected header.
func (d *AttachmentData) SignerKey() (string, error) {
	if d.Signature == nil {
		return "", ErrNotSigned
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(d.Signature.Protected)
	if err != nil {
		return "", fmt.Errorf("attachment signer: invalid protected header: %w", err)
	}

	header := &signatureHeader{}
	if err := json.Unmarshal(headerBytes, header); err != nil {
		return "", fmt.Errorf("attachment signer: %w", err)
	}

	return fingerprint.KeyB58FromDIDKey(header.KID)
}

func signingInput(protected, payloadB64 string) []byte {
	return []byte(protected + "." + payloadB64)
}
