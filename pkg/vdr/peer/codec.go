/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package peer encodes and decodes self-certifying peer DIDs.
//
// Two encodings are supported: did:peer:2, whose elements inline the key and
// service block directly, and did:peer:4, whose long form carries the whole
// DID document and whose short form is the content-addressed digest of it.
// Both forms of a did:peer:4 denote the same entity; a party switches to the
// short form only once the counterpart has acknowledged the long form.
package peer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/multiformats/go-multibase"

	"github.com/emergentid/didx/pkg/doc/did"
	"github.com/emergentid/didx/pkg/vdr/fingerprint"
)

const (
	// Prefix2 is the method prefix of did:peer numalgo 2 identifiers.
	Prefix2 = "did:peer:2"
	// Prefix4 is the method prefix of did:peer numalgo 4 identifiers.
	Prefix4 = "did:peer:4"

	// source: https://github.com/multiformats/multicodec/blob/master/table.csv.
	jsonMulticodec = 0x0200 // json
	sha256Code     = 0x12   // sha2-256
	sha256Length   = 0x20
)

// A base58btc multihash of a sha2-256 digest always starts with "Qm".
var (
	longFormPattern  = regexp.MustCompile(`^did:peer:4(zQm[1-9A-HJ-NP-Za-km-z]{44}):(z[1-9A-HJ-NP-Za-km-z]+)$`)
	shortFormPattern = regexp.MustCompile(`^did:peer:4zQm[1-9A-HJ-NP-Za-km-z]{44}$`)
)

// IsLongForm reports whether id is a long-form did:peer:4.
func IsLongForm(id string) bool {
	return longFormPattern.MatchString(id)
}

// IsShortForm reports whether id is a short-form did:peer:4.
func IsShortForm(id string) bool {
	return shortFormPattern.MatchString(id)
}

// LongToShort derives the short form of a long-form did:peer:4.
// Inputs that are not long form, including already-short ones, are returned
// unchanged, so the transform is idempotent.
func LongToShort(id string) string {
	m := longFormPattern.FindStringSubmatch(id)
	if m == nil {
		return id
	}

	return Prefix4 + m[1]
}

// CreateDIDPeer4 encodes a DID document into a long-form did:peer:4.
// The document's own id is excluded from the encoding, as the identifier is
// derived from the remaining content.
func CreateDIDPeer4(doc *did.Doc) (string, error) {
	input := *doc
	input.ID = ""

	docBytes, err := json.Marshal(&input)
	if err != nil {
		return "", fmt.Errorf("create did:peer:4: %w", err)
	}

	prefixed := make([]byte, 2, 2+len(docBytes))
	binary.PutUvarint(prefixed, jsonMulticodec)
	prefixed = append(prefixed, docBytes...)

	encodedDoc, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", fmt.Errorf("create did:peer:4: %w", err)
	}

	hash, err := hashEncodedDoc(encodedDoc)
	if err != nil {
		return "", err
	}

	return Prefix4 + hash + ":" + encodedDoc, nil
}

// ResolveLongForm decodes the document embedded in a long-form did:peer:4
// and checks the content address. The returned document's id is the long
// form itself.
func ResolveLongForm(id string) (*did.Doc, error) {
	m := longFormPattern.FindStringSubmatch(id)
	if m == nil {
		return nil, fmt.Errorf("resolve did:peer:4: not a long-form identifier: %s", id)
	}

	hash, encodedDoc := m[1], m[2]

	expected, err := hashEncodedDoc(encodedDoc)
	if err != nil {
		return nil, err
	}

	if expected != hash {
		return nil, fmt.Errorf("resolve did:peer:4: content hash mismatch for %s", id)
	}

	_, prefixed, err := multibase.Decode(encodedDoc)
	if err != nil {
		return nil, fmt.Errorf("resolve did:peer:4: %w", err)
	}

	codec, n := binary.Uvarint(prefixed)
	if n <= 0 || codec != jsonMulticodec {
		return nil, errors.New("resolve did:peer:4: embedded document is not multicodec json")
	}

	doc := &did.Doc{}
	if err := json.Unmarshal(prefixed[n:], doc); err != nil {
		return nil, fmt.Errorf("resolve did:peer:4: %w", err)
	}

	doc.ID = id

	return doc, nil
}

func hashEncodedDoc(encodedDoc string) (string, error) {
	digest := sha256.Sum256([]byte(encodedDoc))

	multihash := make([]byte, 0, 2+len(digest))
	multihash = append(multihash, sha256Code, sha256Length)
	multihash = append(multihash, digest[:]...)

	hash, err := multibase.Encode(multibase.Base58BTC, multihash)
	if err != nil {
		return "", fmt.Errorf("hash did:peer:4 document: %w", err)
	}

	return hash, nil
}

// CreateDIDPeer2 encodes a verkey plus one service block into a did:peer:2.
// Element order follows the peer DID spec: verification key first, then the
// base64url-encoded abbreviated service.
func CreateDIDPeer2(verKey string, svc *did.Service) (string, error) {
	pubKey := base58.Decode(verKey)
	if len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("create did:peer:2: verkey is not an ed25519 key: %s", verKey)
	}

	didKey, _ := fingerprint.CreateDIDKey(pubKey)
	keyElem := ".V" + strings.TrimPrefix(didKey, "did:key:")

	svcElem, err := encodeService(svc)
	if err != nil {
		return "", err
	}

	return Prefix2 + keyElem + svcElem, nil
}

// abbreviated service encoding per the peer DID spec, appendix C.
type abbreviatedService struct {
	Type            string   `json:"t"`
	ServiceEndpoint string   `json:"s"`
	RoutingKeys     []string `json:"r,omitempty"`
	Accept          []string `json:"a,omitempty"`
}

func encodeService(svc *did.Service) (string, error) {
	if svc == nil {
		return "", nil
	}

	abbrev := abbreviatedService{
		Type:            "dm",
		ServiceEndpoint: svc.ServiceEndpoint,
		RoutingKeys:     svc.RoutingKeys,
		Accept:          svc.Accept,
	}

	svcBytes, err := json.Marshal(&abbrev)
	if err != nil {
		return "", fmt.Errorf("create did:peer:2: %w", err)
	}

	return ".S" + base64.RawURLEncoding.EncodeToString(svcBytes), nil
}
