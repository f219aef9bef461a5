/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package did provides the DID document model exchanged during connection
// establishment, and the resolver contract for public DIDs.
package did

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ContextV1 is the DID document context.
	ContextV1 = "https://w3id.org/did/v1"

	// DIDCommServiceType is the service type for DIDComm v1 endpoints.
	DIDCommServiceType = "did-communication"

	ed25519VerificationKey2018 = "Ed25519VerificationKey2018"
)

// VerificationMethod describes a key bound to a DID.
type VerificationMethod struct {
	ID              string `json:"id,omitempty"`
	Type            string `json:"type,omitempty"`
	Controller      string `json:"controller,omitempty"`
	PublicKeyBase58 string `json:"publicKeyBase58,omitempty"`
}

// Service describes a DIDComm service endpoint.
type Service struct {
	ID              string   `json:"id,omitempty"`
	Type            string   `json:"type,omitempty"`
	Priority        int      `json:"priority,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty"`
	Accept          []string `json:"accept,omitempty"`
}

// Doc is a DID document.
type Doc struct {
	Context            string               `json:"@context,omitempty"`
	ID                 string               `json:"id,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
	Service            []Service            `json:"service,omitempty"`
}

// BuildDoc assembles a DID document for a local key: one Ed25519
// verification method plus one did-communication service per endpoint,
// carrying the supplied routing keys.
func BuildDoc(did, verKey string, endpoints, routingKeys []string) *Doc {
	keyID := fmt.Sprintf("%s#keys-1", did)

	doc := &Doc{
		Context: ContextV1,
		ID:      did,
		VerificationMethod: []VerificationMethod{{
			ID:              keyID,
			Type:            ed25519VerificationKey2018,
			Controller:      did,
			PublicKeyBase58: verKey,
		}},
		Authentication: []string{keyID},
	}

	for i, endpoint := range endpoints {
		doc.Service = append(doc.Service, Service{
			ID:              fmt.Sprintf("%s#didcomm-%d", did, i),
			Type:            DIDCommServiceType,
			Priority:        i,
			RecipientKeys:   []string{verKey},
			RoutingKeys:     routingKeys,
			ServiceEndpoint: endpoint,
		})
	}

	return doc
}

// ParseDocument unmarshals a DID document from its JSON encoding.
func ParseDocument(data []byte) (*Doc, error) {
	doc := &Doc{}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse did document: %w", err)
	}

	if doc.ID == "" {
		return nil, errors.New("parse did document: no id")
	}

	return doc, nil
}

// JSONBytes marshals the document.
func (d *Doc) JSONBytes() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal did document: %w", err)
	}

	return data, nil
}

// ServiceResolver resolves a remote DID to its DIDComm service endpoints.
// It is satisfied by whatever verifiable-data-registry binding the agent runs.
type ServiceResolver interface {
	ResolveDIDCommServices(did string) ([]Service, error)
}
