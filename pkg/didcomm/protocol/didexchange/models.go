/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/emergentid/didx/pkg/didcomm/protocol/decorator"
)

// PIURI is the protocol identifier URI of the DID exchange protocol.
const PIURI = "https://didcomm.org/didexchange/1.0"

// Message type URIs of the protocol.
const (
	RequestMsgType       = PIURI + "/request"
	ResponseMsgType      = PIURI + "/response"
	CompleteMsgType      = PIURI + "/complete"
	ProblemReportMsgType = PIURI + "/problem_report"

	// InvitationMsgType is the out-of-band invitation this protocol is
	// started from.
	InvitationMsgType = "https://didcomm.org/out-of-band/1.1/invitation"
)

// Invitation is the out-of-band invitation, reduced to the fields this
// protocol consumes. Each services entry is either a DID string or an
// inline service block.
type Invitation struct {
	ID       string        `json:"@id,omitempty"`
	Type     string        `json:"@type,omitempty"`
	Label    string        `json:"label,omitempty"`
	Services []interface{} `json:"services,omitempty"`
}

// ServiceBlock is an invitation services entry in expanded form. Entries
// that reference a DID carry only the DID field.
type ServiceBlock struct {
	ID              string   `json:"id,omitempty" mapstructure:"id"`
	Type            string   `json:"type,omitempty" mapstructure:"type"`
	RecipientKeys   []string `json:"recipientKeys,omitempty" mapstructure:"recipientKeys"`
	RoutingKeys     []string `json:"routingKeys,omitempty" mapstructure:"routingKeys"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty" mapstructure:"serviceEndpoint"`
	DID             string   `json:"-" mapstructure:"-"`
}

// ServiceBlocks expands the invitation's services entries.
func (inv *Invitation) ServiceBlocks() ([]ServiceBlock, error) {
	blocks := make([]ServiceBlock, 0, len(inv.Services))

	for _, entry := range inv.Services {
		if s, ok := entry.(string); ok {
			blocks = append(blocks, ServiceBlock{DID: s})
			continue
		}

		block := ServiceBlock{}
		if err := mapstructure.Decode(entry, &block); err != nil {
			return nil, fmt.Errorf("decode service block: %w", err)
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

// Request is the connection request message.
type Request struct {
	Type      string                `json:"@type,omitempty"`
	ID        string                `json:"@id,omitempty"`
	Label     string                `json:"label,omitempty"`
	Goal      string                `json:"goal,omitempty"`
	GoalCode  string                `json:"goal_code,omitempty"`
	DID       string                `json:"did,omitempty"`
	DocAttach *decorator.Attachment `json:"did_doc~attach,omitempty"`
	Thread    *decorator.Thread     `json:"~thread,omitempty"`
}

// Response is the connection response message. It carries either a full
// signed DID document or a signed DID-rotation attachment, never both.
type Response struct {
	Type         string                `json:"@type,omitempty"`
	ID           string                `json:"@id,omitempty"`
	DID          string                `json:"did,omitempty"`
	DocAttach    *decorator.Attachment `json:"did_doc~attach,omitempty"`
	RotateAttach *decorator.Attachment `json:"did_rotate~attach,omitempty"`
	Thread       *decorator.Thread     `json:"~thread,omitempty"`
}

// Complete acknowledges the exchange, threaded back to the request.
type Complete struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}

// ProblemReport abandons the exchange with a machine-readable code and
// human-readable text.
type ProblemReport struct {
	Type        string             `json:"@type,omitempty"`
	ID          string             `json:"@id,omitempty"`
	Description *ReportDescription `json:"description,omitempty"`
	Thread      *decorator.Thread  `json:"~thread,omitempty"`
}

// ReportDescription is the problem report's description block.
type ReportDescription struct {
	Code string `json:"code"`
	En   string `json:"en,omitempty"`
}
