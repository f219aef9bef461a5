/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mediator declares the routing contracts the connection protocol
// relies on when traffic flows through one or more mediators.
package mediator

// SendRequestAfterConnection is the connection metadata key that, when set
// to true, asks the agent to send a mediation request to the peer as soon
// as the connection completes.
const SendRequestAfterConnection = "send_mediation_request_on_connection"

// MediationRecord describes an active mediation grant: the endpoint the
// mediator exposes on our behalf and the routing keys traffic must be
// wrapped with to reach us through it.
type MediationRecord struct {
	ID          string
	Endpoint    string
	RoutingKeys []string
}

// RouteManager manages the mediator-side bookkeeping of connections.
type RouteManager interface {
	// MediationRecordsForConnection returns the mediation records that
	// apply to a connection. A non-empty mediationID selects that specific
	// grant; otherwise the connection's default mediators are returned.
	MediationRecordsForConnection(connectionID, mediationID string) ([]MediationRecord, error)

	// RouteAsInvitee registers the connection's inbound route with the
	// mediators after we sent a connection request.
	RouteAsInvitee(connectionID string, records []MediationRecord) error

	// RouteAsInviter registers the connection's inbound route with the
	// mediators after we received a connection request.
	RouteAsInviter(connectionID string, records []MediationRecord) error

	// SaveMediatorForConnection pins a mediation grant to a connection so
	// later steps of the exchange route through it.
	SaveMediatorForConnection(connectionID, mediationID string) error
}

// RequestBuilder prepares an outbound mediation request for a connection.
type RequestBuilder interface {
	PrepareRequest(connectionID string) (interface{}, error)
}
