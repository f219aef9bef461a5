/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mockmediator provides a recording route manager for tests.
package mockmediator

import (
	"github.com/emergentid/didx/pkg/didcomm/protocol/mediator"
)

// MockRouteManager records routing calls and serves canned mediation records.
type MockRouteManager struct {
	Records    []mediator.MediationRecord
	RecordsErr error

	InviteeRouted  []string
	InviterRouted  []string
	SavedMediators map[string]string

	RouteErr error
}

// MediationRecordsForConnection implements mediator.RouteManager.
func (m *MockRouteManager) MediationRecordsForConnection(connectionID, mediationID string) ([]mediator.MediationRecord, error) {
	if m.RecordsErr != nil {
		return nil, m.RecordsErr
	}

	return m.Records, nil
}

// RouteAsInvitee implements mediator.RouteManager.
func (m *MockRouteManager) RouteAsInvitee(connectionID string, records []mediator.MediationRecord) error {
	if m.RouteErr != nil {
		return m.RouteErr
	}

	m.InviteeRouted = append(m.InviteeRouted, connectionID)

	return nil
}

// RouteAsInviter implements mediator.RouteManager.
func (m *MockRouteManager) RouteAsInviter(connectionID string, records []mediator.MediationRecord) error {
	if m.RouteErr != nil {
		return m.RouteErr
	}

	m.InviterRouted = append(m.InviterRouted, connectionID)

	return nil
}

// SaveMediatorForConnection implements mediator.RouteManager.
func (m *MockRouteManager) SaveMediatorForConnection(connectionID, mediationID string) error {
	if m.SavedMediators == nil {
		m.SavedMediators = map[string]string{}
	}

	m.SavedMediators[connectionID] = mediationID

	return nil
}
