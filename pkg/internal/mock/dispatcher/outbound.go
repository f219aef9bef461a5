/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mockdispatcher provides a recording outbound dispatcher for tests.
package mockdispatcher

// Sent is one recorded delivery.
type Sent struct {
	Msg          interface{}
	ConnectionID string
	Reply        bool
}

// MockOutbound records sent messages instead of delivering them.
type MockOutbound struct {
	SentMessages []Sent

	// SendErr, when set, is returned by both Send and SendReply.
	SendErr error
}

// Send implements dispatcher.Outbound.
func (m *MockOutbound) Send(msg interface{}, connectionID string) error {
	if m.SendErr != nil {
		return m.SendErr
	}

	m.SentMessages = append(m.SentMessages, Sent{Msg: msg, ConnectionID: connectionID})

	return nil
}

// SendReply implements dispatcher.Outbound.
func (m *MockOutbound) SendReply(msg interface{}, connectionID string) error {
	if m.SendErr != nil {
		return m.SendErr
	}

	m.SentMessages = append(m.SentMessages, Sent{Msg: msg, ConnectionID: connectionID, Reply: true})

	return nil
}

// Last returns the most recently recorded delivery.
func (m *MockOutbound) Last() *Sent {
	if len(m.SentMessages) == 0 {
		return nil
	}

	return &m.SentMessages[len(m.SentMessages)-1]
}
