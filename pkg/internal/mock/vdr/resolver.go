/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mockvdr provides a canned DID service resolver for tests.
package mockvdr

import (
	"fmt"

	"github.com/emergentid/didx/pkg/doc/did"
)

// MockResolver resolves didcomm services from a fixed map.
type MockResolver struct {
	Services map[string][]did.Service
	Err      error
}

// ResolveDIDCommServices implements did.ServiceResolver.
func (m *MockResolver) ResolveDIDCommServices(d string) ([]did.Service, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	services, ok := m.Services[d]
	if !ok {
		return nil, fmt.Errorf("no services for %s", d)
	}

	return services, nil
}
