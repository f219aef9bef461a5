/*
Copyright Emergent Identity Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportCode(t *testing.T) {
	err := reportable(ErrDIDMismatch, ReasonResponseNotAccepted)

	require.ErrorIs(t, err, ErrDIDMismatch)

	code, ok := ReportCode(err)
	require.True(t, ok)
	require.Equal(t, ReasonResponseNotAccepted, code)

	// codes survive further wrapping
	code, ok = ReportCode(fmt.Errorf("accept response: %w", err))
	require.True(t, ok)
	require.Equal(t, ReasonResponseNotAccepted, code)

	_, ok = ReportCode(errors.New("plain"))
	require.False(t, ok)
}

func TestProblemReportFromError(t *testing.T) {
	report := ProblemReportFromError(reportable(ErrNoCorrespondingRequest, ReasonCompleteNotAccepted), "thread-1")
	require.NotNil(t, report)
	require.Equal(t, ProblemReportMsgType, report.Type)
	require.NotEmpty(t, report.ID)
	require.Equal(t, ReasonCompleteNotAccepted, report.Description.Code)
	require.Equal(t, ErrNoCorrespondingRequest.Error(), report.Description.En)
	require.Equal(t, "thread-1", report.Thread.ID)

	// errors without a reason code surface to the operator instead
	require.Nil(t, ProblemReportFromError(ErrInvalidState, "thread-1"))
}
