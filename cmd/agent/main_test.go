package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorlist/doorlist/internal/dispatcher"
	"github.com/doorlist/doorlist/internal/model"
)

func TestRecordDiagnosticCapsBuffer(t *testing.T) {
	a := &agent{}

	for i := 0; i < maxDiagnostics+10; i++ {
		a.recordDiagnostic(dispatcher.Diagnostic{
			Entry:  &model.OutboxEntry{ID: fmt.Sprintf("entry-%d", i)},
			Reason: model.ReasonGuestNotFound,
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.diagnostics, maxDiagnostics)

	// The oldest entries are dropped, the newest kept.
	assert.Equal(t, "entry-10", a.diagnostics[0].Entry.ID)
	assert.Equal(t, fmt.Sprintf("entry-%d", maxDiagnostics+9), a.diagnostics[maxDiagnostics-1].Entry.ID)
}
