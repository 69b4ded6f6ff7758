package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveProcurementStatus(t *testing.T) {
	tests := []struct {
		name    string
		current ProcurementStatus
		lines   []LineProgress
		want    ProcurementStatus
	}{
		{"nothing received", ProcurementProcessing, []LineProgress{{Ordered: 10}}, ProcurementProcessing},
		{"partial single line", ProcurementProcessing, []LineProgress{{Ordered: 100, Received: 60}}, ProcurementPartiallyReceived},
		{"one of two lines complete", ProcurementProcessing, []LineProgress{{Ordered: 5, Received: 5}, {Ordered: 3}}, ProcurementPartiallyReceived},
		{"all lines complete", ProcurementPartiallyReceived, []LineProgress{{Ordered: 5, Received: 5}, {Ordered: 3, Received: 3}}, ProcurementComplete},
		{"cancelled is terminal", ProcurementCancelled, []LineProgress{{Ordered: 5, Received: 5}}, ProcurementCancelled},
		{"no lines keeps current", ProcurementProcessing, nil, ProcurementProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveProcurementStatus(tt.current, tt.lines))
		})
	}
}

func TestProcurementStatusOpen(t *testing.T) {
	assert.True(t, ProcurementProcessing.Open())
	assert.True(t, ProcurementPartiallyReceived.Open())
	assert.False(t, ProcurementComplete.Open())
	assert.False(t, ProcurementCancelled.Open())
	assert.False(t, ProcurementStatus("draft").Valid())
}
