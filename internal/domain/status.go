package domain

type ProcurementStatus string

const (
	ProcurementProcessing        ProcurementStatus = "processing"
	ProcurementPartiallyReceived ProcurementStatus = "partially_received"
	ProcurementComplete          ProcurementStatus = "complete"
	ProcurementCancelled         ProcurementStatus = "cancelled"
)

func (s ProcurementStatus) Valid() bool {
	switch s {
	case ProcurementProcessing, ProcurementPartiallyReceived, ProcurementComplete, ProcurementCancelled:
		return true
	}
	return false
}

// Open reports whether the order still accepts receipts or a cancel.
func (s ProcurementStatus) Open() bool {
	return s == ProcurementProcessing || s == ProcurementPartiallyReceived
}

type LineProgress struct {
	Ordered  int
	Received int
}

// DeriveProcurementStatus is the only place procurement status transitions are
// decided. Cancelled and complete are terminal.
func DeriveProcurementStatus(current ProcurementStatus, lines []LineProgress) ProcurementStatus {
	if current == ProcurementCancelled || current == ProcurementComplete {
		return current
	}
	if len(lines) == 0 {
		return current
	}

	complete := true
	anyReceived := false
	for _, line := range lines {
		if line.Received > 0 {
			anyReceived = true
		}
		if line.Received < line.Ordered {
			complete = false
		}
	}
	switch {
	case complete:
		return ProcurementComplete
	case anyReceived:
		return ProcurementPartiallyReceived
	default:
		return current
	}
}

type LedgerSource string

const (
	LedgerSourceReceiving LedgerSource = "receiving"
	LedgerSourceReturn    LedgerSource = "return"
	LedgerSourceSale      LedgerSource = "sale"
)
