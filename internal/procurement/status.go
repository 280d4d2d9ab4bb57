package procurement

// MRRStatus tracks the approval of a requirement request.
type MRRStatus string

const (
	MRRStatusPending  MRRStatus = "PENDING"
	MRRStatusApproved MRRStatus = "APPROVED"
	MRRStatusRejected MRRStatus = "REJECTED"
)

// CanTransitionTo reports whether an MRR may move from s to next. A decision
// is taken once.
func (s MRRStatus) CanTransitionTo(next MRRStatus) bool {
	return s == MRRStatusPending && (next == MRRStatusApproved || next == MRRStatusRejected)
}

// Valid reports whether s is a known status.
func (s MRRStatus) Valid() bool {
	switch s {
	case MRRStatusPending, MRRStatusApproved, MRRStatusRejected:
		return true
	}
	return false
}

// POStatus tracks a purchase order through its lifecycle.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusApproved          POStatus = "APPROVED"
	POStatusPlaced            POStatus = "PLACED"
	POStatusAcknowledged      POStatus = "ACKNOWLEDGED"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusFullyReceived     POStatus = "FULLY_RECEIVED"
	POStatusCancelled         POStatus = "CANCELLED"
	POStatusClosed            POStatus = "CLOSED"
)

// poTransitions lists every legal move. Statuses only move forward.
var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:             {POStatusApproved, POStatusCancelled},
	POStatusApproved:          {POStatusPlaced, POStatusCancelled},
	POStatusPlaced:            {POStatusAcknowledged, POStatusPartiallyReceived, POStatusFullyReceived},
	POStatusAcknowledged:      {POStatusPartiallyReceived, POStatusFullyReceived},
	POStatusPartiallyReceived: {POStatusPartiallyReceived, POStatusFullyReceived, POStatusClosed},
	POStatusFullyReceived:     {POStatusClosed},
}

// CanTransitionTo reports whether a purchase order may move from s to next.
func (s POStatus) CanTransitionTo(next POStatus) bool {
	for _, allowed := range poTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanReceive reports whether goods may be received against an order in s.
func (s POStatus) CanReceive() bool {
	return s.CanTransitionTo(POStatusPartiallyReceived)
}

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	if s == POStatusCancelled || s == POStatusClosed {
		return true
	}
	_, ok := poTransitions[s]
	return ok
}

// receivingStatus derives the status after a receipt from the line totals.
func receivingStatus(items []POItem) POStatus {
	for _, item := range items {
		if item.QuantityReceived.LessThan(item.QuantityOrdered) {
			return POStatusPartiallyReceived
		}
	}
	return POStatusFullyReceived
}
