package inventory

// IssueStatus tracks a material issue through handover.
type IssueStatus string

const (
	IssueStatusPending   IssueStatus = "PENDING"
	IssueStatusIssued    IssueStatus = "ISSUED"
	IssueStatusReceived  IssueStatus = "RECEIVED"
	IssueStatusCancelled IssueStatus = "CANCELLED"
)

var issueTransitions = map[IssueStatus][]IssueStatus{
	IssueStatusPending: {IssueStatusIssued, IssueStatusCancelled},
	IssueStatusIssued:  {IssueStatusReceived, IssueStatusCancelled},
}

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusPending, IssueStatusIssued, IssueStatusReceived, IssueStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an issue may move from s to next.
func (s IssueStatus) CanTransitionTo(next IssueStatus) bool {
	for _, allowed := range issueTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsSettlement reports whether returns and consumptions may be booked
// against an issue in status s.
func (s IssueStatus) AcceptsSettlement() bool {
	return s == IssueStatusIssued || s == IssueStatusReceived
}
