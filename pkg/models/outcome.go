package models

// OutcomeStatus summarises one Commit call.
type OutcomeStatus int

const (
	Committed OutcomeStatus = iota
	Partial
	RetryExhausted
	Fatal
)

func (s OutcomeStatus) String() string {
	switch s {
	case Committed:
		return "committed"
	case Partial:
		return "partial"
	case RetryExhausted:
		return "retry-exhausted"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ItemOutcome is the per-document result of a bulk write.
type ItemOutcome struct {
	ID          string
	OrderingKey int64
	Status      int
	Reason      string
	Failed      bool
}

// BulkOutcome holds per-document results of the last attempt and the
// number of bulk calls consumed.
type BulkOutcome struct {
	Items    []ItemOutcome
	Attempts int
	Status   OutcomeStatus
}

// Failed returns the items the target rejected.
func (o BulkOutcome) Failed() []ItemOutcome {
	var failed []ItemOutcome
	for _, it := range o.Items {
		if it.Failed {
			failed = append(failed, it)
		}
	}
	return failed
}

// LowestFailedKey returns the smallest ordering key among failed items.
func (o BulkOutcome) LowestFailedKey() (int64, bool) {
	var (
		lowest int64
		found  bool
	)
	for _, it := range o.Items {
		if !it.Failed {
			continue
		}
		if !found || it.OrderingKey < lowest {
			lowest = it.OrderingKey
			found = true
		}
	}
	return lowest, found
}
