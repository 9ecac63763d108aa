package models

// QueryOutcome is the result of racing the two terminal UI signals after a
// query is submitted.
//
// The race is deliberately asymmetric: a timed-out not-found branch counts as
// evidence for the download path even when the request button never showed.
// That case is kept distinct as OutcomeAmbiguousAccepted so it is never
// confused with a confirmed download.
type QueryOutcome int

const (
	OutcomeUnknown QueryOutcome = iota
	OutcomeNotFound
	OutcomeDownloadAccepted
	OutcomeAmbiguousAccepted
)

// IsSuccessPath reports whether the retrieval sequence should run.
func (o QueryOutcome) IsSuccessPath() bool {
	return o == OutcomeDownloadAccepted || o == OutcomeAmbiguousAccepted
}

func (o QueryOutcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeDownloadAccepted:
		return "download_accepted"
	case OutcomeAmbiguousAccepted:
		return "ambiguous_accepted"
	}
	return "unknown"
}
