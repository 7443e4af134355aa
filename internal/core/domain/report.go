package domain

// ChunkFailure records one chunk that could not be persisted. The error text
// is carried as a string so reports survive queue round-trips.
type ChunkFailure struct {
	Ref    ChunkRef `json:"ref"`
	Reason string   `json:"reason"`
}

// IndexReport is the per-chunk outcome of one IndexBatch call. A partial
// failure is data for the caller's retry loop, not an abort.
type IndexReport struct {
	Succeeded []ChunkRef     `json:"succeeded"`
	Failed    []ChunkFailure `json:"failed"`
}

func (r IndexReport) AllSucceeded() bool {
	return len(r.Failed) == 0
}

func (r *IndexReport) AddSuccess(ref ChunkRef) {
	r.Succeeded = append(r.Succeeded, ref)
}

func (r *IndexReport) AddFailure(ref ChunkRef, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	r.Failed = append(r.Failed, ChunkFailure{Ref: ref, Reason: reason})
}

// Merge folds another report into this one, preserving order of arrival.
func (r *IndexReport) Merge(other IndexReport) {
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
}
