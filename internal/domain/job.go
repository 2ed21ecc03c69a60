package domain

// JobStatus is the client-side view of a remote job's lifecycle.
type JobStatus string

const (
	JobPending       JobStatus = "pending"
	JobRunning       JobStatus = "running"
	JobCompleted     JobStatus = "completed"
	JobFailed        JobStatus = "failed"
	JobCancelled     JobStatus = "cancelled"
	JobExpired       JobStatus = "expired"
	JobRequiresInput JobStatus = "requires-input"
)

// Terminal reports whether no further transition can occur from s.
// requires-input is resumable on the vendor side and therefore not terminal here.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobExpired:
		return true
	}
	return false
}

// ContainerRef identifies a server-side grouping of entries (a vendor "thread").
type ContainerRef struct {
	ID string
}

// Job is one remote unit of work (a vendor "run") executed against a container.
type Job struct {
	ID          string
	ContainerID string
	Status      JobStatus
	ErrorDetail string
}

// ContentBlock is one typed segment of an entry's content.
type ContentBlock struct {
	Type string
	Text string
}

// Entry is one message held by a container.
type Entry struct {
	ID      string
	Role    string
	Content []ContentBlock
}

// FirstText returns the text of the entry's first content block. It reports
// false when there is no block, the block is not text, or the text is empty.
func (e Entry) FirstText() (string, bool) {
	if len(e.Content) == 0 {
		return "", false
	}
	b := e.Content[0]
	if b.Type != "text" || b.Text == "" {
		return "", false
	}
	return b.Text, true
}
