package domain

// JobRecord summarises the outcome of one thread-mode request for the job ledger.
type JobRecord struct {
	PK             string
	SK             string
	RequestID      string
	ContainerID    string
	JobID          string
	Status         string
	ErrorCode      string
	PollAttempts   int
	DurationMillis int64
	CleanupOK      bool
	CreatedAt      string
	TTL            int64
}
