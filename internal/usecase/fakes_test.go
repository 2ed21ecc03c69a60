package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-relay/internal/domain"
)

// memJobAPI is an in-memory JobAPI. GetJobStatus walks through statuses (the
// last one repeats); the first completed status appends the assistant reply.
type memJobAPI struct {
	mu         sync.Mutex
	containers map[string][]domain.Entry
	seq        int

	statuses    []domain.JobStatus
	errorDetail string
	reply       string
	replyEntry  *domain.Entry
	noReply     bool
	replied     bool

	createErr error
	appendErr error
	submitErr error
	statusErr error
	listErr   error
	deleteErr error

	createCalls int
	appendCalls int
	submitCalls int
	statusCalls int
	deleteCalls int

	submittedAssistant string
	deleteCtxErr       error
}

func newMemJobAPI(statuses ...domain.JobStatus) *memJobAPI {
	if len(statuses) == 0 {
		statuses = []domain.JobStatus{domain.JobCompleted}
	}
	return &memJobAPI{
		containers: map[string][]domain.Entry{},
		statuses:   statuses,
		reply:      "Namaste",
	}
}

func (m *memJobAPI) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%d", prefix, m.seq)
}

func (m *memJobAPI) CreateContainer(_ context.Context) (domain.ContainerRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return domain.ContainerRef{}, m.createErr
	}
	id := m.nextID("thread")
	m.containers[id] = nil
	return domain.ContainerRef{ID: id}, nil
}

func (m *memJobAPI) AppendEntry(_ context.Context, c domain.ContainerRef, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.appendErr != nil {
		return m.appendErr
	}
	if _, ok := m.containers[c.ID]; !ok {
		return fmt.Errorf("unknown container %s", c.ID)
	}
	m.containers[c.ID] = append(m.containers[c.ID], domain.Entry{
		ID:      m.nextID("msg"),
		Role:    role,
		Content: []domain.ContentBlock{{Type: "text", Text: content}},
	})
	return nil
}

func (m *memJobAPI) SubmitJob(_ context.Context, c domain.ContainerRef, assistantID string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	m.submittedAssistant = assistantID
	if m.submitErr != nil {
		return domain.Job{}, m.submitErr
	}
	return domain.Job{ID: m.nextID("run"), ContainerID: c.ID, Status: domain.JobPending}, nil
}

func (m *memJobAPI) GetJobStatus(_ context.Context, job domain.Job) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.statusCalls
	m.statusCalls++
	if m.statusErr != nil {
		return domain.Job{}, m.statusErr
	}
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	job.Status = m.statuses[idx]
	switch job.Status {
	case domain.JobFailed, domain.JobCancelled, domain.JobExpired:
		job.ErrorDetail = m.errorDetail
	case domain.JobCompleted:
		if !m.replied && !m.noReply {
			m.replied = true
			entry := domain.Entry{
				ID:      m.nextID("msg"),
				Role:    domain.RoleAssistant,
				Content: []domain.ContentBlock{{Type: "text", Text: m.reply}},
			}
			if m.replyEntry != nil {
				entry = *m.replyEntry
			}
			m.containers[job.ContainerID] = append(m.containers[job.ContainerID], entry)
		}
	}
	return job, nil
}

func (m *memJobAPI) ListEntries(_ context.Context, c domain.ContainerRef) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	stored := m.containers[c.ID]
	out := make([]domain.Entry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (m *memJobAPI) DeleteContainer(ctx context.Context, c domain.ContainerRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	m.deleteCtxErr = ctx.Err()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.containers, c.ID)
	return nil
}

// statusError mimics an upstream HTTP failure carrying a status code.
type statusError int

func (e statusError) Error() string       { return fmt.Sprintf("upstream status %d", int(e)) }
func (e statusError) HTTPStatusCode() int { return int(e) }

type replyObservation struct {
	mode     string
	outcome  string
	attempts int
}

type fakeRecorder struct {
	mu       sync.Mutex
	replies  []replyObservation
	cleanups []bool
}

func (r *fakeRecorder) ObserveReply(mode, outcome string, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, replyObservation{mode: mode, outcome: outcome, attempts: attempts})
}

func (r *fakeRecorder) ObserveCleanup(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, ok)
}

type fakeLedger struct {
	records []domain.JobRecord
	err     error
}

func (l *fakeLedger) RecordJob(_ context.Context, rec domain.JobRecord) error {
	l.records = append(l.records, rec)
	return l.err
}
