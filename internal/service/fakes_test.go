package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/mail"
	"github.com/unclebandit/mailcast-backend/internal/model"
	"github.com/unclebandit/mailcast-backend/internal/queue"
)

// memStore backs the fake repositories below. It mirrors the conditional-update
// semantics of the SQL repositories.
type memStore struct {
	mu         sync.Mutex
	broadcasts map[int]*model.Broadcast
	recipients map[int]*model.Recipient
	contacts   map[int]*model.Contact
	members    map[int][]int
	templates  map[int]*model.Template
	nextID     int

	// panicOn makes ListEligibleByGroup panic for this group id.
	panicOn int
	// claimErr is returned by ClaimPending for this broadcast id.
	claimErrFor int
}

func newMemStore() *memStore {
	return &memStore{
		broadcasts:  map[int]*model.Broadcast{},
		recipients:  map[int]*model.Recipient{},
		contacts:    map[int]*model.Contact{},
		members:     map[int][]int{},
		templates:   map[int]*model.Template{},
		panicOn:     -1,
		claimErrFor: -1,
	}
}

func (s *memStore) addContact(groupID int, c model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := c
	s.contacts[c.ID] = &cc
	s.members[groupID] = append(s.members[groupID], c.ID)
}

func (s *memStore) addBroadcast(b model.Broadcast) *model.Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	bb := b
	s.broadcasts[b.ID] = &bb
	cp := bb
	return &cp
}

func (s *memStore) addRecipient(rc model.Recipient) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r := rc
	r.ID = s.nextID
	s.recipients[r.ID] = &r
	return r.ID
}

func (s *memStore) recipient(id int) model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.recipients[id]
}

func (s *memStore) broadcast(id int) model.Broadcast {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.broadcasts[id]
}

func (s *memStore) setBroadcastStatus(id int, st model.BroadcastStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts[id].Status = st
}

func (s *memStore) recipientsOf(broadcastID int) []model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Recipient
	for _, r := range s.recipients {
		if r.BroadcastID == broadcastID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeBroadcasts struct{ *memStore }

func (f fakeBroadcasts) GetByID(ctx context.Context, id int) (*model.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[id]
	if !ok {
		return nil, appErrors.NewBroadcastNotFound(id)
	}
	cp := *b
	return &cp, nil
}

func (f fakeBroadcasts) list(match func(*model.Broadcast) bool) []*model.Broadcast {
	var out []*model.Broadcast
	for _, b := range f.broadcasts {
		if match(b) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f fakeBroadcasts) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list(func(b *model.Broadcast) bool {
		return b.Status == model.BroadcastScheduled && (b.StartsAt == nil || !b.StartsAt.After(now))
	}), nil
}

func (f fakeBroadcasts) ListByStatus(ctx context.Context, status model.BroadcastStatus) ([]*model.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list(func(b *model.Broadcast) bool { return b.Status == status }), nil
}

func (f fakeBroadcasts) MarkRunning(ctx context.Context, id int, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[id]
	if !ok || b.Status != model.BroadcastScheduled {
		return false, nil
	}
	b.Status = model.BroadcastRunning
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	return true, nil
}

func (f fakeBroadcasts) SaveSnapshotAndSender(ctx context.Context, id int, snap *model.Snapshot, fromEmail *string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[id]
	if !ok {
		return nil
	}
	if snap != nil {
		if b.SnapshotSubject == nil {
			v := snap.Subject
			b.SnapshotSubject = &v
		}
		if b.SnapshotHTMLContent == nil {
			v := snap.HTMLContent
			b.SnapshotHTMLContent = &v
		}
		if b.SnapshotBuilderSchema == nil {
			v := snap.BuilderSchema
			b.SnapshotBuilderSchema = &v
		}
		if b.SnapshotTemplateVersion == nil {
			v := snap.TemplateVersion
			b.SnapshotTemplateVersion = &v
		}
	}
	if fromEmail != nil && b.FromEmail == nil {
		v := *fromEmail
		b.FromEmail = &v
	}
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	return nil
}

func (f fakeBroadcasts) MarkCompleted(ctx context.Context, id int, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[id]
	if !ok || b.Status != model.BroadcastRunning {
		return false, nil
	}
	b.Status = model.BroadcastCompleted
	b.CompletedAt = &now
	return true, nil
}

func (f fakeBroadcasts) TransitionStatus(ctx context.Context, id int, from []model.BroadcastStatus, to model.BroadcastStatus, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.broadcasts[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if b.Status == st {
			b.Status = to
			b.UpdatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type fakeRecipients struct{ *memStore }

func (f fakeRecipients) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f fakeRecipients) EmailsByContact(ctx context.Context, broadcastID int) (map[int]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]string{}
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID {
			out[r.ContactID] = r.Email
		}
	}
	return out, nil
}

func (f fakeRecipients) Insert(ctx context.Context, broadcastID, contactID int, email string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.ContactID == contactID {
			return false, nil
		}
	}
	f.nextID++
	f.recipients[f.nextID] = &model.Recipient{
		ID:          f.nextID,
		BroadcastID: broadcastID,
		ContactID:   contactID,
		Email:       email,
		Status:      model.RecipientPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return true, nil
}

func (f fakeRecipients) UpdateEmail(ctx context.Context, broadcastID, contactID int, email string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.ContactID == contactID {
			r.Email = email
			r.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (f fakeRecipients) ClaimPending(ctx context.Context, broadcastID, limit int, now time.Time) ([]*model.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if broadcastID == f.claimErrFor {
		return nil, errors.New("claim failed")
	}
	var ids []int
	for id, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.Status == model.RecipientPending {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	var out []*model.Recipient
	for _, id := range ids {
		r := f.recipients[id]
		r.Status = model.RecipientQueued
		r.QueuedAt = &now
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (f fakeRecipients) ReclaimStale(ctx context.Context, broadcastID int, cutoff, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID && r.Status == model.RecipientQueued &&
			r.SentAt == nil && r.QueuedAt != nil && !r.QueuedAt.After(cutoff) {
			r.Status = model.RecipientPending
			r.QueuedAt = nil
			n++
		}
	}
	return n, nil
}

func (f fakeRecipients) CountByStatus(ctx context.Context, broadcastID int) (map[model.RecipientStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.RecipientStatus]int{}
	for _, r := range f.recipients {
		if r.BroadcastID == broadcastID {
			out[r.Status]++
		}
	}
	return out, nil
}

func (f fakeRecipients) transition(id int, expected []model.RecipientStatus, apply func(r *model.Recipient)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipients[id]
	if !ok {
		return false
	}
	for _, st := range expected {
		if r.Status == st {
			apply(r)
			return true
		}
	}
	return false
}

var claimable = []model.RecipientStatus{model.RecipientPending, model.RecipientQueued}

func (f fakeRecipients) RevertToPending(ctx context.Context, id int, now time.Time) (bool, error) {
	return f.transition(id, claimable, func(r *model.Recipient) {
		r.Status = model.RecipientPending
		r.QueuedAt = nil
	}), nil
}

func (f fakeRecipients) MarkSkipped(ctx context.Context, id int, now time.Time) (bool, error) {
	return f.transition(id, claimable, func(r *model.Recipient) {
		r.Status = model.RecipientSkipped
		r.SkippedAt = &now
	}), nil
}

func (f fakeRecipients) MarkSent(ctx context.Context, id int, now time.Time, providerMessageID string) (bool, error) {
	return f.transition(id, claimable, func(r *model.Recipient) {
		r.Status = model.RecipientSent
		r.SentAt = &now
		r.AttemptCount++
		r.FailedAt = nil
		r.LastError = ""
		if providerMessageID != "" {
			r.ProviderMessageID = providerMessageID
		}
	}), nil
}

func (f fakeRecipients) MarkFailed(ctx context.Context, id int, now time.Time, lastError string) (bool, error) {
	return f.transition(id, claimable, func(r *model.Recipient) {
		r.Status = model.RecipientFailed
		r.AttemptCount++
		r.FailedAt = &now
		r.LastError = lastError
	}), nil
}

func (f fakeRecipients) ForceFailed(ctx context.Context, id int, now time.Time, lastError string) (bool, error) {
	expected := []model.RecipientStatus{model.RecipientPending, model.RecipientQueued, model.RecipientFailed, model.RecipientSkipped}
	return f.transition(id, expected, func(r *model.Recipient) {
		r.Status = model.RecipientFailed
		if r.AttemptCount < 1 {
			r.AttemptCount = 1
		}
		r.FailedAt = &now
		r.LastError = lastError
	}), nil
}

type fakeContacts struct{ *memStore }

func (f fakeContacts) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f fakeContacts) ListEligibleByGroup(ctx context.Context, groupID int) ([]model.Contact, error) {
	if groupID == f.panicOn {
		panic("contact store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Contact
	for _, id := range f.members[groupID] {
		c := f.contacts[id]
		if c.Subscribed && !c.IsInvalid {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fakeTemplates struct{ *memStore }

func (f fakeTemplates) GetByID(ctx context.Context, id int) (*model.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

type recordedEvent struct {
	RecipientID       int
	BroadcastID       int
	Type              model.EventType
	ProviderMessageID string
	Payload           map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Record(ctx context.Context, rc *model.Recipient, t model.EventType, providerMessageID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{
		RecipientID:       rc.ID,
		BroadcastID:       rc.BroadcastID,
		Type:              t,
		ProviderMessageID: providerMessageID,
		Payload:           payload,
	})
	return nil
}

func (f *fakeEvents) CountByType(ctx context.Context, broadcastID int) (map[model.EventType]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.EventType]int{}
	for _, e := range f.events {
		if e.BroadcastID == broadcastID {
			out[e.Type]++
		}
	}
	return out, nil
}

func (f *fakeEvents) ofType(t model.EventType) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeQueue records published tasks without running them.
type fakeQueue struct {
	mu        sync.Mutex
	published []queue.SendTask
	fail      bool
}

func (q *fakeQueue) Publish(ctx context.Context, topic string, task queue.SendTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("broker unavailable")
	}
	q.published = append(q.published, task)
	return nil
}

func (q *fakeQueue) Subscribe(topic string, consumer queue.Consumer) error { return nil }
func (q *fakeQueue) Close() error                                          { return nil }

type fakeTransport struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
	id   string
}

func (t *fakeTransport) Send(ctx context.Context, msg mail.Message) (mail.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return mail.SendResult{}, t.err
	}
	t.sent = append(t.sent, msg)
	return mail.SendResult{ProviderMessageID: t.id}, nil
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

var nopLog = zerolog.Nop()
