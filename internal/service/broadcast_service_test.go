package service

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/mailcast-backend/internal/errors"
	"github.com/unclebandit/mailcast-backend/internal/model"
)

func newBroadcastService(e *engine) *BroadcastService {
	return &BroadcastService{
		Broadcasts: fakeBroadcasts{e.store},
		Recipients: fakeRecipients{e.store},
		Contacts:   fakeContacts{e.store},
		Templates:  fakeTemplates{e.store},
		Events:     e.events,
		Renderer:   FastTemplateRenderer{},
		Now:        fixedClock,
		Log:        nopLog,
	}
}

func TestGetDetailsWithStats(t *testing.T) {
	e := newEngine()
	svc := newBroadcastService(e)
	e.store.addBroadcast(model.Broadcast{ID: 1, Name: "Spring", Status: model.BroadcastRunning})
	e.store.addRecipient(model.Recipient{BroadcastID: 1, ContactID: 1, Status: model.RecipientSent})
	e.store.addRecipient(model.Recipient{BroadcastID: 1, ContactID: 2, Status: model.RecipientSent})
	id := e.store.addRecipient(model.Recipient{BroadcastID: 1, ContactID: 3, Status: model.RecipientPending})
	rc := e.store.recipient(id)
	e.events.Record(context.Background(), &rc, model.EventQueued, "", nil)

	d, err := svc.GetDetailsWithStats(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "Spring" || d.Stats["total"] != 3 || d.Stats["sent"] != 2 || d.Stats["pending"] != 1 || d.Stats["failed"] != 0 {
		t.Fatalf("unexpected details %+v", d)
	}
	if d.Events["queued"] != 1 {
		t.Fatalf("unexpected events %+v", d.Events)
	}

	if _, err := svc.GetDetailsWithStats(context.Background(), 404); !appErrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPauseResumeCancel(t *testing.T) {
	e := newEngine()
	svc := newBroadcastService(e)
	ctx := context.Background()
	e.store.addBroadcast(model.Broadcast{ID: 1, Status: model.BroadcastRunning, StartedAt: &testNow})

	b, err := svc.Pause(ctx, 1)
	if err != nil || b.Status != model.BroadcastPaused {
		t.Fatalf("pause: %v %+v", err, b)
	}
	if _, err := svc.Pause(ctx, 1); !errors.Is(err, appErrors.ErrInvalidTransition) {
		t.Fatalf("second pause should be invalid, got %v", err)
	}
	if b, err = svc.Resume(ctx, 1); err != nil || b.Status != model.BroadcastRunning {
		t.Fatalf("resume: %v %+v", err, b)
	}
	if b, err = svc.Cancel(ctx, 1); err != nil || b.Status != model.BroadcastCancelled {
		t.Fatalf("cancel: %v %+v", err, b)
	}
	if _, err := svc.Resume(ctx, 1); !errors.Is(err, appErrors.ErrInvalidTransition) {
		t.Fatalf("resume of cancelled should be invalid, got %v", err)
	}
}

func TestResumeBeforeStartWaitsForStartsAt(t *testing.T) {
	e := newEngine()
	svc := newBroadcastService(e)
	ctx := context.Background()
	tomorrow := testNow.Add(24 * time.Hour)
	e.store.addBroadcast(model.Broadcast{ID: 1, Status: model.BroadcastScheduled, StartsAt: &tomorrow, MessagesPerMinute: 10})

	if _, err := svc.Pause(ctx, 1); err != nil {
		t.Fatalf("pause: %v", err)
	}
	b, err := svc.Resume(ctx, 1)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if b.Status != model.BroadcastScheduled {
		t.Fatalf("expected scheduled after resume, got %s", b.Status)
	}

	res, err := e.dispatcher.RunTick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Promoted != 0 || res.Processed != 0 {
		t.Fatalf("broadcast started before starts_at: %+v", res)
	}
	if got := e.store.broadcast(1); got.Status != model.BroadcastScheduled || got.StartedAt != nil {
		t.Fatalf("unexpected broadcast %+v", got)
	}
}

func TestPreview(t *testing.T) {
	e := newEngine()
	svc := newBroadcastService(e)
	ctx := context.Background()
	e.store.templates[4] = &model.Template{ID: 4, Subject: "Live {{first_name}}", HTMLContent: "<b>{{company}}</b>"}
	e.store.addContact(1, model.Contact{ID: 8, Email: "ada@example.com", FirstName: "Ada", Company: "Engines"})
	e.store.addBroadcast(model.Broadcast{ID: 1, TemplateID: intPtr(4), Status: model.BroadcastDraft})

	p, err := svc.Preview(ctx, 1, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.FromSnapshot || p.Subject != "Live Ada" || p.HTML != "<b>Engines</b>" {
		t.Fatalf("unexpected live preview %+v", p)
	}

	e.store.broadcasts[1].SnapshotSubject = strPtr("Snap {{first_name}}")
	e.store.broadcasts[1].SnapshotHTMLContent = strPtr("")
	e.store.broadcasts[1].SnapshotBuilderSchema = strPtr("")
	e.store.broadcasts[1].SnapshotTemplateVersion = intPtr(1)
	if p, _ = svc.Preview(ctx, 1, 8); !p.FromSnapshot || p.Subject != "Snap Ada" {
		t.Fatalf("unexpected snapshot preview %+v", p)
	}

	if _, err := svc.Preview(ctx, 1, 99); !appErrors.IsNotFound(err) {
		t.Fatalf("expected contact not found, got %v", err)
	}
}
