package service

type engine struct {
	store      *memStore
	tasks      *fakeQueue
	events     *fakeEvents
	transport  *fakeTransport
	lifecycle  *LifecycleDriver
	expander   *RecipientExpander
	reclaimer  *StaleRecoveryScanner
	queuer     *RateLimitedQueuer
	worker     *SendWorker
	dispatcher *Dispatcher
}

func newEngine() *engine {
	s := newMemStore()
	e := &engine{
		store:     s,
		tasks:     &fakeQueue{},
		events:    &fakeEvents{},
		transport: &fakeTransport{id: "prov-1"},
	}
	e.lifecycle = &LifecycleDriver{
		Broadcasts:        fakeBroadcasts{s},
		Recipients:        fakeRecipients{s},
		Templates:         fakeTemplates{s},
		DefaultFromPrefix: "news",
		DefaultFromDomain: "mail.example.com",
		Now:               fixedClock,
		Log:               nopLog,
	}
	e.expander = &RecipientExpander{Contacts: fakeContacts{s}, Recipients: fakeRecipients{s}, Now: fixedClock, Log: nopLog}
	e.reclaimer = &StaleRecoveryScanner{Recipients: fakeRecipients{s}, Now: fixedClock, Log: nopLog}
	e.queuer = &RateLimitedQueuer{Recipients: fakeRecipients{s}, Tasks: e.tasks, Events: e.events, Now: fixedClock, Log: nopLog}
	e.worker = &SendWorker{
		Recipients: fakeRecipients{s},
		Broadcasts: fakeBroadcasts{s},
		Contacts:   fakeContacts{s},
		Renderer:   FastTemplateRenderer{},
		Transport:  e.transport,
		Events:     e.events,
		Now:        fixedClock,
		Log:        nopLog,
	}
	e.dispatcher = &Dispatcher{
		Broadcasts: fakeBroadcasts{s},
		Lifecycle:  e.lifecycle,
		Expander:   e.expander,
		Reclaimer:  e.reclaimer,
		Queuer:     e.queuer,
		Log:        nopLog,
	}
	return e
}
