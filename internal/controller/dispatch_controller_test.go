package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcast-backend/internal/controller"
	"github.com/unclebandit/mailcast-backend/internal/service"
)

type MockDispatcher struct {
	result service.TickResult
	err    error
	calls  int
}

func (m *MockDispatcher) RunTick(ctx context.Context) (service.TickResult, error) {
	m.calls++
	return m.result, m.err
}

type MockPinger struct{ err error }

func (m MockPinger) PingContext(ctx context.Context) error { return m.err }

func TestTriggerTick(t *testing.T) {
	d := &MockDispatcher{result: service.TickResult{Promoted: 1, Processed: 2, Queued: 5}}
	ctrl := &controller.DispatchController{Dispatcher: d, Log: zerolog.Nop()}

	w := httptest.NewRecorder()
	ctrl.TriggerTick(w, httptest.NewRequest("POST", "/dispatch/tick", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Result service.TickResult `json:"result"`
		Error  string             `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Result.Queued != 5 || body.Error != "" || d.calls != 1 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestTriggerTickReportsErrors(t *testing.T) {
	d := &MockDispatcher{result: service.TickResult{Processed: 2, Failed: 1}, err: errors.New("broadcast 3: boom")}
	ctrl := &controller.DispatchController{Dispatcher: d, Log: zerolog.Nop()}

	w := httptest.NewRecorder()
	ctrl.TriggerTick(w, httptest.NewRequest("POST", "/dispatch/tick", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	ctrl := &controller.DispatchController{DB: MockPinger{}}
	w := httptest.NewRecorder()
	ctrl.Health(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	ctrl.DB = MockPinger{err: errors.New("down")}
	w = httptest.NewRecorder()
	ctrl.Health(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
