package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/knograph/knograph-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

func TestStreamWritesEventsUntilChannelCloses(t *testing.T) {
	events := make(chan Event, 4)
	events <- Phase("generation")
	events <- Activity("Scanning 4 concepts for near-duplicates (pass 1)")
	events <- Complete(true, "a2b0e7d2-1111-2222-3333-444455556666")
	close(events)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/courses/x/normalize", nil)
	Stream(rec, req, events, testLogger(t))

	body := rec.Body.String()
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type: want=text/event-stream got=%q", got)
	}
	for _, want := range []string{
		"event: phase",
		`"phase":"generation"`,
		"event: agent_activity",
		"event: complete",
		`"requires_review":true`,
		`"review_id":"a2b0e7d2-1111-2222-3333-444455556666"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestStreamStopsWhenCallerDetaches(t *testing.T) {
	events := make(chan Event) // never written, never closed

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/courses/x/normalize", nil).WithContext(ctx)

	// Must return instead of blocking on the open channel.
	Stream(rec, req, events, testLogger(t))
}

func TestCompleteOmitsReviewIDWhenEmpty(t *testing.T) {
	ev := Complete(false, "")
	data := ev.Data.(map[string]any)
	if data["requires_review"] != false {
		t.Fatalf("requires_review: want=false got=%v", data["requires_review"])
	}
	if _, ok := data["review_id"]; ok {
		t.Fatalf("review_id present on completion without review")
	}
}
