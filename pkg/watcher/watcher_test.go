package watcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/sirupsen/logrus"
)

// fakeClient serves a mutable job list. Only the calls made by the watcher
// are implemented.
type fakeClient struct {
	jenkins.Client

	mu        sync.Mutex
	connected bool
	baseURL   string
	jobs      []jenkins.Job
	err       error
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected
}

func (f *fakeClient) BaseURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.baseURL
}

func (f *fakeClient) ListJobs(context.Context, string) ([]jenkins.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return append([]jenkins.Job(nil), f.jobs...), nil
}

func (f *fakeClient) set(jobs ...jenkins.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.jobs = jobs
}

type fakeMetrics struct {
	counts  map[string]int
	changes int
}

func (m *fakeMetrics) SetJobCounts(counts map[string]int) { m.counts = counts }
func (m *fakeMetrics) RecordJobStatusChange() { m.changes++ }

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestPollDetectsChanges(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{connected: true, baseURL: "https://ci"}
	client.set(
		jenkins.Job{Name: "build", Color: "blue"},
		jenkins.Job{Name: "deploy", Color: "red"},
	)

	m := &fakeMetrics{}
	w := New(testLogger(), client, m, time.Minute)

	var got []JobChange

	w.SetChangeCallback(func(changes []JobChange) { got = changes })

	if err := w.ForceRefresh(ctx); err != nil {
		t.Fatalf("ForceRefresh error = %v", err)
	}

	if got != nil {
		t.Fatalf("baseline poll reported changes: %+v", got)
	}

	if m.counts["SUCCESS"] != 1 || m.counts["FAILED"] != 1 {
		t.Fatalf("counts = %v", m.counts)
	}

	client.set(
		jenkins.Job{Name: "build", Color: "blue_anime"},
		jenkins.Job{Name: "deploy", Color: "red"},
		jenkins.Job{Name: "lint", Color: "notbuilt"},
	)

	if err := w.ForceRefresh(ctx); err != nil {
		t.Fatalf("ForceRefresh error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("changes = %+v, want 2", got)
	}

	if got[0].Name != "build" || !got[0].Building || got[0].PreviousStatus != "SUCCESS" || got[0].Status != "SUCCESS" {
		t.Fatalf("build change = %+v", got[0])
	}

	if got[1].Name != "lint" || got[1].PreviousStatus != "" || got[1].Status != "NOT_BUILT" {
		t.Fatalf("lint change = %+v", got[1])
	}

	if m.changes != 2 {
		t.Fatalf("recorded changes = %d, want 2", m.changes)
	}

	if w.LastPoll().IsZero() {
		t.Fatalf("last poll not recorded")
	}
}

func TestPollResetsOnDisconnectAndServerSwitch(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{connected: true, baseURL: "https://a"}
	client.set(jenkins.Job{Name: "build", Color: "blue"})

	w := New(testLogger(), client, nil, time.Minute)

	calls := 0

	w.SetChangeCallback(func([]JobChange) { calls++ })

	_ = w.ForceRefresh(ctx)

	client.mu.Lock()
	client.baseURL = "https://b"
	client.jobs = []jenkins.Job{{Name: "build", Color: "red"}}
	client.mu.Unlock()

	_ = w.ForceRefresh(ctx)

	if calls != 0 {
		t.Fatalf("switching servers reported %d change batches", calls)
	}

	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()

	if err := w.ForceRefresh(ctx); err != nil {
		t.Fatalf("disconnected poll error = %v", err)
	}

	client.mu.Lock()
	client.connected = true
	client.jobs = []jenkins.Job{{Name: "build", Color: "blue"}}
	client.mu.Unlock()

	_ = w.ForceRefresh(ctx)

	if calls != 0 {
		t.Fatalf("reconnect reported %d change batches", calls)
	}
}

func TestPollErrors(t *testing.T) {
	client := &fakeClient{connected: true, baseURL: "https://ci", err: jenkins.ErrNotConnected}
	w := New(testLogger(), client, nil, time.Minute)

	if err := w.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("not-connected error should be swallowed, got %v", err)
	}

	boom := errors.New("boom")
	client.err = boom

	if err := w.ForceRefresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
}

func TestDisabledWatcher(t *testing.T) {
	w := New(testLogger(), &fakeClient{}, nil, -1)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
}

func TestLoopPolls(t *testing.T) {
	client := &fakeClient{connected: true, baseURL: "https://ci"}
	client.set(jenkins.Job{Name: "build", Color: "blue"})

	w := New(testLogger(), client, nil, 10*time.Millisecond)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	t.Cleanup(func() { _ = w.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for w.LastPoll().IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("loop never polled")
		}

		time.Sleep(5 * time.Millisecond)
	}
}
