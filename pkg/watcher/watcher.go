// Package watcher polls the connected Jenkins server for job status changes.
package watcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/sirupsen/logrus"
)

// JobChange describes a job whose status label moved between two polls.
type JobChange struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Color          string `json:"color"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Building       bool   `json:"building"`
}

// ChangeCallback receives the changes found by one poll. It is never called
// with an empty slice.
type ChangeCallback func(changes []JobChange)

// Metrics is the subset of pkg/metrics the watcher reports to.
type Metrics interface {
	SetJobCounts(counts map[string]int)
	RecordJobStatusChange()
}

// Watcher periodically lists jobs while the client is connected.
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
	ForceRefresh(ctx context.Context) error
	SetChangeCallback(cb ChangeCallback)
	LastPoll() time.Time
}

type watcher struct {
	log      logrus.FieldLogger
	client   jenkins.Client
	metrics  Metrics
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	lastPoll time.Time
	baseURL  string
	colors   map[string]string
	onChange ChangeCallback
}

// Ensure watcher implements Watcher.
var _ Watcher = (*watcher)(nil)

// New creates a watcher. A non-positive interval disables polling.
func New(log logrus.FieldLogger, client jenkins.Client, m Metrics, interval time.Duration) Watcher {
	return &watcher{
		log:      log.WithField("component", "watcher"),
		client:   client,
		metrics:  m,
		interval: interval,
	}
}

// Start begins the polling loop.
func (w *watcher) Start(ctx context.Context) error {
	if w.interval <= 0 {
		w.log.Info("Job watcher disabled")

		return nil
	}

	w.log.WithField("interval", w.interval).Info("Starting job watcher")

	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)

	go w.loop(ctx)

	return nil
}

// Stop stops the polling loop and waits for it to exit.
func (w *watcher) Stop() error {
	if w.cancel != nil {
		w.log.Info("Stopping job watcher")
		w.cancel()
	}

	w.wg.Wait()

	return nil
}

// ForceRefresh polls immediately.
func (w *watcher) ForceRefresh(ctx context.Context) error {
	return w.poll(ctx)
}

// SetChangeCallback sets the callback for job status changes.
func (w *watcher) SetChangeCallback(cb ChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onChange = cb
}

// LastPoll returns the time of the last successful poll.
func (w *watcher) LastPoll() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.lastPoll
}

func (w *watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				w.log.WithError(err).Warn("Job poll failed")
			}
		}
	}
}

// poll lists all jobs and diffs their status labels against the previous
// snapshot. The first poll after connecting only records the baseline.
func (w *watcher) poll(ctx context.Context) error {
	if !w.client.IsConnected() {
		w.reset()

		return nil
	}

	baseURL := w.client.BaseURL()

	jobs, err := w.client.ListJobs(ctx, "")
	if err != nil {
		if jenkins.IsNotConnected(err) {
			w.reset()

			return nil
		}

		return err
	}

	w.mu.Lock()

	if w.baseURL != baseURL {
		w.colors = nil
		w.baseURL = baseURL
	}

	changes := diff(w.colors, jobs)

	w.colors = make(map[string]string, len(jobs))
	for _, j := range jobs {
		w.colors[j.Name] = j.Color
	}

	w.lastPoll = time.Now()
	cb := w.onChange

	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.SetJobCounts(countByStatus(jobs))

		for range changes {
			w.metrics.RecordJobStatusChange()
		}
	}

	if len(changes) > 0 {
		w.log.WithField("changes", len(changes)).Debug("Job status changed")

		if cb != nil {
			cb(changes)
		}
	}

	return nil
}

func (w *watcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.colors = nil
	w.baseURL = ""
}

// diff returns jobs whose color differs from prev, new jobs included. A nil
// prev means no baseline yet.
func diff(prev map[string]string, jobs []jenkins.Job) []JobChange {
	if prev == nil {
		return nil
	}

	var changes []JobChange

	for _, j := range jobs {
		old, seen := prev[j.Name]
		if seen && old == j.Color {
			continue
		}

		change := JobChange{
			Name:     j.Name,
			URL:      j.URL,
			Color:    j.Color,
			Status:   j.Status(),
			Building: j.Building(),
		}

		if seen {
			change.PreviousStatus = jenkins.JobStatus(old)
		}

		changes = append(changes, change)
	}

	sort.Slice(changes, func(a, b int) bool { return changes[a].Name < changes[b].Name })

	return changes
}

func countByStatus(jobs []jenkins.Job) map[string]int {
	counts := make(map[string]int, len(jobs))

	for _, j := range jobs {
		counts[j.Status()]++
	}

	return counts
}
