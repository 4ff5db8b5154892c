package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/client"
	"github.com/richinsley/viewcomfy/metrics"
	"github.com/richinsley/viewcomfy/results"
)

// Submitter posts a generation request. *client.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, req *client.SubmitRequest) (*client.SubmitResult, error)
}

// Notifier announces an accepted job. *notify.Gate implements it.
type Notifier interface {
	Notify(ctx context.Context, job *results.Job)
}

// Hook runs once for every accepted job.
type Hook func(ctx context.Context, job *results.Job)

// Display is an output together with the URL it is shown from.
type Display struct {
	Output results.Output
	URL    string
}

func (d Display) Kind() results.Kind { return d.Output.Kind() }

// MarshalJSON leaves out the blob bytes; they are fetched through URL.
func (d Display) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Filename    string       `json:"filename"`
		ContentType string       `json:"content_type"`
		Kind        results.Kind `json:"kind"`
		URL         string       `json:"url"`
	}{d.Output.Name, d.Output.ContentType, d.Kind(), d.URL})
}

// Generation is the view of one finished job.
type Generation struct {
	PromptID             string         `json:"prompt_id"`
	Status               results.Status `json:"status"`
	Outputs              []Display      `json:"outputs"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	ExecutionTimeSeconds *float64       `json:"execution_time_seconds,omitempty"`
}

type Options struct {
	Notifier Notifier
	Logger   *zerolog.Logger
	// Realtime is set when results can arrive over the socket. Without it a submission
	// that returns no outputs completes with none.
	Realtime bool
	// Seed generates random seeds for seed inputs left on RandomSeed.
	Seed func() int64
}

// Tracker is the generation state: the merge-once result store, the loading flag, the
// jobs still waiting for their socket result, and the URLs their outputs are shown from.
type Tracker struct {
	store    *results.Store
	urls     *results.ObjectURLs
	notifier Notifier
	seed     func() int64
	realtime bool
	log      zerolog.Logger

	mu         sync.Mutex
	loading    bool
	pending    map[string]struct{}
	displays   map[string][]Display
	textOutput bool
	hooks      []Hook
	listeners  []func()
	closed     bool
}

func NewTracker(opts Options) *Tracker {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Tracker{
		store:    results.NewStore(),
		urls:     results.NewObjectURLs(),
		notifier: opts.Notifier,
		seed:     opts.Seed,
		realtime: opts.Realtime,
		log:      logger.With().Str("component", "generation").Logger(),
		pending:  make(map[string]struct{}),
		displays: make(map[string][]Display),
	}
}

func (t *Tracker) Store() *results.Store { return t.store }

// ObjectURLs resolves the blob URLs handed out for local outputs.
func (t *Tracker) ObjectURLs() *results.ObjectURLs { return t.urls }

// OnAccept registers a hook run after every accepted merge.
func (t *Tracker) OnAccept(h Hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, h)
}

// OnChange registers a listener called whenever the visible state changes.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// SetTextOutputEnabled controls whether text outputs are part of a Generation.
func (t *Tracker) SetTextOutputEnabled(enabled bool) {
	t.mu.Lock()
	t.textOutput = enabled
	t.mu.Unlock()
	t.changed()
}

func (t *Tracker) BeginSubmission() {
	t.mu.Lock()
	t.loading = true
	t.mu.Unlock()
	t.changed()
}

// MarkPending records a submitted job whose result will arrive over the socket. It is
// ignored when the result is already in.
func (t *Tracker) MarkPending(promptID string) {
	t.mu.Lock()
	if _, done := t.store.Get(promptID); done || t.closed || promptID == "" {
		t.mu.Unlock()
		return
	}
	t.pending[promptID] = struct{}{}
	metrics.SetPendingJobs(len(t.pending))
	t.mu.Unlock()
	t.changed()
}

// Merge records job unless a result for its prompt id is already in. Only the accepting
// call clears the loading flag, runs the hooks and sends the notification.
func (t *Tracker) Merge(ctx context.Context, job *results.Job) bool {
	if job == nil {
		return false
	}

	if !job.Terminal() {
		metrics.IncResult(metrics.OutcomeMalformed)
		t.log.Error().Str("prompt_id", job.PromptID).Str("status", string(job.Status)).Msg("ignoring unfinished job")
		return false
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		metrics.IncResult(metrics.OutcomeIgnored)
		t.log.Debug().Str("prompt_id", job.PromptID).Msg("ignoring result after close")
		return false
	}
	if !t.store.Merge(job.PromptID, job) {
		t.mu.Unlock()
		metrics.IncResult(metrics.OutcomeDuplicate)
		t.log.Debug().Str("prompt_id", job.PromptID).Msg("ignoring duplicate result")
		return false
	}
	t.displays[job.PromptID] = t.display(job)
	t.loading = false
	delete(t.pending, job.PromptID)
	metrics.SetPendingJobs(len(t.pending))
	hooks := append([]Hook(nil), t.hooks...)
	t.mu.Unlock()

	metrics.IncResult(metrics.OutcomeAccepted)
	t.log.Info().Str("prompt_id", job.PromptID).Str("status", string(job.Status)).Int("outputs", len(job.Outputs)).Msg("result accepted")

	for _, h := range hooks {
		t.guard("accept hook", func() { h(ctx, job) })
	}
	t.changed()
	if t.notifier != nil {
		t.notifier.Notify(ctx, job)
	}
	return true
}

func (t *Tracker) display(job *results.Job) []Display {
	out := make([]Display, 0, len(job.Outputs))
	for _, o := range job.Outputs {
		d := Display{Output: o}
		switch src := o.Source.(type) {
		case results.LocalBlob:
			d.URL = t.urls.Create(src.Data, o.ContentType)
		case results.RemoteRef:
			d.URL = src.URL
		}
		out = append(out, d)
	}
	return out
}

// FailSubmission ends a submission that never produced a prompt id.
func (t *Tracker) FailSubmission(err error) Dialog {
	t.mu.Lock()
	t.loading = false
	t.mu.Unlock()
	t.changed()
	return DialogFor(err)
}

// Submit runs a workflow through s. Outputs returned directly are merged at once;
// otherwise the job waits for its socket result, or completes empty when there is no
// socket. A failed submission returns a *DialogError.
func (t *Tracker) Submit(ctx context.Context, s Submitter, wf *Workflow) (string, error) {
	t.mu.Lock()
	t.textOutput = wf.ViewComfyJSON.TextOutputEnabled
	t.mu.Unlock()
	t.BeginSubmission()

	res, err := s.Submit(ctx, wf.Request(t.seed))
	if err != nil {
		d := t.FailSubmission(err)
		t.log.Error().Err(err).Str("title", d.Title).Msg("submission failed")
		return "", &DialogError{Dialog: d, Err: err}
	}

	if len(res.Outputs) > 0 || !t.realtime {
		job, err := results.FromSubmission(res.PromptID, res.Outputs)
		if err != nil {
			d := t.FailSubmission(err)
			return "", &DialogError{Dialog: d, Err: err}
		}
		t.Merge(ctx, job)
		return job.PromptID, nil
	}
	t.MarkPending(res.PromptID)
	return res.PromptID, nil
}

// Reset forgets every job and releases the URLs of their outputs.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.store.Reset()
	released := t.releaseLocked()
	t.pending = make(map[string]struct{})
	t.loading = false
	metrics.SetPendingJobs(0)
	t.mu.Unlock()
	t.log.Debug().Int("released", released).Msg("generations reset")
	t.changed()
}

// Close releases every blob URL. Later merges are ignored. Closing twice is harmless.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.releaseLocked()
}

func (t *Tracker) releaseLocked() int {
	released := 0
	for id, displays := range t.displays {
		for _, d := range displays {
			if results.IsBlobURL(d.URL) && t.urls.Revoke(d.URL) {
				released++
			}
		}
		delete(t.displays, id)
	}
	return released
}

func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Pending returns the prompt ids still waiting for a result, sorted.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) Generation(promptID string) (Generation, bool) {
	job, ok := t.store.Get(promptID)
	if !ok {
		return Generation{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generationLocked(job), true
}

// Generations returns every finished job, newest first.
func (t *Tracker) Generations() []Generation {
	jobs := t.store.List()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Generation, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, t.generationLocked(job))
	}
	return out
}

func (t *Tracker) generationLocked(job *results.Job) Generation {
	g := Generation{
		PromptID:             job.PromptID,
		Status:               job.Status,
		Outputs:              make([]Display, 0, len(t.displays[job.PromptID])),
		ErrorMessage:         job.ErrorMessage,
		ExecutionTimeSeconds: job.ExecutionTimeSeconds,
	}
	if g.Status == results.StatusError && g.ErrorMessage == "" {
		g.ErrorMessage = DefaultJobError
	}
	for _, d := range t.displays[job.PromptID] {
		if d.Kind() == results.KindText && !t.textOutput {
			continue
		}
		g.Outputs = append(g.Outputs, d)
	}
	return g
}

func (t *Tracker) changed() {
	t.mu.Lock()
	listeners := append([]func(){}, t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		t.guard("change listener", fn)
	}
}

func (t *Tracker) guard(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			t.log.Error().Err(fmt.Errorf("%v", p)).Msg(what + " panicked")
		}
	}()
	fn()
}
