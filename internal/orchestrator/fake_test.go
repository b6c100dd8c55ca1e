package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/pkg/resource"
)

var errBoom = errors.New("boom")

// fakeCompute scripts the states an instance reports, one per read.
type fakeCompute struct {
	mu        sync.Mutex
	states    map[resource.Handle][]resource.State
	tags      map[resource.Handle]map[string]string
	reads     int
	mutations []string
	callErr   error
	readErr   error
	created   resource.Instance
	console   string
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		states: make(map[resource.Handle][]resource.State),
		tags:   make(map[resource.Handle]map[string]string),
	}
}

// script sets the states returned by successive reads; the last one repeats.
func (f *fakeCompute) script(h resource.Handle, states ...resource.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[h] = states
}

func (f *fakeCompute) next(h resource.Handle) (resource.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return "", f.readErr
	}
	seq, ok := f.states[h]
	if !ok || len(seq) == 0 {
		return "", fmt.Errorf("instance %s not found", h)
	}
	s := seq[0]
	if len(seq) > 1 {
		f.states[h] = seq[1:]
	}
	return s, nil
}

func (f *fakeCompute) mutate(op string, h resource.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, op+":"+h.String())
	return f.callErr
}

func (f *fakeCompute) ListInstances(ctx context.Context) ([]resource.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []resource.Instance
	for h, seq := range f.states {
		out = append(out, resource.Instance{ID: h, State: seq[0], Tags: f.tags[h]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCompute) DescribeInstance(ctx context.Context, h resource.Handle) (resource.Instance, error) {
	s, err := f.next(h)
	if err != nil {
		return resource.Instance{}, err
	}
	return resource.Instance{ID: h, State: s, Tags: f.tags[h]}, nil
}

func (f *fakeCompute) InstanceState(ctx context.Context, h resource.Handle) (resource.State, error) {
	return f.next(h)
}

func (f *fakeCompute) CreateInstance(ctx context.Context, spec resource.InstanceSpec) (resource.Instance, error) {
	if err := f.mutate("create", ""); err != nil {
		return resource.Instance{}, err
	}
	return f.created, nil
}

func (f *fakeCompute) StartInstance(ctx context.Context, h resource.Handle) error {
	return f.mutate("start", h)
}

func (f *fakeCompute) StopInstance(ctx context.Context, h resource.Handle) error {
	return f.mutate("stop", h)
}

func (f *fakeCompute) TerminateInstance(ctx context.Context, h resource.Handle) error {
	return f.mutate("terminate", h)
}

func (f *fakeCompute) ConsoleOutput(ctx context.Context, h resource.Handle) (string, error) {
	return f.console, nil
}

func (f *fakeCompute) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mutations)
}

// calls counts the mutating requests of one kind, e.g. "stop".
func (f *fakeCompute) calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.mutations {
		if strings.HasPrefix(m, op+":") {
			n++
		}
	}
	return n
}

func (f *fakeCompute) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// fakeStore is an in-memory bucket store with injectable delete failures.
type fakeStore struct {
	mu              sync.Mutex
	objects         map[string][]string
	pageSize        int
	deleteErr       map[string]error
	ghosts          map[string][]string
	deletedObjects  []string
	deletedBuckets  []string
	createdBuckets  map[string]string
	uploaded        map[string]string
	containerDelErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:        make(map[string][]string),
		pageSize:       2,
		deleteErr:      make(map[string]error),
		ghosts:         make(map[string][]string),
		createdBuckets: make(map[string]string),
		uploaded:       make(map[string]string),
	}
}

func (f *fakeStore) ListContainers(ctx context.Context) ([]resource.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []resource.Container
	for name := range f.objects {
		out = append(out, resource.Container{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) CreateContainer(ctx context.Context, name, region string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdBuckets[name] = region
	f.objects[name] = nil
	return nil
}

func (f *fakeStore) DeleteContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.containerDelErr != nil {
		return f.containerDelErr
	}
	f.deletedBuckets = append(f.deletedBuckets, name)
	delete(f.objects, name)
	return nil
}

func (f *fakeStore) ListObjects(ctx context.Context, container, prefix, cursor string) (resource.Page[resource.Object], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := append(append([]string{}, f.objects[container]...), f.ghosts[container]...)
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := min(start+f.pageSize, len(keys))
	page := resource.Page[resource.Object]{}
	for _, k := range keys[start:end] {
		page.Items = append(page.Items, resource.Object{Key: k})
	}
	if end < len(keys) {
		page.Next = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (f *fakeStore) PutObject(ctx context.Context, container, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[container+"/"+key] = string(data)
	f.objects[container] = append(f.objects[container], key)
	return nil
}

func (f *fakeStore) GetObject(ctx context.Context, container, key string, dst io.WriterAt) (int64, error) {
	f.mu.Lock()
	data, ok := f.uploaded[container+"/"+key]
	f.mu.Unlock()
	if !ok {
		return 0, errors.New("NoSuchKey")
	}
	n, err := dst.WriteAt([]byte(data), 0)
	return int64(n), err
}

func (f *fakeStore) DeleteObject(ctx context.Context, container, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	f.deletedObjects = append(f.deletedObjects, key)
	keys := f.objects[container]
	for i, k := range keys {
		if k == key {
			f.objects[container] = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

// fakeLogs serves events in pages of pageSize.
type fakeLogs struct {
	mu       sync.Mutex
	events   []resource.LogEvent
	pageSize int
	queries  []provider.LogQuery
	failPage int
}

func (f *fakeLogs) FilterEvents(ctx context.Context, q provider.LogQuery, cursor string) (resource.Page[resource.LogEvent], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.failPage > 0 && len(f.queries) == f.failPage {
		return resource.Page[resource.LogEvent]{}, errBoom
	}
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := min(start+f.pageSize, len(f.events))
	page := resource.Page[resource.LogEvent]{Items: append([]resource.LogEvent{}, f.events[start:end]...)}
	if end < len(f.events) {
		page.Next = fmt.Sprintf("%d", end)
	}
	return page, nil
}

// fakeClassifier labels every text "neutral" and fails whole batches or
// single indices on demand.
type fakeClassifier struct {
	mu         sync.Mutex
	limit      int
	calls      int
	sizes      []int
	failBatch  map[int]bool
	failIndex  map[int]bool
	dropIndex  map[int]bool
	inFlight   int
	peak       int
	delay      time.Duration
	seenInputs []string
}

func (f *fakeClassifier) MaxBatchSize() int { return f.limit }

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, language string, reqs []resource.ClassificationRequest) ([]resource.ClassificationResult, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.sizes = append(f.sizes, len(reqs))
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	for _, r := range reqs {
		f.seenInputs = append(f.seenInputs, r.Text)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if len(reqs) > f.limit {
		return nil, fmt.Errorf("batch of %d exceeds %d", len(reqs), f.limit)
	}
	if f.failBatch[call] {
		return nil, errBoom
	}

	out := make([]resource.ClassificationResult, 0, len(reqs))
	for _, r := range reqs {
		switch {
		case f.dropIndex[r.Index]:
			continue
		case f.failIndex[r.Index]:
			err := errors.New("TEXT_SIZE_LIMIT_EXCEEDED")
			out = append(out, resource.ClassificationResult{Index: r.Index, Err: err, Error: err.Error()})
		default:
			out = append(out, resource.ClassificationResult{Index: r.Index, Label: "neutral", Scores: map[string]float64{"neutral": 1}})
		}
	}
	return out, nil
}

// fakeBilling serves one page per bucket.
type fakeBilling struct {
	buckets  []resource.CostBucket
	queries  []provider.CostQuery
	forecast resource.CostForecast
}

func (f *fakeBilling) CostByCategory(ctx context.Context, q provider.CostQuery, cursor string) (resource.Page[resource.CostBucket], error) {
	f.queries = append(f.queries, q)
	i := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &i)
	}
	if i >= len(f.buckets) {
		return resource.Page[resource.CostBucket]{}, nil
	}
	page := resource.Page[resource.CostBucket]{Items: []resource.CostBucket{f.buckets[i]}}
	if i+1 < len(f.buckets) {
		page.Next = fmt.Sprintf("%d", i+1)
	}
	return page, nil
}

func (f *fakeBilling) Forecast(ctx context.Context, q provider.CostQuery) (resource.CostForecast, error) {
	f.queries = append(f.queries, q)
	return f.forecast, nil
}

type fakeDeployer struct {
	specs []resource.DeploySpec
	err   error
}

func (f *fakeDeployer) CreateDeployment(ctx context.Context, spec resource.DeploySpec) (string, error) {
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return "", f.err
	}
	return "d-" + spec.Application, nil
}

// recorder captures metric calls.
type recorder struct {
	mu       sync.Mutex
	ops      map[string]string
	attempts map[string]int
	failures int
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[string]string), attempts: make(map[string]int)}
}

func (r *recorder) RecordOperation(ctx context.Context, op, status string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op] = status
}

func (r *recorder) RecordWaitAttempts(ctx context.Context, op, target string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[op] = attempts
}

func (r *recorder) RecordBatchFailures(ctx context.Context, op string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures += n
}

// fastOptions keeps waits short in tests.
func fastOptions() Options {
	return Options{}.withFastWait()
}

func (o Options) withFastWait() Options {
	o.Wait.PollInterval = time.Millisecond
	o.Wait.MaxAttempts = 5
	return o
}
