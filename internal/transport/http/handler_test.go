package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omkar-codehub/sar-marine-backend/internal/dispatch"
	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository/memory"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
	httptransport "github.com/omkar-codehub/sar-marine-backend/internal/transport/http"
	"github.com/omkar-codehub/sar-marine-backend/internal/worker"
)

// ---- fixture ----

type fixture struct {
	router  http.Handler
	svc     *service.JobService
	queue   *service.MemoryQueue
	results *memory.ResultRepository
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newFixtureWithRepo wraps the job repository built over the fixture's
// result store; wrap may be nil.
func newFixtureWithRepo(wrap func(*memory.JobRepository) service.JobRepository) *fixture {
	queue := service.NewMemoryQueue(64)
	results := memory.NewResultRepository()
	jobs := memory.NewJobRepository(results)
	var repo service.JobRepository = jobs
	if wrap != nil {
		repo = wrap(jobs)
	}
	svc := service.NewJobService(repo, results, queue, quietLogger())
	h := httptransport.NewHandler(svc, quietLogger())
	return &fixture{
		router:  httptransport.Routes(h, quietLogger()),
		svc:     svc,
		queue:   queue,
		results: results,
	}
}

func newFixture() *fixture { return newFixtureWithRepo(nil) }

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) submit(t *testing.T, typ, imageID string) string {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/detect/"+typ+"/"+imageID, "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.JobID
}

func (f *fixture) status(t *testing.T, jobID string) map[string]any {
	t.Helper()
	rr := f.do(t, http.MethodGet, "/detect/status/"+jobID, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	return got
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got), rr.Body.String())
	return got
}

// ---- submit ----

func TestHTTP_Submit_202(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/detect/ship/img42", "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	got := decodeMap(t, rr)
	assert.Equal(t, true, got["accepted"])
	assert.Equal(t, "Ship detection started", got["message"])
	jobID, _ := got["jobId"].(string)
	_, err := uuid.Parse(jobID)
	require.NoError(t, err)

	// сразу после ответа job в очереди, worker ещё не вызывался
	st := f.status(t, jobID)
	assert.Equal(t, "queued", st["status"])
	assert.Equal(t, "ship", st["type"])
	assert.Equal(t, "img42", st["imageId"])
	assert.Equal(t, 1, f.queue.Len())
}

func TestHTTP_Submit_OilSpillMessage(t *testing.T) {
	f := newFixture()
	rr := f.do(t, http.MethodPost, "/detect/oilspill/img7", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "Oil spill detection started", decodeMap(t, rr)["message"])
}

func TestHTTP_Submit_400(t *testing.T) {
	f := newFixture()

	for _, path := range []string{"/detect/tanker/img1", "/detect/ship/%20"} {
		rr := f.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
		assert.NotEmpty(t, decodeMap(t, rr)["message"])
	}
	assert.Equal(t, 0, f.queue.Len(), "nothing is enqueued for invalid requests")
}

// ---- status ----

func TestHTTP_Status_RecordShape(t *testing.T) {
	f := newFixture()
	jobID := f.submit(t, "ship", "img1")

	st := f.status(t, jobID)
	assert.Equal(t, jobID, st["jobId"])
	for _, key := range []string{"detectionsCount", "error"} {
		v, ok := st[key]
		assert.True(t, ok, "%s must be present", key)
		assert.Nil(t, v)
	}
	_, err := time.Parse(time.RFC3339Nano, st["createdAt"].(string))
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, st["updatedAt"].(string))
	assert.NoError(t, err)
}

func TestHTTP_Status_404(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodGet, "/detect/status/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/detect/status/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// ---- webhook ----

func TestHTTP_Webhook_ShipCompleted(t *testing.T) {
	f := newFixture()
	jobID := f.submit(t, "ship", "img42")

	body := `{"job_id":"` + jobID + `","type":"ship","image_id":"img42","detections":[{"n":1},{"n":2},{"n":3}]}`
	rr := f.do(t, http.MethodPost, "/detect/webhook", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decodeMap(t, rr)["received"])

	st := f.status(t, jobID)
	assert.Equal(t, "completed", st["status"])
	assert.Equal(t, float64(3), st["detectionsCount"])
	assert.Nil(t, st["error"])

	rr = f.do(t, http.MethodGet, "/detect/results/ship/img42", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		ImageID string `json:"imageId"`
		Results []struct {
			JobID      string            `json:"jobId"`
			Detections []json.RawMessage `json:"detections"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "img42", res.ImageID)
	require.Len(t, res.Results, 1)
	assert.Equal(t, jobID, res.Results[0].JobID)
	require.Len(t, res.Results[0].Detections, 3)
	assert.JSONEq(t, `{"n":1}`, string(res.Results[0].Detections[0]))
	assert.JSONEq(t, `{"n":3}`, string(res.Results[0].Detections[2]))
}

func TestHTTP_Webhook_ErrorMarksFailed(t *testing.T) {
	f := newFixture()
	jobID := f.submit(t, "oilspill", "img7")

	rr := f.do(t, http.MethodPost, "/detect/webhook", `{"job_id":"`+jobID+`","type":"oilspill","image_id":"img7","error":"model crashed"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	st := f.status(t, jobID)
	assert.Equal(t, "failed", st["status"])
	assert.Equal(t, "model crashed", st["error"])
	assert.Nil(t, st["detectionsCount"])
	assert.Equal(t, 0, f.results.Count())
}

func TestHTTP_Webhook_DuplicateStoresOneResult(t *testing.T) {
	f := newFixture()
	jobID := f.submit(t, "ship", "img1")
	body := `{"job_id":"` + jobID + `","type":"ship","image_id":"img1","detections":[{},{}]}`

	for i := 0; i < 2; i++ {
		rr := f.do(t, http.MethodPost, "/detect/webhook", body)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	assert.Equal(t, 1, f.results.Count())
	assert.Equal(t, float64(2), f.status(t, jobID)["detectionsCount"])
}

func TestHTTP_Webhook_400(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/detect/webhook", `{"type":"ship","image_id":"img1","detections":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/detect/webhook", `{"job_id":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTTP_Webhook_404(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodPost, "/detect/webhook", `{"job_id":"`+uuid.NewString()+`","type":"ship","image_id":"x","detections":[]}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 0, f.results.Count())

	rr = f.do(t, http.MethodPost, "/detect/webhook", `{"job_id":"nope","type":"ship"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// ---- errors ----

type brokenRepo struct {
	*memory.JobRepository
}

func (r brokenRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return nil, errors.New("connection reset by peer: 10.0.0.5:5432")
}

func TestHTTP_StorageFailure_500WithoutDetail(t *testing.T) {
	f := newFixtureWithRepo(func(r *memory.JobRepository) service.JobRepository { return brokenRepo{r} })

	rr := f.do(t, http.MethodGet, "/detect/status/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decodeMap(t, rr)["message"])
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")

	rr = f.do(t, http.MethodPost, "/detect/webhook", `{"job_id":"`+uuid.NewString()+`","detections":[]}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHTTP_Results_400AndEmpty(t *testing.T) {
	f := newFixture()

	rr := f.do(t, http.MethodGet, "/detect/results/tanker/img1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/detect/results/ship/unknown", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []any{}, decodeMap(t, rr)["results"])
}

func TestHTTP_Health(t *testing.T) {
	rr := newFixture().do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

// ---- end to end ----

// fakeWorker accepts start requests and, when reply is set, posts a callback
// back to the coordinator from a separate goroutine.
type fakeWorker struct {
	t      *testing.T
	mu     sync.Mutex
	starts []dispatch.Request
	reply  func(req dispatch.Request) string
	status int
}

func (fw *fakeWorker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/start_detection" {
		http.NotFound(w, r)
		return
	}
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fw.mu.Lock()
	fw.starts = append(fw.starts, req)
	fw.mu.Unlock()

	if fw.status != 0 {
		w.WriteHeader(fw.status)
		return
	}
	w.WriteHeader(http.StatusOK)

	if fw.reply != nil {
		body := fw.reply(req)
		go func() {
			resp, err := http.Post(req.CallbackURL, "application/json", strings.NewReader(body))
			if err != nil {
				fw.t.Errorf("callback: %v", err)
				return
			}
			_ = resp.Body.Close()
		}()
	}
}

func (fw *fakeWorker) startCount() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.starts)
}

func runCoordinator(t *testing.T, fw *fakeWorker) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture()
	coordinator := httptest.NewServer(f.router)
	t.Cleanup(coordinator.Close)

	workerSrv := httptest.NewServer(fw)
	t.Cleanup(workerSrv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	processor := worker.NewProcessor(f.svc, dispatch.NewClient(workerSrv.URL, 5*time.Second), dispatch.CallbackURL(coordinator.URL), quietLogger())
	pool := worker.NewPool(f.queue, processor, 2, 50*time.Millisecond, quietLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return coordinator, f
}

func waitStatus(t *testing.T, f *fixture, jobID, want string) map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := f.svc.GetStatus(context.Background(), uuid.MustParse(jobID))
		return err == nil && string(j.Status) == want
	}, 3*time.Second, 20*time.Millisecond, "job %s never reached %s", jobID, want)
	return f.status(t, jobID)
}

func TestE2E_ShipDetection(t *testing.T) {
	fw := &fakeWorker{t: t}
	fw.reply = func(req dispatch.Request) string {
		return `{"job_id":"` + req.JobID + `","type":"` + req.Type + `","image_id":"` + req.ImageID + `","detections":[{"lat":1},{"lat":2},{"lat":3}]}`
	}
	coordinator, f := runCoordinator(t, fw)

	jobID := f.submit(t, "ship", "img42")
	st := waitStatus(t, f, jobID, "completed")
	assert.Equal(t, float64(3), st["detectionsCount"])
	assert.Equal(t, 1, f.results.Count())

	require.Equal(t, 1, fw.startCount())
	fw.mu.Lock()
	start := fw.starts[0]
	fw.mu.Unlock()
	assert.Equal(t, dispatch.Request{
		Type:        "ship",
		ImageID:     "img42",
		JobID:       jobID,
		CallbackURL: coordinator.URL + "/detect/webhook",
	}, start)
}

func TestE2E_OilSpillDetection(t *testing.T) {
	fw := &fakeWorker{t: t}
	fw.reply = func(req dispatch.Request) string {
		return `{"job_id":"` + req.JobID + `","type":"oilspill","image_id":"` + req.ImageID + `"}`
	}
	_, f := runCoordinator(t, fw)

	jobID := f.submit(t, "oilspill", "img7")
	st := waitStatus(t, f, jobID, "completed")
	assert.Nil(t, st["detectionsCount"])
	assert.Equal(t, 0, f.results.Count())
}

func TestE2E_WorkerRejects(t *testing.T) {
	fw := &fakeWorker{t: t, status: http.StatusServiceUnavailable}
	_, f := runCoordinator(t, fw)

	jobID := f.submit(t, "ship", "img1")
	st := waitStatus(t, f, jobID, "failed")
	assert.Equal(t, service.DispatchFailedReason, st["error"])
}

func TestE2E_WorkerAcceptsWithoutCallback(t *testing.T) {
	fw := &fakeWorker{t: t}
	_, f := runCoordinator(t, fw)

	jobID := f.submit(t, "ship", "img1")
	waitStatus(t, f, jobID, "running")
}
