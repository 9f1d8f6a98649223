package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/adverant/nexus/pdf2md/internal/errors"
	"github.com/adverant/nexus/pdf2md/internal/processor"
	"github.com/adverant/nexus/pdf2md/internal/queue"
	"github.com/adverant/nexus/pdf2md/internal/storage"
)

type fakeConverter struct {
	mu       sync.Mutex
	markdown string
	err      error
	reqs     []*processor.ProcessRequest
	statuses []string
}

func (f *fakeConverter) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &processor.ProcessResult{JobID: req.JobID, Markdown: f.markdown, PageCount: 1}, nil
}

func (f *fakeConverter) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeConverter) Translate(ctx context.Context, from, to, text string) (string, error) {
	return fmt.Sprintf("[%s->%s] %s", from, to, text), nil
}

type fakeQueue struct {
	jobs []*queue.JobData
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *queue.JobData) error {
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeJobs struct {
	jobs  map[string]*storage.Job
	frags map[string][]storage.FragmentRecord
}

func (f *fakeJobs) GetJob(ctx context.Context, id string) (*storage.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrJobNotFound, id)
}

func (f *fakeJobs) GetFragments(ctx context.Context, id string) ([]storage.FragmentRecord, error) {
	return f.frags[id], nil
}

func (f *fakeJobs) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"job_store": "healthy"}, nil
}

type fakeSearch struct {
	gotLimit int
	gotJob   string
}

func (f *fakeSearch) SearchFragments(ctx context.Context, vec []float32, limit int, jobID string) ([]*storage.FragmentPoint, error) {
	f.gotLimit, f.gotJob = limit, jobID
	return []*storage.FragmentPoint{{ID: "p1", JobID: "j1", Page: 1, Region: 2, Type: "text", Text: "hit", Score: 0.9}}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func multipartPDF(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return &body, mw.FormDataContentType()
}

func TestConvert(t *testing.T) {
	conv := &fakeConverter{markdown: "## Results\n\ntext"}
	ts := newTestServer(t, &Config{Converter: conv})

	tests := []struct {
		name     string
		query    string
		wantType string
		want     string
	}{
		{"markdown", "?pages=2&target_language=German", "text/markdown", "## Results\n\ntext"},
		{"html", "?format=html", "text/html", "<h2>Results</h2>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ctype := multipartPDF(t, "paper.pdf", []byte("%PDF-1.4"))
			resp, err := http.Post(ts.URL+"/convert"+tt.query, ctype, body)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if !strings.HasPrefix(resp.Header.Get("Content-Type"), tt.wantType) {
				t.Errorf("content type = %q", resp.Header.Get("Content-Type"))
			}
			var out bytes.Buffer
			out.ReadFrom(resp.Body)
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("body = %q, want %q", out.String(), tt.want)
			}
			if resp.Header.Get("X-Job-Id") == "" {
				t.Error("missing X-Job-Id")
			}
		})
	}

	first := conv.reqs[0]
	if first.Filename != "paper.pdf" || first.MaxPages != 2 || first.TargetLanguage != "German" {
		t.Errorf("request = %+v", first)
	}
	if fmt.Sprint(conv.statuses[:2]) != "[processing completed]" {
		t.Errorf("statuses = %v", conv.statuses)
	}
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name       string
		convErr    error
		query      string
		noFile     bool
		wantStatus int
	}{
		{"unsupported format", errors.NewUnsupportedFormatError("j", "image/png"), "", false, http.StatusUnsupportedMediaType},
		{"rasterize", errors.NewRasterizeError("j", fmt.Errorf("gs")), "", false, http.StatusUnprocessableEntity},
		{"internal", fmt.Errorf("boom"), "", false, http.StatusInternalServerError},
		{"bad pages", nil, "?pages=-1", false, http.StatusBadRequest},
		{"bad format", nil, "?format=docx", false, http.StatusBadRequest},
		{"no file", nil, "", true, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &Config{Converter: &fakeConverter{err: tt.convErr}})
			var body *bytes.Buffer
			var ctype string
			if tt.noFile {
				body, ctype = &bytes.Buffer{}, "application/json"
			} else {
				body, ctype = multipartPDF(t, "a.pdf", []byte("%PDF"))
			}
			resp, err := http.Post(ts.URL+"/convert"+tt.query, ctype, body)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestTranslate(t *testing.T) {
	ts := newTestServer(t, &Config{Converter: &fakeConverter{}})

	resp, err := http.Post(ts.URL+"/translate", "application/json", strings.NewReader(`{"text":"hello","target_language":"French"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["text"] != "[English->French] hello" {
		t.Errorf("text = %q", out["text"])
	}

	resp, err = http.Post(ts.URL+"/translate", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing target status = %d", resp.StatusCode)
	}
}

func TestSubmitJob(t *testing.T) {
	q := &fakeQueue{}
	ts := newTestServer(t, &Config{Converter: &fakeConverter{}, Queue: q})

	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(`{"fileUrl":"http://files/a.pdf","maxPages":3}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	if out["jobId"] == "" || out["status"] != storage.StatusQueued {
		t.Errorf("response = %v", out)
	}

	body, ctype := multipartPDF(t, "b.pdf", []byte("%PDF"))
	resp2, err := http.Post(ts.URL+"/jobs?target_language=German", ctype, body)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("multipart status = %d", resp2.StatusCode)
	}

	if len(q.jobs) != 2 {
		t.Fatalf("enqueued %d jobs", len(q.jobs))
	}
	if q.jobs[0].FileURL != "http://files/a.pdf" || q.jobs[0].MaxPages != 3 {
		t.Errorf("job 0 = %+v", q.jobs[0])
	}
	if q.jobs[1].Filename != "b.pdf" || string(q.jobs[1].FileBuffer) != "%PDF" || q.jobs[1].TargetLanguage != "German" {
		t.Errorf("job 1 = %+v", q.jobs[1])
	}
}

func TestSubmitJob_Unavailable(t *testing.T) {
	ts := newTestServer(t, &Config{Converter: &fakeConverter{}})
	resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(`{"fileUrl":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	jobs := &fakeJobs{
		jobs:  map[string]*storage.Job{"j1": {ID: "j1", Status: storage.StatusCompleted, Markdown: "# A"}},
		frags: map[string][]storage.FragmentRecord{"j1": {{Page: 1, Region: 0, Type: "title", Status: "ok", Text: "A"}}},
	}
	ts := newTestServer(t, &Config{Converter: &fakeConverter{}, Jobs: jobs})

	tests := []struct {
		path       string
		wantStatus int
		want       string
	}{
		{"/jobs/j1", http.StatusOK, `"markdown":"# A"`},
		{"/jobs/j1/fragments", http.StatusOK, `"type":"title"`},
		{"/jobs/missing", http.StatusNotFound, "job not found"},
		{"/jobs/missing/fragments", http.StatusNotFound, "job not found"},
		{"/health", http.StatusOK, `"job_store":"healthy"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var out bytes.Buffer
			out.ReadFrom(resp.Body)
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("body = %s, want %s", out.String(), tt.want)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	search := &fakeSearch{}
	ts := newTestServer(t, &Config{Converter: &fakeConverter{}, Search: search, Embedder: fakeEmbedder{}})

	resp, err := http.Post(ts.URL+"/search", "application/json", strings.NewReader(`{"query":"results","limit":500,"jobId":"j1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Results []storage.FragmentPoint `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].Text != "hit" {
		t.Errorf("results = %+v", out.Results)
	}
	if search.gotLimit != maxSearchLimit || search.gotJob != "j1" {
		t.Errorf("limit/job = %d/%q", search.gotLimit, search.gotJob)
	}
}

func TestNewServer_RequiresConverter(t *testing.T) {
	if _, err := NewServer(&Config{}); err == nil {
		t.Error("server without converter accepted")
	}
}
