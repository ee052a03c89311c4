package dx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierr "github.com/eastgenomics/configci/pkg/errors"
)

type mockResponse struct {
	status      int
	contentType string
	body        interface{}
}

type call struct {
	route string
	vars  map[string]string
	body  map[string]interface{}
}

// mockRoundTripper answers requests matching the DNAnexus routes with
// canned responses, one per call in order, and records what was asked.
type mockRoundTripper struct {
	router    *mux.Router
	responses map[string][]mockResponse
	calls     []call
	// requests to anything other than the API, e.g., upload URLs
	other []*http.Request
}

func newMockRoundTripper() *mockRoundTripper {
	return &mockRoundTripper{
		router:    NewRouter(),
		responses: map[string][]mockResponse{},
	}
}

func (t *mockRoundTripper) respond(route string, body interface{}) {
	t.responses[route] = append(t.responses[route], mockResponse{status: 200, body: body})
}

func (t *mockRoundTripper) fail(route string, status int, errType, message string) {
	t.responses[route] = append(t.responses[route], mockResponse{
		status:      status,
		contentType: "application/json; charset=utf-8",
		body:        map[string]interface{}{"error": map[string]string{"type": errType, "message": message}},
	})
}

func (t *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var matched mux.RouteMatch
	if req.URL.Host != "api.test" || !t.router.Match(req, &matched) {
		t.other = append(t.other, req)
		return &http.Response{StatusCode: 200, Body: ioutil.NopCloser(bytes.NewReader([]byte("content")))}, nil
	}
	name := matched.Route.GetName()
	c := call{route: name, vars: matched.Vars}
	if req.Body != nil {
		b, _ := ioutil.ReadAll(req.Body)
		json.Unmarshal(b, &c.body)
	}
	t.calls = append(t.calls, c)

	queue := t.responses[name]
	if len(queue) == 0 {
		return &http.Response{StatusCode: 404, Header: http.Header{}, Body: ioutil.NopCloser(bytes.NewReader(nil))}, nil
	}
	resp := queue[0]
	t.responses[name] = queue[1:]
	b, _ := json.Marshal(resp.body)
	header := http.Header{}
	if resp.contentType != "" {
		header.Set("Content-Type", resp.contentType)
	}
	return &http.Response{StatusCode: resp.status, Header: header, Body: ioutil.NopCloser(bytes.NewReader(b))}, nil
}

func (t *mockRoundTripper) called(route string) []call {
	var res []call
	for _, c := range t.calls {
		if c.route == route {
			res = append(res, c)
		}
	}
	return res
}

func mockClient(trip *mockRoundTripper) *Client {
	return New(&http.Client{Transport: trip}, "https://api.test", Token("s3cret"), nil)
}

func TestMakeURL(t *testing.T) {
	router := NewRouter()
	u, err := MakeURL("https://api.dnanexus.com", router, ProjectClone, "project", "project-Fx1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.dnanexus.com/project-Fx1/clone", u.String())

	u, err = MakeURL("https://api.dnanexus.com/", router, ExecutionTerminate, "execution", "analysis-G00d")
	require.NoError(t, err)
	assert.Equal(t, "https://api.dnanexus.com/analysis-G00d/terminate", u.String())

	_, err = MakeURL("https://api.dnanexus.com", router, ExecutionTerminate, "execution", "file-G00d")
	assert.Error(t, err)

	_, err = MakeURL("https://api.dnanexus.com", router, "NoSuchRoute")
	assert.Error(t, err)
}

func TestFindPages(t *testing.T) {
	trip := newMockRoundTripper()
	trip.respond(FindProjects, map[string]interface{}{
		"results": []Project{{ID: "project-A", Describe: ProjectDescription{Name: "one"}}},
		"next":    map[string]string{"id": "project-A"},
	})
	trip.respond(FindProjects, map[string]interface{}{
		"results": []Project{{ID: "project-B", Describe: ProjectDescription{Name: "two"}}},
		"next":    nil,
	})
	c := mockClient(trip)

	projects, err := c.FindProjects(context.Background(), FindProjectsRequest{NameRegexp: "^00.*$"})
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "project-A", projects[0].ID)
	assert.Equal(t, "two", projects[1].Describe.Name)

	calls := trip.called(FindProjects)
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]interface{}{"regexp": "^00.*$"}, calls[0].body["name"])
	assert.Nil(t, calls[0].body["starting"])
	assert.Equal(t, map[string]interface{}{"id": "project-A"}, calls[1].body["starting"])
}

func TestErrorBodies(t *testing.T) {
	trip := newMockRoundTripper()
	trip.fail(ProjectListFolder, 404, "ResourceNotFound", "The specified folder could not be found")
	trip.fail(ExecutionTerminate, 401, "InvalidAuthentication", "the token could not be found")
	trip.fail(AppRun, 500, "InternalError", "oops")
	c := mockClient(trip)
	ctx := context.Background()

	_, err := c.ListFolder(ctx, "project-X", "/nope")
	require.Error(t, err)
	assert.True(t, cierr.IsMissing(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Status)

	err = c.Terminate(ctx, "job-X")
	assert.True(t, cierr.IsUser(err))

	_, err = c.RunApp(ctx, "eggd_dias_batch", RunRequest{Project: "project-X"})
	require.Error(t, err)
	assert.False(t, cierr.IsUser(err))
	assert.False(t, cierr.IsMissing(err))
	assert.Contains(t, err.Error(), "InternalError: oops")
}

func TestUnauthorizedWithoutBody(t *testing.T) {
	trip := newMockRoundTripper()
	trip.responses[ProjectNew] = []mockResponse{{status: 401, body: "no"}}
	c := mockClient(trip)
	_, err := c.NewProject(context.Background(), NewProjectRequest{Name: "x"})
	assert.Equal(t, ErrorUnauthorized, err)
}

func TestAuthorizationHeader(t *testing.T) {
	var got string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Get("Authorization")
		return &http.Response{StatusCode: 200, Body: ioutil.NopCloser(bytes.NewReader([]byte(`{}`)))}, nil
	})
	c := New(&http.Client{Transport: rt}, "https://api.test", Token("s3cret"), nil)
	require.NoError(t, c.AddTags(context.Background(), "job-1", []string{"a"}))
	assert.Equal(t, "Bearer s3cret", got)
}

func TestRunAppPrefixesName(t *testing.T) {
	trip := newMockRoundTripper()
	trip.respond(AppRun, map[string]string{"id": "job-New"})
	c := mockClient(trip)

	id, err := c.RunApp(context.Background(), "eggd_dias_batch", RunRequest{
		Project: "project-T",
		Folder:  "/run",
		Input:   map[string]interface{}{"sample_limit": 5, "assay_config_file": Link{ID: "file-C"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-New", id)

	calls := trip.called(AppRun)
	require.Len(t, calls, 1)
	assert.Equal(t, "app-eggd_dias_batch", calls[0].vars["app"])
	assert.Equal(t, "/run", calls[0].body["folder"])
	input := calls[0].body["input"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"$dnanexus_link": "file-C"}, input["assay_config_file"])
}

func TestUploadFile(t *testing.T) {
	trip := newMockRoundTripper()
	trip.respond(FileNew, map[string]string{"id": "file-Up"})
	trip.respond(FileUpload, map[string]interface{}{
		"url":     "https://upload.test/part",
		"headers": map[string]string{"content-md5": "abc"},
	})
	trip.respond(FileClose, map[string]string{"id": "file-Up"})
	c := mockClient(trip)

	id, err := c.UploadFile(context.Background(), UploadRequest{
		Project: "project-T",
		Folder:  "/run",
		Name:    "dias_config.json",
		Content: []byte(`{"assay":"CEN"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "file-Up", id)

	require.Len(t, trip.other, 1)
	put := trip.other[0]
	assert.Equal(t, "PUT", put.Method)
	assert.Equal(t, "abc", put.Header.Get("content-md5"))

	upload := trip.called(FileUpload)
	require.Len(t, upload, 1)
	assert.Equal(t, float64(15), upload[0].body["size"])
	assert.Len(t, trip.called(FileClose), 1)
}

func TestExecutionDescriptionFields(t *testing.T) {
	var desc ExecutionDescription
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "job-1",
		"state": "done",
		"input": {"single_output_dir": "/output/CEN-240101", "sample_limit": 5},
		"output": {"launched_jobs": "job-2,job-3"}
	}`), &desc))
	assert.Equal(t, "/output/CEN-240101", desc.StringInput("single_output_dir"))
	assert.Equal(t, "", desc.StringInput("sample_limit"))
	assert.Equal(t, "", desc.StringInput("missing"))
	assert.Equal(t, "job-2,job-3", desc.StringOutput("launched_jobs"))
}

func TestTerminal(t *testing.T) {
	for _, s := range []string{StateDone, StateFailed, StateTerminating, StateTerminated, StatePartiallyFailed} {
		assert.True(t, Terminal(s), s)
	}
	for _, s := range []string{StateIdle, StateRunnable, StateRunning, StateWaiting, ""} {
		assert.False(t, Terminal(s), s)
	}
}

func TestEnded(t *testing.T) {
	for _, s := range []string{StateDone, StateFailed, StateTerminated} {
		assert.True(t, Ended(s), s)
	}
	for _, s := range []string{StateIdle, StateRunnable, StateRunning, StateWaiting, StateTerminating, StatePartiallyFailed, ""} {
		assert.False(t, Ended(s), s)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestRequestDurationObserved(t *testing.T) {
	trip := newMockRoundTripper()
	trip.respond(ProjectNewFolder, map[string]string{"id": "project-X"})
	c := mockClient(trip)
	require.NoError(t, c.NewFolder(context.Background(), "project-X", "/a/b"))

	families, err := stdprometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var found *dto.Metric
	for _, family := range families {
		if family.GetName() != "configci_dnanexus_request_duration_seconds" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["route"] == ProjectNewFolder && labels["success"] == "true" {
				found = m
			}
		}
	}
	require.NotNil(t, found)
	assert.True(t, found.GetHistogram().GetSampleCount() > 0)
}
