package dx

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/golang/gddo/httputil/header"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/metrics"
)

const DefaultEndpoint = "https://api.dnanexus.com"

// pageSize is the most results DNAnexus will return from one find call
const pageSize = 1000

// API is everything a config check run needs from DNAnexus.
type API interface {
	FindProjects(ctx context.Context, req FindProjectsRequest) ([]Project, error)
	NewProject(ctx context.Context, req NewProjectRequest) (string, error)
	Invite(ctx context.Context, projectID, invitee, level string) error
	ListFolder(ctx context.Context, projectID, folder string) (FolderListing, error)
	NewFolder(ctx context.Context, projectID, folder string) error
	FindDataObjects(ctx context.Context, req FindDataObjectsRequest) ([]DataObject, error)
	UploadFile(ctx context.Context, req UploadRequest) (string, error)
	DescribeFile(ctx context.Context, projectID, fileID string) (FileDescription, error)
	ReadFile(ctx context.Context, projectID, fileID string) ([]byte, error)
	Clone(ctx context.Context, req CloneRequest) (CloneResult, error)
	Move(ctx context.Context, req MoveRequest) error
	FindExecutions(ctx context.Context, req FindExecutionsRequest) ([]Execution, error)
	FindAnalyses(ctx context.Context, req FindAnalysesRequest) ([]Execution, error)
	DescribeExecution(ctx context.Context, id string) (ExecutionDescription, error)
	Terminate(ctx context.Context, id string) error
	RunApp(ctx context.Context, appName string, req RunRequest) (string, error)
	AddTags(ctx context.Context, id string, tags []string) error
}

type Token string

func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", "Bearer "+string(t))
	}
}

type Client struct {
	client   *http.Client
	token    Token
	router   *mux.Router
	endpoint string
	logger   log.Logger
}

var _ API = &Client{}

func New(c *http.Client, endpoint string, t Token, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{
		client:   c,
		token:    t,
		router:   NewRouter(),
		endpoint: endpoint,
		logger:   logger,
	}
}

// --- Projects and folders

func (c *Client) FindProjects(ctx context.Context, req FindProjectsRequest) ([]Project, error) {
	body := map[string]interface{}{
		"name": map[string]string{"regexp": req.NameRegexp},
		"describe": map[string]interface{}{
			"fields": map[string]bool{"name": true, "created": true, "createdBy": true},
		},
	}
	var res []Project
	err := c.find(ctx, FindProjects, body, func(raw json.RawMessage) error {
		var page []Project
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		res = append(res, page...)
		return nil
	})
	return res, err
}

func (c *Client) NewProject(ctx context.Context, req NewProjectRequest) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, ProjectNew, nil, req, &res)
	return res.ID, err
}

func (c *Client) Invite(ctx context.Context, projectID, invitee, level string) error {
	body := map[string]interface{}{
		"invitee":                   invitee,
		"level":                     level,
		"suppressEmailNotification": true,
	}
	return c.call(ctx, ProjectInvite, []string{"project", projectID}, body, nil)
}

func (c *Client) ListFolder(ctx context.Context, projectID, folder string) (FolderListing, error) {
	var res FolderListing
	body := map[string]string{"folder": folder, "only": "folders"}
	err := c.call(ctx, ProjectListFolder, []string{"project", projectID}, body, &res)
	return res, err
}

func (c *Client) NewFolder(ctx context.Context, projectID, folder string) error {
	body := map[string]interface{}{"folder": folder, "parents": true}
	return c.call(ctx, ProjectNewFolder, []string{"project", projectID}, body, nil)
}

func (c *Client) Clone(ctx context.Context, req CloneRequest) (CloneResult, error) {
	body := map[string]interface{}{
		"folders":     nonNil(req.Folders),
		"objects":     nonNil(req.Objects),
		"project":     req.DestinationProject,
		"destination": req.Destination,
		"parents":     true,
	}
	var res CloneResult
	err := c.call(ctx, ProjectClone, []string{"project", req.SourceProject}, body, &res)
	return res, err
}

func (c *Client) Move(ctx context.Context, req MoveRequest) error {
	body := map[string]interface{}{
		"objects":     nonNil(req.Objects),
		"destination": req.Destination,
	}
	return c.call(ctx, ProjectMove, []string{"project", req.Project}, body, nil)
}

// --- Data objects and files

func (c *Client) FindDataObjects(ctx context.Context, req FindDataObjectsRequest) ([]DataObject, error) {
	scope := map[string]interface{}{"project": req.Project}
	if req.Folder != "" {
		scope["folder"] = req.Folder
		scope["recurse"] = req.Recurse
	}
	body := map[string]interface{}{
		"scope": scope,
		"describe": map[string]interface{}{
			"fields": map[string]bool{"name": true, "folder": true, "state": true, "archivalState": true, "size": true},
		},
	}
	switch {
	case req.NameRegexp != "":
		body["name"] = map[string]string{"regexp": req.NameRegexp}
	case req.NameGlob != "":
		body["name"] = map[string]string{"glob": req.NameGlob}
	}
	var res []DataObject
	err := c.find(ctx, FindDataObjects, body, func(raw json.RawMessage) error {
		var page []DataObject
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		res = append(res, page...)
		return nil
	})
	return res, err
}

func (c *Client) DescribeFile(ctx context.Context, projectID, fileID string) (FileDescription, error) {
	var res FileDescription
	body := map[string]string{}
	if projectID != "" {
		body["project"] = projectID
	}
	err := c.call(ctx, FileDescribe, []string{"file", fileID}, body, &res)
	return res, err
}

// UploadFile creates a file object, uploads its content as a single
// part, and closes it. Closing is asynchronous: the file may still be
// `closing` when this returns.
func (c *Client) UploadFile(ctx context.Context, req UploadRequest) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	newBody := map[string]interface{}{
		"project": req.Project,
		"folder":  req.Folder,
		"name":    req.Name,
		"parents": true,
	}
	if err := c.call(ctx, FileNew, nil, newBody, &created); err != nil {
		return "", errors.Wrapf(err, "creating file %s", req.Name)
	}

	sum := md5.Sum(req.Content)
	var target struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	uploadBody := map[string]interface{}{
		"index": 1,
		"size":  len(req.Content),
		"md5":   hex.EncodeToString(sum[:]),
	}
	if err := c.call(ctx, FileUpload, []string{"file", created.ID}, uploadBody, &target); err != nil {
		return created.ID, errors.Wrapf(err, "requesting upload URL for %s", created.ID)
	}

	put, err := http.NewRequest("PUT", target.URL, bytes.NewReader(req.Content))
	if err != nil {
		return created.ID, errors.Wrapf(err, "constructing upload request for %s", created.ID)
	}
	put = put.WithContext(ctx)
	for k, v := range target.Headers {
		put.Header.Set(k, v)
	}
	resp, err := c.client.Do(put)
	if err != nil {
		return created.ID, errors.Wrapf(err, "uploading %s", created.ID)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := ioutil.ReadAll(resp.Body)
		return created.ID, errors.Errorf("uploading %s: %s %s", created.ID, resp.Status, string(body))
	}

	if err := c.call(ctx, FileClose, []string{"file", created.ID}, map[string]string{}, nil); err != nil {
		return created.ID, errors.Wrapf(err, "closing %s", created.ID)
	}
	return created.ID, nil
}

func (c *Client) ReadFile(ctx context.Context, projectID, fileID string) ([]byte, error) {
	var target struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	body := map[string]interface{}{"duration": 3600}
	if projectID != "" {
		body["project"] = projectID
	}
	if err := c.call(ctx, FileDownload, []string{"file", fileID}, body, &target); err != nil {
		return nil, err
	}

	get, err := http.NewRequest("GET", target.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "constructing download request for %s", fileID)
	}
	get = get.WithContext(ctx)
	for k, v := range target.Headers {
		get.Header.Set(k, v)
	}
	resp, err := c.client.Do(get)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s", fileID)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("downloading %s: %s", fileID, resp.Status)
	}
	return ioutil.ReadAll(resp.Body)
}

// --- Executions

func (c *Client) FindExecutions(ctx context.Context, req FindExecutionsRequest) ([]Execution, error) {
	body := map[string]interface{}{
		"project": req.Project,
		"describe": map[string]interface{}{
			"fields": map[string]bool{"state": true, "name": true},
		},
	}
	return c.findExecutions(ctx, FindExecutions, body)
}

func (c *Client) FindAnalyses(ctx context.Context, req FindAnalysesRequest) ([]Execution, error) {
	body := map[string]interface{}{
		"project": req.Project,
		"describe": map[string]interface{}{
			"fields": map[string]bool{"state": true, "name": true, "executableName": true},
		},
	}
	if req.NameGlob != "" {
		body["name"] = map[string]string{"glob": req.NameGlob}
	}
	return c.findExecutions(ctx, FindAnalyses, body)
}

func (c *Client) findExecutions(ctx context.Context, route string, body map[string]interface{}) ([]Execution, error) {
	var res []Execution
	err := c.find(ctx, route, body, func(raw json.RawMessage) error {
		var page []Execution
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		res = append(res, page...)
		return nil
	})
	return res, err
}

func (c *Client) DescribeExecution(ctx context.Context, id string) (ExecutionDescription, error) {
	var res ExecutionDescription
	err := c.call(ctx, ExecutionDescribe, []string{"execution", id}, map[string]string{}, &res)
	return res, err
}

func (c *Client) Terminate(ctx context.Context, id string) error {
	return c.call(ctx, ExecutionTerminate, []string{"execution", id}, map[string]string{}, nil)
}

func (c *Client) AddTags(ctx context.Context, id string, tags []string) error {
	body := map[string]interface{}{"tags": tags}
	return c.call(ctx, ExecutionAddTags, []string{"execution", id}, body, nil)
}

func (c *Client) RunApp(ctx context.Context, appName string, req RunRequest) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if !strings.HasPrefix(appName, "app-") {
		appName = "app-" + appName
	}
	err := c.call(ctx, AppRun, []string{"app", appName}, req, &res)
	return res.ID, err
}

// --- Request helpers

// find pages through a /system/find* method, handing each page of
// results to collect.
func (c *Client) find(ctx context.Context, route string, body map[string]interface{}, collect func(json.RawMessage) error) error {
	body["limit"] = pageSize
	for {
		var page struct {
			Results json.RawMessage `json:"results"`
			Next    json.RawMessage `json:"next"`
		}
		if err := c.call(ctx, route, nil, body, &page); err != nil {
			return err
		}
		if len(page.Results) > 0 {
			if err := collect(page.Results); err != nil {
				return errors.Wrapf(err, "decoding %s results", route)
			}
		}
		if len(page.Next) == 0 || string(page.Next) == "null" {
			return nil
		}
		body["starting"] = page.Next
	}
}

// call POSTs body as JSON to the named route, and decodes the response
// into dest, if dest is not nil.
func (c *Client) call(ctx context.Context, route string, pathVars []string, body interface{}, dest interface{}) (err error) {
	defer func(begin time.Time) {
		requestDuration.With(
			metrics.LabelRoute, route,
			metrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
		if err != nil {
			c.logger.Log("request", "error", "route", route, "err", err)
		}
	}(time.Now())

	u, err := MakeURL(c.endpoint, c.router, route, pathVars...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	if body == nil {
		body = map[string]string{}
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding request body")
	}

	req, err := http.NewRequest("POST", u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	req = req.WithContext(ctx)

	c.token.Set(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if dest == nil {
		return nil
	}
	respBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response from DNAnexus")
	}
	if len(respBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrapf(err, "decoding %s response from DNAnexus", route)
	}
	return nil
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	}

	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body of error")
	}
	// Use the content type to discriminate between DNAnexus error
	// bodies and anything a proxy in between might have said
	if contentType, _ := header.ParseValueAndParams(resp.Header, "Content-Type"); contentType == "application/json" {
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
			wrapper.Error.Status = resp.StatusCode
			return nil, classify(wrapper.Error)
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrorUnauthorized
	}
	return nil, errors.New(resp.Status + " " + string(body))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
