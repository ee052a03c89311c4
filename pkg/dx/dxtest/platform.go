// Package dxtest has an in-memory stand-in for DNAnexus, implementing
// dx.API, for testing the steps of a config check run.
package dxtest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"

	"github.com/eastgenomics/configci/pkg/dx"
)

type file struct {
	name          string
	content       []byte
	state         string
	archivalState string
}

type project struct {
	id          string
	name        string
	summary     string
	description string
	created     time.Time
	invites     map[string]string
	folders     map[string]bool
	// object ID -> folder
	objects map[string]string
}

type execution struct {
	desc dx.ExecutionDescription
	// states still to report from describe, in order
	pending []string
}

// RunRecord is a call to RunApp.
type RunRecord struct {
	App     string
	Request dx.RunRequest
	JobID   string
}

// Platform is a fake DNAnexus. The zero value is not usable; use New.
type Platform struct {
	mu         sync.Mutex
	seq        int
	now        func() time.Time
	projects   map[string]*project
	files      map[string]*file
	executions map[string]*execution

	// OnRun, if set, is called when an app is run, to fill in the
	// description of the new job (e.g., its outputs). It is called
	// without the lock held, so it may call AddExecution.
	OnRun func(app string, req dx.RunRequest, desc *dx.ExecutionDescription)

	Runs       []RunRecord
	Terminated []string
	Moves      []dx.MoveRequest
	Clones     []dx.CloneRequest
	Uploads    []dx.UploadRequest
}

var _ dx.API = &Platform{}

func New() *Platform {
	return &Platform{
		now:        time.Now,
		projects:   map[string]*project{},
		files:      map[string]*file{},
		executions: map[string]*execution{},
	}
}

func (p *Platform) nextID(class string) string {
	p.seq++
	return fmt.Sprintf("%s-F%07d", class, p.seq)
}

func notFound(format string, args ...interface{}) error {
	return dx.NewAPIError("ResourceNotFound", fmt.Sprintf(format, args...))
}

// --- Setup helpers for tests

// AddProject makes a project and returns its ID.
func (p *Platform) AddProject(name string, created time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("project")
	p.projects[id] = &project{
		id:      id,
		name:    name,
		created: created,
		invites: map[string]string{},
		folders: map[string]bool{"/": true},
		objects: map[string]string{},
	}
	return id
}

// AddFile puts a closed, live file in a project folder and returns
// its ID.
func (p *Platform) AddFile(projectID, folder, name string, content []byte) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("file")
	p.files[id] = &file{name: name, content: content, state: dx.FileClosed, archivalState: dx.ArchivalLive}
	proj := p.projects[projectID]
	proj.objects[id] = folder
	p.makeFolder(proj, folder)
	return id
}

// SetArchivalState changes the archival state of a file.
func (p *Platform) SetArchivalState(fileID, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[fileID].archivalState = state
}

// AddExecution records a job or analysis. If states are given, the
// description reports each in turn on successive describes, then
// stays on the last.
func (p *Platform) AddExecution(desc dx.ExecutionDescription, states ...string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if desc.ID == "" {
		class := "job"
		if strings.HasPrefix(desc.Executable, "workflow-") {
			class = "analysis"
		}
		desc.ID = p.nextID(class)
	}
	if len(states) > 0 {
		desc.State = states[0]
		states = states[1:]
	}
	p.executions[desc.ID] = &execution{desc: desc, pending: states}
	return desc.ID
}

// --- Inspection helpers for tests

// ProjectNamed returns the ID of the project with exactly the name
// given, or "".
func (p *Platform) ProjectNamed(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, proj := range p.projects {
		if proj.name == name {
			return id
		}
	}
	return ""
}

// ProjectNames returns the names of all projects, sorted.
func (p *Platform) ProjectNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, proj := range p.projects {
		names = append(names, proj.name)
	}
	sort.Strings(names)
	return names
}

// Invites returns invitee -> level for a project.
func (p *Platform) Invites(projectID string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projects[projectID].invites
}

// HasFolder says whether a folder exists in a project.
func (p *Platform) HasFolder(projectID, folder string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projects[projectID].folders[folder]
}

// FolderOf returns the folder an object is in, in a project, or "".
func (p *Platform) FolderOf(projectID, objectID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projects[projectID].objects[objectID]
}

// Content returns the bytes of a file.
func (p *Platform) Content(fileID string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.files[fileID].content
}

// Execution returns the current description of an execution.
func (p *Platform) Execution(id string) dx.ExecutionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executions[id].desc
}

// Active returns the IDs of executions in a project which have not
// ended.
func (p *Platform) Active(projectID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, e := range p.executions {
		if e.desc.Project == projectID && !dx.Ended(e.desc.State) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// --- dx.API

func (p *Platform) FindProjects(ctx context.Context, req dx.FindProjectsRequest) ([]dx.Project, error) {
	re, err := regexp.Compile(req.NameRegexp)
	if err != nil {
		return nil, dx.NewAPIError("InvalidInput", err.Error())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []dx.Project
	for id, proj := range p.projects {
		if re.MatchString(proj.name) {
			res = append(res, dx.Project{
				ID:    id,
				Level: "ADMINISTER",
				Describe: dx.ProjectDescription{
					ID:        id,
					Name:      proj.name,
					Created:   proj.created.UnixNano() / int64(time.Millisecond),
					CreatedBy: dx.UserRef{User: "user-test"},
				},
			})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (p *Platform) NewProject(ctx context.Context, req dx.NewProjectRequest) (string, error) {
	id := p.AddProject(req.Name, p.now())
	p.mu.Lock()
	defer p.mu.Unlock()
	p.projects[id].summary = req.Summary
	p.projects[id].description = req.Description
	return id, nil
}

func (p *Platform) Invite(ctx context.Context, projectID, invitee, level string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	proj, ok := p.projects[projectID]
	if !ok {
		return notFound("project %s", projectID)
	}
	proj.invites[invitee] = level
	return nil
}

func (p *Platform) ListFolder(ctx context.Context, projectID, folder string) (dx.FolderListing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proj, ok := p.projects[projectID]
	if !ok {
		return dx.FolderListing{}, notFound("project %s", projectID)
	}
	if !proj.folders[folder] {
		return dx.FolderListing{}, notFound("folder %s in %s", folder, projectID)
	}
	var res dx.FolderListing
	for f := range proj.folders {
		if f != folder && path.Dir(f) == folder {
			res.Folders = append(res.Folders, f)
		}
	}
	sort.Strings(res.Folders)
	return res, nil
}

func (p *Platform) makeFolder(proj *project, folder string) {
	for f := folder; ; f = path.Dir(f) {
		proj.folders[f] = true
		if f == "/" || f == "." {
			return
		}
	}
}

func (p *Platform) NewFolder(ctx context.Context, projectID, folder string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	proj, ok := p.projects[projectID]
	if !ok {
		return notFound("project %s", projectID)
	}
	p.makeFolder(proj, folder)
	return nil
}

func inFolder(objFolder, folder string, recurse bool) bool {
	if folder == "" {
		return true
	}
	if objFolder == folder {
		return true
	}
	if !recurse {
		return false
	}
	return folder == "/" || strings.HasPrefix(objFolder, folder+"/")
}

func (p *Platform) FindDataObjects(ctx context.Context, req dx.FindDataObjectsRequest) ([]dx.DataObject, error) {
	var re *regexp.Regexp
	if req.NameRegexp != "" {
		var err error
		if re, err = regexp.Compile(req.NameRegexp); err != nil {
			return nil, dx.NewAPIError("InvalidInput", err.Error())
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	proj, ok := p.projects[req.Project]
	if !ok {
		return nil, notFound("project %s", req.Project)
	}
	var res []dx.DataObject
	for id, folder := range proj.objects {
		f, ok := p.files[id]
		if !ok || !inFolder(folder, req.Folder, req.Recurse) {
			continue
		}
		if re != nil && !re.MatchString(f.name) {
			continue
		}
		if req.NameGlob != "" && !glob.Glob(req.NameGlob, f.name) {
			continue
		}
		res = append(res, dx.DataObject{
			Project: req.Project,
			ID:      id,
			Describe: dx.ObjectDescription{
				ID:            id,
				Name:          f.name,
				Folder:        folder,
				State:         f.state,
				ArchivalState: f.archivalState,
				Size:          int64(len(f.content)),
			},
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (p *Platform) UploadFile(ctx context.Context, req dx.UploadRequest) (string, error) {
	p.mu.Lock()
	_, ok := p.projects[req.Project]
	p.mu.Unlock()
	if !ok {
		return "", notFound("project %s", req.Project)
	}
	id := p.AddFile(req.Project, req.Folder, req.Name, req.Content)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[id].state = dx.FileClosing
	p.Uploads = append(p.Uploads, req)
	return id, nil
}

func (p *Platform) DescribeFile(ctx context.Context, projectID, fileID string) (dx.FileDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fileID]
	if !ok {
		return dx.FileDescription{}, notFound("file %s", fileID)
	}
	desc := dx.FileDescription{
		ID:            fileID,
		Project:       projectID,
		Name:          f.name,
		State:         f.state,
		ArchivalState: f.archivalState,
		Size:          int64(len(f.content)),
	}
	if proj, ok := p.projects[projectID]; ok {
		desc.Folder = proj.objects[fileID]
	}
	// closing finishes after being looked at once
	if f.state == dx.FileClosing {
		f.state = dx.FileClosed
	}
	return desc, nil
}

func (p *Platform) ReadFile(ctx context.Context, projectID, fileID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fileID]
	if !ok {
		return nil, notFound("file %s", fileID)
	}
	return append([]byte(nil), f.content...), nil
}

func (p *Platform) Clone(ctx context.Context, req dx.CloneRequest) (dx.CloneResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.projects[req.SourceProject]
	if !ok {
		return dx.CloneResult{}, notFound("project %s", req.SourceProject)
	}
	dst, ok := p.projects[req.DestinationProject]
	if !ok {
		return dx.CloneResult{}, notFound("project %s", req.DestinationProject)
	}
	p.Clones = append(p.Clones, req)
	res := dx.CloneResult{ID: req.DestinationProject, Project: req.DestinationProject}

	place := func(id, folder string) {
		if _, exists := dst.objects[id]; exists {
			res.Exists = append(res.Exists, id)
			return
		}
		dst.objects[id] = folder
		p.makeFolder(dst, folder)
	}
	for _, folder := range req.Folders {
		if !src.folders[folder] {
			return dx.CloneResult{}, notFound("folder %s in %s", folder, req.SourceProject)
		}
		// the cloned folder lands inside the destination, keeping
		// its own name and everything below it
		base := path.Join(req.Destination, path.Base(folder))
		p.makeFolder(dst, base)
		for id, objFolder := range src.objects {
			if inFolder(objFolder, folder, true) {
				place(id, path.Join(base, strings.TrimPrefix(objFolder, folder)))
			}
		}
	}
	for _, id := range req.Objects {
		if _, ok := src.objects[id]; !ok {
			return dx.CloneResult{}, notFound("object %s in %s", id, req.SourceProject)
		}
		place(id, req.Destination)
	}
	sort.Strings(res.Exists)
	return res, nil
}

func (p *Platform) Move(ctx context.Context, req dx.MoveRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	proj, ok := p.projects[req.Project]
	if !ok {
		return notFound("project %s", req.Project)
	}
	if !proj.folders[req.Destination] {
		return notFound("folder %s in %s", req.Destination, req.Project)
	}
	for _, id := range req.Objects {
		if _, ok := proj.objects[id]; !ok {
			return notFound("object %s in %s", id, req.Project)
		}
		proj.objects[id] = req.Destination
	}
	p.Moves = append(p.Moves, req)
	return nil
}

func (p *Platform) FindExecutions(ctx context.Context, req dx.FindExecutionsRequest) ([]dx.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []dx.Execution
	for id, e := range p.executions {
		if e.desc.Project == req.Project {
			res = append(res, dx.Execution{ID: id, Describe: e.desc})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (p *Platform) FindAnalyses(ctx context.Context, req dx.FindAnalysesRequest) ([]dx.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []dx.Execution
	for id, e := range p.executions {
		if !dx.IsAnalysis(id) || e.desc.Project != req.Project {
			continue
		}
		if req.NameGlob != "" && !glob.Glob(req.NameGlob, e.desc.Name) {
			continue
		}
		res = append(res, dx.Execution{ID: id, Describe: e.desc})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (p *Platform) DescribeExecution(ctx context.Context, id string) (dx.ExecutionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executions[id]
	if !ok {
		return dx.ExecutionDescription{}, notFound("execution %s", id)
	}
	desc := e.desc
	if len(e.pending) > 0 {
		e.desc.State, e.pending = e.pending[0], e.pending[1:]
	}
	return desc, nil
}

func (p *Platform) Terminate(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executions[id]
	if !ok {
		return notFound("execution %s", id)
	}
	e.desc.State = dx.StateTerminated
	e.pending = nil
	p.Terminated = append(p.Terminated, id)
	return nil
}

func (p *Platform) RunApp(ctx context.Context, app string, req dx.RunRequest) (string, error) {
	// round trip the input, as the real thing would
	input, err := json.Marshal(req.Input)
	if err != nil {
		return "", dx.NewAPIError("InvalidInput", err.Error())
	}
	desc := dx.ExecutionDescription{
		Name:           strings.TrimPrefix(app, "app-"),
		State:          dx.StateDone,
		Project:        req.Project,
		Folder:         req.Folder,
		Executable:     app,
		ExecutableName: strings.TrimPrefix(app, "app-"),
	}
	if err := json.Unmarshal(input, &desc.Input); err != nil {
		return "", dx.NewAPIError("InvalidInput", err.Error())
	}
	if p.OnRun != nil {
		p.OnRun(app, req, &desc)
	}
	id := p.AddExecution(desc)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Runs = append(p.Runs, RunRecord{App: app, Request: req, JobID: id})
	return id, nil
}

func (p *Platform) AddTags(ctx context.Context, id string, tags []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executions[id]
	if !ok {
		return notFound("execution %s", id)
	}
	e.desc.Tags = append(e.desc.Tags, tags...)
	return nil
}
