package dx

import (
	"encoding/json"
	"strings"
)

// Execution states, as reported by job and analysis describe calls.
const (
	StateIdle            = "idle"
	StateRunnable        = "runnable"
	StateRunning         = "running"
	StateWaiting         = "waiting_on_input"
	StateDone            = "done"
	StateFailed          = "failed"
	StateTerminating     = "terminating"
	StateTerminated      = "terminated"
	StatePartiallyFailed = "partially_failed"
)

// File states and archival states.
const (
	FileOpen    = "open"
	FileClosing = "closing"
	FileClosed  = "closed"

	ArchivalLive = "live"
)

// Terminal reports whether an execution in the given state will not
// change state again (or, for `terminating`, is already on its way out).
func Terminal(state string) bool {
	switch state {
	case StateDone, StateFailed, StateTerminating, StateTerminated, StatePartiallyFailed:
		return true
	}
	return false
}

// Ended reports whether an execution has stopped for good. Unlike
// Terminal, an execution that is still terminating, or an analysis
// with some stages failed and others still going, has not ended.
func Ended(state string) bool {
	switch state {
	case StateDone, StateFailed, StateTerminated:
		return true
	}
	return false
}

// Link is the DNAnexus reference to another object, as used in job
// inputs and outputs.
type Link struct {
	ID string `json:"$dnanexus_link"`
}

// IsJob tells job IDs apart from analysis IDs.
func IsJob(id string) bool {
	return strings.HasPrefix(id, "job-")
}

// IsAnalysis tells analysis IDs apart from job IDs.
func IsAnalysis(id string) bool {
	return strings.HasPrefix(id, "analysis-")
}

type UserRef struct {
	User string `json:"user"`
}

type ProjectDescription struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Created   int64   `json:"created"`
	CreatedBy UserRef `json:"createdBy"`
}

// Project is a result from findProjects.
type Project struct {
	ID       string             `json:"id"`
	Level    string             `json:"level,omitempty"`
	Describe ProjectDescription `json:"describe"`
}

type FindProjectsRequest struct {
	// NameRegexp is matched against the whole project name
	NameRegexp string
}

type NewProjectRequest struct {
	Name        string `json:"name"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
}

type FolderListing struct {
	Folders []string `json:"folders"`
}

type ObjectDescription struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Folder        string `json:"folder"`
	State         string `json:"state,omitempty"`
	ArchivalState string `json:"archivalState,omitempty"`
	Size          int64  `json:"size,omitempty"`
}

// DataObject is a result from findDataObjects.
type DataObject struct {
	Project  string            `json:"project"`
	ID       string            `json:"id"`
	Describe ObjectDescription `json:"describe"`
}

// QualifiedID is the project:object form of an object reference.
func (o DataObject) QualifiedID() string {
	return o.Project + ":" + o.ID
}

type FindDataObjectsRequest struct {
	Project string
	Folder  string
	// Recurse into subfolders of Folder
	Recurse bool
	// At most one of NameRegexp and NameGlob
	NameRegexp string
	NameGlob   string
}

type FileDescription struct {
	ID            string `json:"id"`
	Project       string `json:"project"`
	Name          string `json:"name"`
	Folder        string `json:"folder"`
	State         string `json:"state"`
	ArchivalState string `json:"archivalState"`
	Size          int64  `json:"size"`
}

type UploadRequest struct {
	Project string
	Folder  string
	Name    string
	Content []byte
}

type CloneRequest struct {
	SourceProject      string
	Folders            []string
	Objects            []string
	DestinationProject string
	Destination        string
}

type CloneResult struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	// Exists lists objects which were already in the destination
	// project, and so were not cloned
	Exists []string `json:"exists"`
}

type MoveRequest struct {
	Project     string
	Objects     []string
	Destination string
}

// Execution is a result from findExecutions or findAnalyses.
type Execution struct {
	ID       string               `json:"id"`
	Describe ExecutionDescription `json:"describe"`
}

type FindExecutionsRequest struct {
	Project string
}

type FindAnalysesRequest struct {
	Project  string
	NameGlob string
}

type ExecutionDescription struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	State          string                     `json:"state"`
	Project        string                     `json:"project"`
	Folder         string                     `json:"folder,omitempty"`
	Executable     string                     `json:"executable,omitempty"`
	ExecutableName string                     `json:"executableName"`
	Input          map[string]json.RawMessage `json:"input,omitempty"`
	Output         map[string]json.RawMessage `json:"output,omitempty"`
	Tags           []string                   `json:"tags,omitempty"`
	FailureReason  string                     `json:"failureReason,omitempty"`
	FailureMessage string                     `json:"failureMessage,omitempty"`
}

// StringInput returns a string-valued input field, or "".
func (d ExecutionDescription) StringInput(name string) string {
	return rawString(d.Input[name])
}

// StringOutput returns a string-valued output field, or "".
func (d ExecutionDescription) StringOutput(name string) string {
	return rawString(d.Output[name])
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

type RunRequest struct {
	Project string                 `json:"project"`
	Folder  string                 `json:"folder"`
	Input   map[string]interface{} `json:"input"`
}
