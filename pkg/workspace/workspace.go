// Package workspace finds or makes the DNAnexus project a config is
// tested in, and the folder for one run within it.
package workspace

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/await"
	"github.com/eastgenomics/configci/pkg/dx"
	cierr "github.com/eastgenomics/configci/pkg/errors"
)

const (
	projectPrefix     = "004_"
	projectInfix      = "_GitHub_Actions_"
	developmentMarker = "_development"
	projectSuffix     = "_config_testing"

	dateFormat       = "060102"
	dateMinuteFormat = "060102_1504"
)

// Workspace is where one run happens.
type Workspace struct {
	ProjectID   string
	ProjectName string
	// Folder is the run folder, e.g., /GitHub_Actions_run-1234_240101_0930
	Folder string
	// Created is true if the project was made for this run
	Created bool
}

func (w Workspace) String() string {
	return w.ProjectID + ":" + w.Folder
}

// ProjectName is the name a new testing project gets.
func ProjectName(assay string, development bool, now time.Time) string {
	name := projectPrefix + now.Format(dateFormat) + projectInfix + assay
	if development {
		name += developmentMarker
	}
	return name + projectSuffix
}

// ProjectRegexp matches the names of testing projects for an assay,
// made on any day. Development projects are only matched in
// development mode, and only development projects are.
func ProjectRegexp(assay string, development bool) string {
	marker := ""
	if development {
		marker = regexp.QuoteMeta(developmentMarker)
	}
	return "^" + projectPrefix + `\d{6}` + projectInfix + regexp.QuoteMeta(assay) + marker + projectSuffix + "$"
}

// RunFolder is the folder one run's files and jobs go in.
func RunFolder(runID string, now time.Time) string {
	return fmt.Sprintf("/GitHub_Actions_run-%s_%s", runID, now.Format(dateMinuteFormat))
}

type Provisioner struct {
	API         dx.API
	Logger      log.Logger
	Invitees    []string
	InviteLevel string
	Now         func() time.Time
	// Closing is how to wait for an uploaded file to close
	Closing await.Backoff
}

// DefaultClosing waits up to five minutes for a file to close.
var DefaultClosing = await.Backoff{
	InitialDelay: time.Second,
	Factor:       2,
	MaxDelay:     15 * time.Second,
	Timeout:      5 * time.Minute,
}

// Request says what a workspace is for.
type Request struct {
	Assay       string
	Development bool
	RunID       string
	// ConfigName and RunURL go in the description of a new project
	ConfigName string
	RunURL     string
}

func (p *Provisioner) logger() log.Logger {
	if p.Logger == nil {
		return log.NewNopLogger()
	}
	return p.Logger
}

func (p *Provisioner) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now()
}

// Provision finds or creates the testing project for the assay, then
// makes sure the run folder exists in it.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Workspace, error) {
	if req.Assay == "" {
		return Workspace{}, errors.New("no assay given for workspace")
	}
	ws, err := p.EnsureProject(ctx, req)
	if err != nil {
		return Workspace{}, err
	}
	ws.Folder = RunFolder(req.RunID, p.now())
	if err := p.EnsureFolder(ctx, ws.ProjectID, ws.Folder); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// EnsureProject finds the testing project for the assay, or creates
// it if there is none.
func (p *Provisioner) EnsureProject(ctx context.Context, req Request) (Workspace, error) {
	projects, err := p.API.FindProjects(ctx, dx.FindProjectsRequest{
		NameRegexp: ProjectRegexp(req.Assay, req.Development),
	})
	if err != nil {
		return Workspace{}, errors.Wrap(err, "searching for testing project")
	}

	switch len(projects) {
	case 0:
		// make one, below
	case 1:
		p.logger().Log("project", projects[0].ID, "name", projects[0].Describe.Name, "found", true)
		return Workspace{ProjectID: projects[0].ID, ProjectName: projects[0].Describe.Name}, nil
	default:
		var found []string
		for _, proj := range projects {
			found = append(found, proj.ID+" ("+proj.Describe.Name+")")
		}
		return Workspace{}, &cierr.Error{
			Type: cierr.User,
			Err:  fmt.Errorf("%d testing projects found for assay %s: %s", len(projects), req.Assay, strings.Join(found, ", ")),
			Help: fmt.Sprintf(`There is more than one testing project for assay %s:

    %s

There should be at most one, so that test runs for the assay don't
trample on each other's data. Rename or archive all but one.
`, req.Assay, strings.Join(found, "\n    ")),
		}
	}

	name := ProjectName(req.Assay, req.Development, p.now())
	description := "Project for testing changes to " + req.Assay + " configs"
	if req.RunURL != "" {
		description += ", created by " + req.RunURL
	}
	id, err := p.API.NewProject(ctx, dx.NewProjectRequest{
		Name:        name,
		Summary:     "Config testing for " + req.Assay + " (" + req.ConfigName + ")",
		Description: description,
	})
	if err != nil {
		return Workspace{}, errors.Wrapf(err, "creating testing project %s", name)
	}
	p.logger().Log("project", id, "name", name, "created", true)

	for _, invitee := range p.Invitees {
		if err := p.API.Invite(ctx, id, invitee, p.InviteLevel); err != nil {
			return Workspace{}, errors.Wrapf(err, "inviting %s to %s", invitee, id)
		}
		p.logger().Log("project", id, "invited", invitee, "level", p.InviteLevel)
	}
	return Workspace{ProjectID: id, ProjectName: name, Created: true}, nil
}

// EnsureFolder makes a folder (and its parents) unless it's already
// there.
func (p *Provisioner) EnsureFolder(ctx context.Context, projectID, folder string) error {
	_, err := p.API.ListFolder(ctx, projectID, folder)
	switch {
	case err == nil:
		return nil
	case !cierr.IsMissing(err):
		return errors.Wrapf(err, "looking for folder %s in %s", folder, projectID)
	}
	if err := p.API.NewFolder(ctx, projectID, folder); err != nil {
		return errors.Wrapf(err, "creating folder %s in %s", folder, projectID)
	}
	p.logger().Log("project", projectID, "folder", folder, "created", true)
	return nil
}

// Upload puts a file in the run folder, and waits for it to be closed
// so that it can be used as a job input.
func (p *Provisioner) Upload(ctx context.Context, ws Workspace, name string, content []byte) (string, error) {
	id, err := p.API.UploadFile(ctx, dx.UploadRequest{
		Project: ws.ProjectID,
		Folder:  ws.Folder,
		Name:    path.Base(name),
		Content: content,
	})
	if err != nil {
		return "", errors.Wrapf(err, "uploading %s", name)
	}

	var state string
	err = p.Closing.Poll(ctx, func() (bool, error) {
		desc, err := p.API.DescribeFile(ctx, ws.ProjectID, id)
		if err != nil {
			return false, err
		}
		state = desc.State
		return state == dx.FileClosed, nil
	})
	if err == await.ErrTimeout {
		return "", fmt.Errorf("uploaded file %s is still %s", id, state)
	}
	if err != nil {
		return "", errors.Wrapf(err, "waiting for %s to close", id)
	}
	p.logger().Log("uploaded", name, "file", id, "folder", ws.Folder)
	return id, nil
}
