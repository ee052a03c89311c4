// Package stage copies the data a production job ran on into the run
// folder of the testing project, so the test job can use it.
package stage

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/eastgenomics/configci/pkg/dx"
	cierr "github.com/eastgenomics/configci/pkg/errors"
)

const (
	DefaultParallelism = 8

	// SingleOutputDirInput is the input of the batch job giving the
	// folder of single sample workflow output it ran on.
	SingleOutputDirInput = "single_output_dir"

	qcStatusRegexp = `(?i)qc_status\.xlsx$`
)

type Stager struct {
	API    dx.API
	Logger log.Logger
	// Parallelism is how many moves to have going at once
	Parallelism int
}

// Result says what was staged.
type Result struct {
	// SourceProject and SourceFolder are where the data came from
	SourceProject string
	SourceFolder  string
	// Moved lists objects which were already in the testing project,
	// and so were moved into the run folder rather than cloned
	Moved []string
	// QCStatus is the QC status file now in the run folder
	QCStatus string
	// QCStatusCloned is true if the QC status file came from the
	// source project
	QCStatusCloned bool
}

func (s *Stager) logger() log.Logger {
	if s.Logger == nil {
		return log.NewNopLogger()
	}
	return s.Logger
}

// ClonedFolder is the folder cloned for a single output dir: its
// parent, so that the single output dir keeps its place in the tree.
func ClonedFolder(singleOutputDir string) string {
	parent := path.Dir(path.Clean(singleOutputDir))
	if parent == "/" || parent == "." {
		return path.Clean(singleOutputDir)
	}
	return parent
}

// Stage clones the template job's input folder into the run folder of
// the testing project, so that a file at /output/a/b in the source
// project ends up at <run folder>/output/a/b.
func (s *Stager) Stage(ctx context.Context, template dx.ExecutionDescription, testProject, runFolder string) (Result, error) {
	singleDir := template.StringInput(SingleOutputDirInput)
	if singleDir == "" {
		return Result{}, cierr.Userf("production job %s has no %s input", template.ID, SingleOutputDirInput)
	}
	res := Result{SourceProject: template.Project, SourceFolder: ClonedFolder(singleDir)}

	cloned, err := s.API.Clone(ctx, dx.CloneRequest{
		SourceProject:      res.SourceProject,
		Folders:            []string{res.SourceFolder},
		DestinationProject: testProject,
		Destination:        path.Join(runFolder, path.Dir(res.SourceFolder)),
	})
	if err != nil {
		return Result{}, errors.Wrapf(err, "cloning %s:%s into %s:%s", res.SourceProject, res.SourceFolder, testProject, runFolder)
	}
	s.logger().Log("cloned", res.SourceProject+":"+res.SourceFolder, "to", testProject+":"+runFolder, "existing", len(cloned.Exists))

	if len(cloned.Exists) > 0 {
		if res.Moved, err = s.moveExisting(ctx, res, cloned.Exists, testProject, runFolder); err != nil {
			return Result{}, err
		}
	}

	if res.QCStatus, res.QCStatusCloned, err = s.stageQCStatus(ctx, res.SourceProject, testProject, runFolder); err != nil {
		return Result{}, err
	}
	return res, nil
}

// moveExisting moves objects the clone found already in the testing
// project (from an earlier run) to where the clone would have put
// them.
func (s *Stager) moveExisting(ctx context.Context, res Result, existing []string, testProject, runFolder string) ([]string, error) {
	objects, err := s.API.FindDataObjects(ctx, dx.FindDataObjectsRequest{
		Project: res.SourceProject,
		Folder:  res.SourceFolder,
		Recurse: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s:%s", res.SourceProject, res.SourceFolder)
	}
	exists := map[string]bool{}
	for _, id := range existing {
		exists[id] = true
	}

	destinations := map[string][]string{}
	for _, obj := range objects {
		if exists[obj.ID] {
			dest := path.Join(runFolder, obj.Describe.Folder)
			destinations[dest] = append(destinations[dest], obj.ID)
		}
	}
	var folders []string
	for dest := range destinations {
		folders = append(folders, dest)
	}
	sort.Strings(folders)
	for _, dest := range folders {
		if err := s.API.NewFolder(ctx, testProject, dest); err != nil {
			return nil, errors.Wrapf(err, "creating %s in %s", dest, testProject)
		}
	}

	limit := s.Parallelism
	if limit < 1 {
		limit = DefaultParallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var moved []string
	for _, dest := range folders {
		for _, id := range destinations[dest] {
			id, dest := id, dest
			moved = append(moved, id)
			g.Go(func() error {
				if err := s.API.Move(gctx, dx.MoveRequest{Project: testProject, Objects: []string{id}, Destination: dest}); err != nil {
					return errors.Wrapf(err, "moving %s to %s", id, dest)
				}
				s.logger().Log("moved", id, "to", dest)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *Stager) findQCStatus(ctx context.Context, project string) (string, error) {
	found, err := s.API.FindDataObjects(ctx, dx.FindDataObjectsRequest{
		Project:    project,
		NameRegexp: qcStatusRegexp,
	})
	if err != nil {
		return "", errors.Wrapf(err, "looking for QC status file in %s", project)
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0].ID, nil
	}
	var names []string
	for _, f := range found {
		names = append(names, f.Describe.Folder+"/"+f.Describe.Name+" ("+f.ID+")")
	}
	return "", cierr.Userf("%d QC status files found in %s: %v", len(found), project, names)
}

// stageQCStatus puts the QC status file in the run folder. It is
// uploaded by hand to the root of the source project, so isn't part of
// what's cloned; but it may be in the testing project from an earlier
// run.
func (s *Stager) stageQCStatus(ctx context.Context, sourceProject, testProject, runFolder string) (string, bool, error) {
	id, err := s.findQCStatus(ctx, testProject)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		if err := s.API.Move(ctx, dx.MoveRequest{Project: testProject, Objects: []string{id}, Destination: runFolder}); err != nil {
			return "", false, errors.Wrapf(err, "moving QC status file %s", id)
		}
		s.logger().Log("qc_status", id, "moved", runFolder)
		return id, false, nil
	}

	if id, err = s.findQCStatus(ctx, sourceProject); err != nil {
		return "", false, err
	}
	if id == "" {
		return "", false, &cierr.Error{
			Type: cierr.Missing,
			Err:  fmt.Errorf("no QC status file found in %s", sourceProject),
			Help: fmt.Sprintf(`There is no QC status file (*qc_status.xlsx) in the production
project %s, or in the testing project.

The test job needs it to make reports. Upload it to the production
project, or pick a production job whose project has one.
`, sourceProject),
		}
	}
	if _, err := s.API.Clone(ctx, dx.CloneRequest{
		SourceProject:      sourceProject,
		Objects:            []string{id},
		DestinationProject: testProject,
		Destination:        runFolder,
	}); err != nil {
		return "", false, errors.Wrapf(err, "cloning QC status file %s", id)
	}
	s.logger().Log("qc_status", id, "cloned", runFolder)
	return id, true, nil
}
