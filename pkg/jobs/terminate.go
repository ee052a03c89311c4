package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/eastgenomics/configci/pkg/dx"
)

const DefaultTerminateParallelism = 32

// Terminator stops whatever is still running in the testing project
// from earlier runs, so that there's only ever one test going at a
// time.
type Terminator struct {
	API         dx.API
	Logger      log.Logger
	Parallelism int
}

// TerminateStale terminates every execution in the project that hasn't
// ended, returning those it terminated. Failing to
// terminate any of them is an error.
func (t *Terminator) TerminateStale(ctx context.Context, projectID string) ([]string, error) {
	logger := t.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	executions, err := t.API.FindExecutions(ctx, dx.FindExecutionsRequest{Project: projectID})
	if err != nil {
		return nil, errors.Wrapf(err, "finding executions in %s", projectID)
	}

	var stale []string
	for _, e := range executions {
		if !dx.Ended(e.Describe.State) {
			logger.Log("terminating", e.ID, "name", e.Describe.Name, "state", e.Describe.State)
			stale = append(stale, e.ID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(stale)))

	limit := t.Parallelism
	if limit < 1 {
		limit = DefaultTerminateParallelism
	}
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []string
	)
	g.SetLimit(limit)
	for _, id := range stale {
		id := id
		g.Go(func() error {
			if err := t.API.Terminate(ctx, id); err != nil {
				logger.Log("terminating", id, "err", err)
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if len(failures) > 0 {
		sort.Strings(failures)
		return nil, fmt.Errorf("could not terminate %d of %d running executions in %s:\n%s",
			len(failures), len(stale), projectID, strings.Join(failures, "\n"))
	}
	logger.Log("terminated", len(stale))
	return stale, nil
}
