package jobs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/eastgenomics/configci/pkg/await"
	"github.com/eastgenomics/configci/pkg/dx"
	cierr "github.com/eastgenomics/configci/pkg/errors"
)

// DefaultPoll is how the gate polls, give or take the timeout.
func DefaultPoll(timeout time.Duration) await.Backoff {
	return await.Backoff{
		InitialDelay: 10 * time.Second,
		Factor:       2,
		MaxDelay:     5 * time.Minute,
		Timeout:      timeout,
	}
}

// Gate holds a run until the test job, and everything it launched,
// has finished.
type Gate struct {
	API    dx.API
	Logger log.Logger
	Poll   await.Backoff
	// Progress, if not nil, gets a progress bar for the launched jobs
	Progress io.Writer
}

// Failure is an execution that didn't finish successfully.
type Failure struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func (f Failure) String() string {
	s := fmt.Sprintf("%s (%s) %s", f.ID, f.Name, f.State)
	if f.Reason != "" {
		s += ": " + f.Reason
	}
	return s
}

func failureOf(desc dx.ExecutionDescription) Failure {
	reason := desc.FailureReason
	if desc.FailureMessage != "" {
		if reason != "" {
			reason += ": "
		}
		reason += desc.FailureMessage
	}
	return Failure{ID: desc.ID, Name: desc.Name, State: desc.State, Reason: reason}
}

// Outcome is how the test job went.
type Outcome struct {
	// Batch is the test job, as it finished
	Batch    dx.ExecutionDescription
	Launched []string
	Failed   []Failure
}

func (o Outcome) Passed() bool {
	return len(o.Failed) == 0
}

// Err is nil if everything passed; otherwise it lists what failed.
func (o Outcome) Err() error {
	if o.Passed() {
		return nil
	}
	var lines []string
	for _, f := range o.Failed {
		lines = append(lines, f.String())
	}
	return &cierr.Error{
		Type: cierr.User,
		Err:  fmt.Errorf("%d of the test jobs failed", len(o.Failed)),
		Help: fmt.Sprintf(`These jobs or analyses run with the updated config did not complete
successfully:

  %s

Look at their logs in DNAnexus to see whether the config needs changing.
`, strings.Join(lines, "\n  ")),
	}
}

func (g *Gate) logger() log.Logger {
	if g.Logger == nil {
		return log.NewNopLogger()
	}
	return g.Logger
}

// Wait blocks until the batch job has finished, then until all it
// launched have finished. An error means waiting failed; whether the
// jobs failed is in the Outcome.
func (g *Gate) Wait(ctx context.Context, jobID string) (Outcome, error) {
	var out Outcome
	g.logger().Log("waiting", jobID)
	// both phases count against the one timeout
	poll := g.Poll.WithDeadline()
	err := poll.Poll(ctx, func() (bool, error) {
		desc, err := g.API.DescribeExecution(ctx, jobID)
		if err != nil {
			return false, err
		}
		out.Batch = desc
		return dx.Terminal(desc.State), nil
	})
	if err != nil {
		return out, errors.Wrapf(err, "waiting for %s", jobID)
	}
	if out.Batch.State != dx.StateDone {
		out.Failed = []Failure{failureOf(out.Batch)}
		return out, nil
	}

	out.Launched = LaunchedJobs(out.Batch)
	if len(out.Launched) == 0 {
		return out, nil
	}
	g.logger().Log("waiting", len(out.Launched), "launched_by", jobID)

	var bar *pb.ProgressBar
	if g.Progress != nil {
		bar = pb.New(len(out.Launched))
		bar.SetWriter(g.Progress)
		bar.SetTemplateString(`Test jobs finished {{counters . }} {{bar . }} {{percent . }} {{etime . "%s"}}`)
		bar.Start()
		defer bar.Finish()
	}

	finished := map[string]dx.ExecutionDescription{}
	err = poll.Poll(ctx, func() (bool, error) {
		for _, id := range out.Launched {
			if _, ok := finished[id]; ok {
				continue
			}
			desc, err := g.API.DescribeExecution(ctx, id)
			if err != nil {
				return false, err
			}
			if dx.Terminal(desc.State) {
				finished[id] = desc
				g.logger().Log("finished", id, "name", desc.Name, "state", desc.State)
				if bar != nil {
					bar.Increment()
				}
			}
		}
		return len(finished) == len(out.Launched), nil
	})
	if err != nil {
		return out, errors.Wrapf(err, "waiting for jobs launched by %s", jobID)
	}
	for _, id := range out.Launched {
		if desc := finished[id]; desc.State != dx.StateDone {
			out.Failed = append(out.Failed, failureOf(desc))
		}
	}
	return out, nil
}
