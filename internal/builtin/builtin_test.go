package builtin_test

import (
	"bytes"
	"testing"

	check "gopkg.in/check.v1"

	"github.com/rajin-khan/cash/internal/builtin"
	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/parser"
)

func Test(t *testing.T) { check.TestingT(t) }

type builtinSuite struct{}

var _ = check.Suite(&builtinSuite{})

func newContext(table *jobs.Table) (*builtin.Context, *bytes.Buffer) {
	var out bytes.Buffer
	ctx := &builtin.Context{
		Stdout: &out,
		Stderr: &out,
		Table:  table,
		ForegroundWait: func(pgid int, sendSigcont bool) error {
			return nil
		},
		SendSigcont: func(pgid int) error { return nil },
		Exit:        func(code int) {},
	}
	return ctx, &out
}

func (s *builtinSuite) TestIsBuiltinRecognizesOnlyKnownNames(c *check.C) {
	c.Check(builtin.IsBuiltin("cd"), check.Equals, true)
	c.Check(builtin.IsBuiltin("jobs"), check.Equals, true)
	c.Check(builtin.IsBuiltin("ls"), check.Equals, false)
}

func (s *builtinSuite) TestDispatchNonBuiltinIsNotHandled(c *check.C) {
	ctx, _ := newContext(jobs.NewTable(4))
	handled, err := builtin.Dispatch(ctx, &parser.Command{Args: []string{"ls"}})
	c.Assert(err, check.IsNil)
	c.Check(handled, check.Equals, false)
}

func (s *builtinSuite) TestDispatchExitCallsExitCallback(c *check.C) {
	ctx, _ := newContext(jobs.NewTable(4))
	var exitCode = -1
	ctx.Exit = func(code int) { exitCode = code }

	handled, err := builtin.Dispatch(ctx, &parser.Command{Args: []string{"exit"}})
	c.Assert(err, check.IsNil)
	c.Check(handled, check.Equals, true)
	c.Check(exitCode, check.Equals, 0)
}

func (s *builtinSuite) TestDoJobsListsNonDoneJobs(c *check.C) {
	table := jobs.NewTable(4)
	_, err := table.Add(100, "sleep 10 &", jobs.Running)
	c.Assert(err, check.IsNil)

	ctx, out := newContext(table)
	handled, err := builtin.Dispatch(ctx, &parser.Command{Args: []string{"jobs"}})
	c.Assert(err, check.IsNil)
	c.Check(handled, check.Equals, true)
	c.Check(out.String(), check.Matches, `(?s).*\[1\] 100 \(Running\)\tsleep 10 &\n.*`)
}

func (s *builtinSuite) TestFgUnknownJobReturnsError(c *check.C) {
	ctx, _ := newContext(jobs.NewTable(4))
	_, err := builtin.Dispatch(ctx, &parser.Command{Args: []string{"fg", "%1"}})
	c.Assert(err, check.NotNil)
}

func (s *builtinSuite) TestBgResumesStoppedJob(c *check.C) {
	table := jobs.NewTable(4)
	jid, err := table.Add(100, "sleep 10", jobs.Stopped)
	c.Assert(err, check.IsNil)

	var sentSigcontTo int
	ctx, out := newContext(table)
	ctx.SendSigcont = func(pgid int) error {
		sentSigcontTo = pgid
		return nil
	}

	handled, err := builtin.Dispatch(ctx, &parser.Command{Args: []string{"bg", "%1"}})
	c.Assert(err, check.IsNil)
	c.Check(handled, check.Equals, true)
	c.Check(sentSigcontTo, check.Equals, 100)

	job, found := table.FindByJID(jid)
	c.Assert(found, check.Equals, true)
	c.Check(job.State, check.Equals, jobs.Running)
	c.Check(out.String(), check.Matches, `(?s).*\[1\] sleep 10 &\n.*`)
}

func (s *builtinSuite) TestCdChangesDirectory(c *check.C) {
	ctx, _ := newContext(jobs.NewTable(4))
	dir := c.MkDir()
	handled, err := builtin.Dispatch(ctx, &parser.Command{Args: []string{"cd", dir}})
	c.Assert(err, check.IsNil)
	c.Check(handled, check.Equals, true)
}
