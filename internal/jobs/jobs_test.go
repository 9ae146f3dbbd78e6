package jobs_test

import (
	"bytes"
	"testing"

	check "gopkg.in/check.v1"

	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/shellerr"
)

func Test(t *testing.T) { check.TestingT(t) }

type jobsSuite struct{}

var _ = check.Suite(&jobsSuite{})

func (s *jobsSuite) TestAddAssignsIncreasingJIDs(c *check.C) {
	table := jobs.NewTable(2)
	jid1, err := table.Add(100, "sleep 10 &", jobs.Running)
	c.Assert(err, check.IsNil)
	jid2, err := table.Add(200, "sleep 20 &", jobs.Running)
	c.Assert(err, check.IsNil)
	c.Check(jid2, check.Equals, jid1+1)
}

func (s *jobsSuite) TestAddFailsWhenFull(c *check.C) {
	table := jobs.NewTable(1)
	_, err := table.Add(100, "sleep 10 &", jobs.Running)
	c.Assert(err, check.IsNil)
	_, err = table.Add(200, "sleep 20 &", jobs.Running)
	c.Assert(shellerr.Is(err, shellerr.JobsFull), check.Equals, true)
}

func (s *jobsSuite) TestDoneSlotsDoNotCountTowardCapacity(c *check.C) {
	table := jobs.NewTable(1)
	_, err := table.Add(100, "sleep 10 &", jobs.Running)
	c.Assert(err, check.IsNil)
	table.MarkExited(100)
	var buf bytes.Buffer
	jobs.DrainNotifications(table, &buf)

	_, err = table.Add(200, "sleep 20 &", jobs.Running)
	c.Assert(err, check.IsNil)
}

func (s *jobsSuite) TestMarkExitedThenDrainRemoves(c *check.C) {
	table := jobs.NewTable(4)
	jid, err := table.Add(100, "sleep 10", jobs.Running)
	c.Assert(err, check.IsNil)
	table.MarkExited(100)

	var buf bytes.Buffer
	jobs.DrainNotifications(table, &buf)
	c.Check(buf.String(), check.Equals, "[1] Done\tsleep 10\n")

	_, found := table.FindByJID(jid)
	c.Check(found, check.Equals, false)
}

func (s *jobsSuite) TestMarkStoppedThenDrainKeepsEntry(c *check.C) {
	table := jobs.NewTable(4)
	_, err := table.Add(100, "sleep 10", jobs.Running)
	c.Assert(err, check.IsNil)
	table.MarkStopped(100)

	var buf bytes.Buffer
	jobs.DrainNotifications(table, &buf)
	c.Check(buf.String(), check.Equals, "[1] Stopped\tsleep 10\n")

	job, found := table.FindByPGID(100)
	c.Assert(found, check.Equals, true)
	c.Check(job.State, check.Equals, jobs.Stopped)
	c.Check(job.Notified, check.Equals, true)
}

func (s *jobsSuite) TestMarkExitedIgnoresUnknownPGID(c *check.C) {
	table := jobs.NewTable(4)
	table.MarkExited(9999) // must not panic
	c.Check(table.Snapshot(), check.HasLen, 0)
}

func (s *jobsSuite) TestParseJobSpec(c *check.C) {
	jid, err := jobs.ParseJobSpec("%3")
	c.Assert(err, check.IsNil)
	c.Check(jid, check.Equals, 3)

	_, err = jobs.ParseJobSpec("3")
	c.Assert(shellerr.Is(err, shellerr.InvalidJobSpec), check.Equals, true)

	_, err = jobs.ParseJobSpec("%abc")
	c.Assert(shellerr.Is(err, shellerr.InvalidJobSpec), check.Equals, true)
}

func (s *jobsSuite) TestSnapshotIsJIDOrdered(c *check.C) {
	table := jobs.NewTable(4)
	_, _ = table.Add(100, "a", jobs.Running)
	_, _ = table.Add(200, "b", jobs.Running)
	_, _ = table.Add(300, "c", jobs.Running)

	snap := table.Snapshot()
	c.Assert(snap, check.HasLen, 3)
	for i := 1; i < len(snap); i++ {
		c.Check(snap[i-1].JID < snap[i].JID, check.Equals, true)
	}
}
