package logger_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	check "gopkg.in/check.v1"

	"github.com/rajin-khan/cash/internal/logger"
)

func Test(t *testing.T) { check.TestingT(t) }

type logSuite struct {
	buf *bytes.Buffer
}

var _ = check.Suite(&logSuite{})

func (s *logSuite) SetUpTest(c *check.C) {
	s.buf = &bytes.Buffer{}
}

func (s *logSuite) TearDownTest(c *check.C) {
	logger.SetLogger(logger.NullLogger)
}

func (s *logSuite) TestDebugfSuppressedWithoutDebug(c *check.C) {
	logger.SetLogger(logger.NewStandardLogger(s.buf, false))
	logger.Debugf("xyzzy")
	c.Check(s.buf.String(), check.Equals, "")
}

func (s *logSuite) TestDebugfPrintsWhenEnabled(c *check.C) {
	logger.SetLogger(logger.NewStandardLogger(s.buf, true))
	logger.Debugf("xyzzy")
	c.Check(s.buf.String(), check.Matches, `ca\$h: DEBUG: xyzzy\n`)
}

func (s *logSuite) TestNoticefAlwaysPrints(c *check.C) {
	logger.SetLogger(logger.NewStandardLogger(s.buf, false))
	logger.Noticef("xyzzy")
	c.Check(s.buf.String(), check.Matches, `ca\$h: xyzzy\n`)
}

func (s *logSuite) TestPanicfNoticesThenPanics(c *check.C) {
	logger.SetLogger(logger.NewStandardLogger(s.buf, false))
	c.Check(func() { logger.Panicf("xyzzy") }, check.Panics, "xyzzy")
	c.Check(s.buf.String(), check.Matches, `ca\$h: PANIC xyzzy\n`)
}

func (s *logSuite) TestDefaultHonorsCashDebugEnv(c *check.C) {
	os.Setenv("CASH_DEBUG", "1")
	defer os.Unsetenv("CASH_DEBUG")

	r, w, err := os.Pipe()
	c.Assert(err, check.IsNil)
	saved := os.Stderr
	os.Stderr = w
	l := logger.Default()
	os.Stderr = saved
	c.Assert(l, check.NotNil)

	l.Debugf("xyzzy")
	w.Close()
	out, err := io.ReadAll(r)
	c.Assert(err, check.IsNil)
	c.Check(string(out), check.Equals, "ca$h: DEBUG: xyzzy\n")
}

func (s *logSuite) TestNullLoggerDiscardsEverything(c *check.C) {
	logger.SetLogger(logger.NullLogger)
	logger.Noticef("xyzzy")
	logger.Debugf("xyzzy")
	c.Check(s.buf.String(), check.Equals, "")
}
