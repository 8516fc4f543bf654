package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/devicefactory"
	"github.com/srg/handlink/internal/testutils"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers and readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs the CLI against the fake radio.
// All cmd/handlink suites embed it.
type CommandTestSuite struct {
	testutils.FakeRadioSuite

	origRadioFactory  func(devicefactory.Backend, *logrus.Logger) (device.Radio, error)
	origProberFactory func(string, *logrus.Logger) device.StateProber
}

func (s *CommandTestSuite) SetupTest() {
	s.FakeRadioSuite.SetupTest()

	s.origRadioFactory = devicefactory.RadioFactory
	s.origProberFactory = devicefactory.ProberFactory
	devicefactory.RadioFactory = func(devicefactory.Backend, *logrus.Logger) (device.Radio, error) {
		return s.Radio, nil
	}
	devicefactory.ProberFactory = func(string, *logrus.Logger) device.StateProber { return nil }
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.RadioFactory = s.origRadioFactory
	devicefactory.ProberFactory = s.origProberFactory
	s.FakeRadioSuite.TearDownTest()
}

// Execute runs the root command with args and returns stdout and stderr.
func (s *CommandTestSuite) Execute(in io.Reader, args ...string) (string, string, error) {
	if in == nil {
		in = strings.NewReader("")
	}
	root := newRootCmd()
	var out, errOut lockedBuffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(in)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// HandChar returns the hand characteristic of the last connected peripheral.
func (s *CommandTestSuite) HandChar() *testutils.FakeCharacteristic {
	p := s.Radio.LastPeripheral()
	s.Require().NotNil(p, "a peripheral MUST have been connected")
	return p.Char(testutils.HandServiceUUID, testutils.HandCharUUID)
}
