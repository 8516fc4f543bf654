package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// Default hand service and characteristic used by the fake peripheral.
const (
	HandServiceUUID = "b2bbc642-46da-11ed-b878-0242ac120002"
	HandCharUUID    = "c9af9c76-46de-11ed-b878-0242ac120002"
	HandDeviceName  = "nimble-ble"
)

// FakeRadioSuite provides a reusable test suite with a fake BLE radio.
//
// Basic usage (the hand peripheral advertised between two strangers):
//
//	type SessionSuite struct {
//	    testutils.FakeRadioSuite
//	}
//
//	func TestSessionSuite(t *testing.T) {
//	    suite.Run(t, new(SessionSuite))
//	}
//
// Custom radio usage:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithRadio().WithState(device.StatePoweredOff)
//	    s.FakeRadioSuite.SetupTest() // Call parent last to apply configuration
//	}
type FakeRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	TestTimeout time.Duration

	RadioBuilder *RadioBuilder
	Radio        *FakeRadio
}

// SetupSuite initializes the helper and logger once for all tests in the suite.
func (s *FakeRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest builds the radio before each test.
func (s *FakeRadioSuite) SetupTest() {
	if s.RadioBuilder == nil {
		s.RadioBuilder = createDefaultRadioBuilder()
	}
	s.Radio = s.RadioBuilder.Build()
}

// TearDownTest resets the builder after each test.
func (s *FakeRadioSuite) TearDownTest() {
	s.RadioBuilder = nil
	s.Radio = nil
}

// WithRadio returns the radio builder for fluent configuration.
// The builder starts from the default hand setup.
func (s *FakeRadioSuite) WithRadio() *RadioBuilder {
	if s.RadioBuilder == nil {
		s.RadioBuilder = createDefaultRadioBuilder()
	}
	return s.RadioBuilder
}

// createDefaultRadioBuilder advertises otherA, nimble-ble, otherB and exposes
// the hand service on the peripheral.
func createDefaultRadioBuilder() *RadioBuilder {
	return NewRadioBuilder().
		WithAdvertisements(Advertisements("otherA", HandDeviceName, "otherB")...).
		FromJSON(HandProfileJSON, HandServiceUUID, HandCharUUID)
}
