//
// Copyright (c) 2024, 2026 jamakase and contributors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 as shown at
//  https://www.apache.org/licenses/LICENSE-2.0
//
package logger

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/suite"
)

// LoggerTestSuite contains tests for the logger.
type LoggerTestSuite struct {
	suite.Suite
}

// TestNewLogger tests the New() function that used to create a logger.
func (suite *LoggerTestSuite) TestNewLogger() {
	var out bytes.Buffer

	tests := []struct {
		out          io.Writer
		level        LogLevel
		useLocalTime bool
		expectNil    bool // Whether to expect the New() function to return nil.
	}{
		{nil, Fine, true, true},
		{&out, Off, true, true},
		{&out, Fine - 1, true, true},
		{&out, Error + 1, true, true},
		{&out, Fine, true, false},
		{&out, Fine, false, false},
		{&out, Debug, true, false},
		{&out, Debug, false, false},
		{&out, Info, true, false},
		{&out, Info, false, false},
		{&out, Warn, true, false},
		{&out, Warn, false, false},
		{&out, Error, true, false},
		{&out, Error, false, false},
	}

	var lgr *Logger
	for _, r := range tests {
		lgr = New(r.out, r.level, r.useLocalTime)
		if r.expectNil {
			suite.Nilf(lgr, "New(out=%v, level=%v, useLocalTime=%v) should have failed",
				r.out, r.level, r.useLocalTime)

		} else {
			if suite.NotNilf(lgr, "New(out=%v, level=%v, useLocalTime=%v) should have succeeded",
				r.out, r.level, r.useLocalTime) {

				suite.Equalf(r.level, lgr.level, "unexpected logging level")
				var expectTZ string
				if !r.useLocalTime {
					expectTZ = "UTC "
				}
				suite.Equalf(expectTZ, lgr.timezone, "unexpected timezone string")
			}
		}
	}
}

// TestLogMessage tests the methods that used to log messages for a specific
// logging level.
func (suite *LoggerTestSuite) TestLogMessage() {
	var out bytes.Buffer
	msg := "this is a log entry for test"
	allLevels := []LogLevel{Fine, Debug, Info, Warn, Error, Off}
	for i, level := range allLevels {
		lgr := New(&out, level, false)
		for j, logEntryLevel := range allLevels {
			out.Reset()

			switch logEntryLevel {
			case Fine:
				lgr.Fine(msg)
			case Debug:
				lgr.Debug(msg)
			case Info:
				lgr.Info(msg)
			case Warn:
				lgr.Warn(msg)
			case Error:
				lgr.Error(msg)
			case Off:
				lgr.Log(Off, msg)
			}

			msgPrefix := fmt.Sprintf("Testcase %d-%d: (LoggerLevel=%s, LogEntryLevel=%s): ",
				i+1, j+1, level, logEntryLevel)
			logEntry := out.String()
			if level == Off || logEntryLevel == Off || logEntryLevel < level {
				suite.Emptyf(logEntry, msgPrefix+"the log message should have been empty")
			} else {
				suite.Containsf(logEntry, "UTC "+label(logEntryLevel), msgPrefix+"wrong log message")
				suite.Containsf(logEntry, msg, msgPrefix+"wrong log message")
			}
		}
	}
}

// TestNilLogger verifies that logging on a nil *Logger is a no-op.
func (suite *LoggerTestSuite) TestNilLogger() {
	var lgr *Logger
	suite.NotPanics(func() {
		lgr.Debug("message on nil logger: %d", 1)
		lgr.Error("message on nil logger: %d", 2)
	})
}

func TestLogger(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
