/*
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pru

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type DebugTestSuite struct {
	suite.Suite
}

func (s *DebugTestSuite) TestLogColor() {
	defer SetLogLevel(levelWarn)
	SetLogLevel(levelTrace)

	internalLogger.tracef("this is tracef %s", "hello world")
	internalLogger.tracef("trace message")

	internalLogger.debugf("this is debugf %s", "hello world")
	internalLogger.debugf("debug message")

	internalLogger.infof("this is infof %s", "hello world")
	internalLogger.infof("info message")

	internalLogger.warnf("this is warnf %s", "hello world")
	internalLogger.warnf("warn message")

	internalLogger.errorf("this is errorf %s", "hello world")
	internalLogger.errorf("error message")
}

func TestDebugTestSuite(t *testing.T) {
	suite.Run(t, new(DebugTestSuite))
}

func TestNamedLoggerWritesToSink(t *testing.T) {
	defer SetLogLevel(levelWarn)
	SetLogLevel(levelTrace)

	var out bytes.Buffer
	l := newLogger("monitor", &out)
	l.tracef("swap to %d", 1)
	l.errorf("boom %s", "now")

	s := out.String()
	assert.Contains(t, s, "monitor")
	assert.Contains(t, s, "swap to 1")
	assert.Contains(t, s, "boom now")
}

func TestLogLevelSuppression(t *testing.T) {
	defer SetLogLevel(levelWarn)
	SetLogLevel(levelError)

	var out bytes.Buffer
	l := newLogger("quiet", &out)
	l.tracef("hidden")
	l.debugf("hidden")
	l.infof("hidden")
	l.warnf("hidden")
	assert.Zero(t, out.Len())

	l.errorf("visible")
	assert.Contains(t, out.String(), "visible")
}
