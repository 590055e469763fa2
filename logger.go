// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger = nil
)

const MaxLogLevel = logrus.DebugLevel

func init() {
	logger = logrus.New()
}

// SetLogger replaces the logger used by the probe core and by every
// sub-package that asks for it through Logger.
func SetLogger(loggerInstance *logrus.Logger) {

	logger = loggerInstance
}

func Logger() *logrus.Logger {
	return logger
}
