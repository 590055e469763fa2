// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package netdap

import (
	//"sync"
	sync "github.com/sasha-s/go-deadlock"
)

type mutex struct {
	sync.Mutex
}
