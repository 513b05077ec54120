// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// interruptSignal implements engine.CancellationSignal over SIGINT. The
// first interrupt requests graceful cancellation; a second upgrades to
// immediate.
type interruptSignal struct {
	count atomic.Int32
}

func newInterruptSignal() *interruptSignal {
	s := &interruptSignal{}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range ch {
			if s.count.Add(1) >= 2 {
				// Let a third interrupt kill the process outright.
				signal.Stop(ch)
			}
		}
	}()
	return s
}

func (s *interruptSignal) IsSet() bool {
	return s.count.Load() > 0
}

func (s *interruptSignal) IsImmediate() bool {
	return s.count.Load() >= 2
}
