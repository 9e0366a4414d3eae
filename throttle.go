// Copyright (C) The TAP-seq Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tapseq

import "sync"

// throttle caps the number of in-flight goroutines in the parallel
// grid-search and per-group curve computations. The workers here
// cannot fail; results land in pre-sized slices indexed by
// partition, so Wait is the only synchronization point.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	setupOnce sync.Once
}

func (t *throttle) Acquire() {
	t.setupOnce.Do(func() { t.ch = make(chan bool, t.Max) })
	t.wg.Add(1)
	t.ch <- true
}

func (t *throttle) Release() {
	t.wg.Done()
	<-t.ch
}

func (t *throttle) Wait() {
	t.wg.Wait()
}
