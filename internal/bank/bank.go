// Package bank implements the per-thread double-buffer "bank swap"
// primitive used by each analytics engine (FWM, MAVG, CLSF) to let ingest
// threads write lock-free while a periodic collector thread drains a
// quiescent snapshot. Grounded on original_source/monit-objects-fwm.c's
// fwm_fields_init (bank creation, relaxed atomic store of the active
// pointer) and fwm_merge_and_dump (the swap-then-usleep-then-drain
// sequence): two okvs.Tr transactions per ingest thread, an atomic
// selector naming which one is "hot", and a short sleep after flipping
// the selector to let any write already in flight finish before the
// collector reads the now-cold transaction.
package bank

import (
	"sync/atomic"
	"time"

	"xenoflow/internal/okvs"
)

// QuiescenceWindow is how long Swap waits after flipping the active
// pointer before it is safe to drain the cold transaction, mirroring
// original_source's usleep(10) between the atomic store and
// fwm_merge_tr(). This is a deliberate sleep-based substitute for a
// proper RCU grace period or lock, matching the source's own approach
// rather than introducing one of our own.
const QuiescenceWindow = 10 * time.Microsecond

// Bank holds two okvs transactions for one ingest thread and an atomic
// selector naming the currently-active ("hot") one.
type Bank struct {
	trs    [2]*okvs.Tr
	active atomic.Int32 // 0 or 1: index into trs of the hot transaction
}

// New creates a bank with both transactions begun, bank 0 active.
// maxBytes bounds each transaction, 0 for unbounded.
func New(maxBytes int64) *Bank {
	b := &Bank{}
	b.trs[0] = okvs.New(maxBytes)
	b.trs[1] = okvs.New(maxBytes)
	b.trs[0].Begin()
	b.trs[1].Begin()
	return b
}

// Active returns the transaction ingest threads should write into right
// now. Safe for concurrent calls; the returned *okvs.Tr serializes each
// call on its own mutex, and per spec.md §3's per-thread ownership model
// one ingest thread writes into each Bank.
func (b *Bank) Active() *okvs.Tr {
	return b.trs[b.active.Load()]
}

// Swap flips the active selector and waits QuiescenceWindow before
// returning the now-cold transaction for draining. The cold transaction
// is reset (Begin) by the caller via Reset once draining finishes.
func (b *Bank) Swap() *okvs.Tr {
	cur := b.active.Load()
	next := int32(1) - cur
	b.active.Store(next)
	time.Sleep(QuiescenceWindow)
	return b.trs[cur]
}

// Reset discards the contents of a drained (cold) transaction so it can
// be reused the next time Swap hands it out.
func (b *Bank) Reset(tr *okvs.Tr) {
	tr.Begin()
}
