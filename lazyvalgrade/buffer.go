package lazyvalgrade

import "sync"

// CompanionBuffer is the one piece of state a load-time agent collaborator
// shares across class-definition calls (spec §4.7, §6 "Shared state"): when
// patching a CompanionPair, the agent only ever has one half of the pair in
// hand at a time. It patches both halves together, returns the current
// class's bytes to the caller immediately, and stashes the other half here
// under its dotted name until that class is separately presented for
// loading - at which point a single atomic take-and-remove hands the bytes
// over. A pair whose second half never loads leaves a bounded per-process
// entry behind; spec §6 calls this an acceptable minor leak rather than
// something to track for explicit cleanup.
//
// CompanionBuffer is safe for concurrent use; the zero value is ready to
// use.
type CompanionBuffer struct {
	m sync.Map // dotted class name -> []byte
}

// Put stashes patched bytes for dottedName, overwriting any previous entry.
// Overwriting (rather than refusing a second Put) matches spec §4.7's
// "races between simultaneous loads of both sides are acceptable: both
// threads produce semantically identical bytes".
func (b *CompanionBuffer) Put(dottedName string, patched []byte) {
	b.m.Store(dottedName, patched)
}

// TakeAndRemove atomically retrieves and clears the buffered bytes for
// dottedName, if present. A caller that gets ok == false should patch the
// class itself rather than wait - the companion may not have loaded yet,
// or may never load at all.
func (b *CompanionBuffer) TakeAndRemove(dottedName string) (patched []byte, ok bool) {
	v, ok := b.m.LoadAndDelete(dottedName)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}
