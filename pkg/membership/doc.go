// Package membership tracks which peers a mutex process still coordinates
// with, and how long each of them has been silent.
//
// A View is an immutable snapshot of the group: expelling a peer builds a
// new View instead of editing the old one, so callers may keep iterating a
// slice they obtained earlier. The FailureDetector counts consecutive misses
// per peer and classifies peers as Alive, Suspect or Dead.
//
// Typical usage:
//
//	v := membership.NewView(self, ids)
//	fd := membership.NewMissCounter(3)
//	for _, peer := range v.Others() {
//		if fd.Miss(peer) >= 3 {
//			v = v.Without(peer)
//			fd.Reset()
//		}
//	}
package membership
