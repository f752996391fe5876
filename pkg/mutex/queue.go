package mutex

import "slices"

// queue is the local request queue, kept sorted by (Time, Pid). After every
// mutation the head is either an ENTER or the queue is empty.
type queue []Message

// push appends m and restores the queue invariant.
func (q *queue) push(m Message) {
	*q = append(*q, m)
	q.normalize()
}

// normalize sorts the queue and drops anything but ENTER from its head.
func (q *queue) normalize() {
	slices.SortStableFunc(*q, compareMessages)
	i := 0
	for i < len(*q) && (*q)[i].Kind != KindEnter {
		i++
	}
	*q = (*q)[i:]
}

func (q queue) head() (Message, bool) {
	if len(q) == 0 {
		return Message{}, false
	}
	return q[0], true
}

// popHead removes the head.
func (q *queue) popHead() {
	if len(*q) > 0 {
		*q = (*q)[1:]
	}
}

// remove drops every entry matching drop.
func (q *queue) remove(drop func(Message) bool) {
	*q = slices.DeleteFunc(*q, drop)
}

// removeFirst drops the first entry matching drop and reports whether one
// was found.
func (q *queue) removeFirst(drop func(Message) bool) bool {
	i := slices.IndexFunc(*q, drop)
	if i < 0 {
		return false
	}
	*q = slices.Delete(*q, i, i+1)
	return true
}

// entersAfterHead is the queue left behind by a release: the tail, ENTER
// requests only.
func (q queue) entersAfterHead() queue {
	if len(q) == 0 {
		return nil
	}
	out := make(queue, 0, len(q)-1)
	for _, m := range q[1:] {
		if m.Kind == KindEnter {
			out = append(out, m)
		}
	}
	return out
}

// spokeAfterHead returns the processes that authored an ENTER or ALLOW
// ordered after the head. Failure-detection entries name a suspect, not an
// author, so they do not count.
func (q queue) spokeAfterHead() map[ID]struct{} {
	spoke := make(map[ID]struct{})
	if len(q) < 2 {
		return spoke
	}
	for _, m := range q[1:] {
		if m.Kind == KindEnter || m.Kind == KindAllow {
			spoke[m.Pid] = struct{}{}
		}
	}
	return spoke
}

func (q queue) clone() []Message {
	return slices.Clone([]Message(q))
}
