package task

import "math/bits"

// readyQueue holds runnable tasks in one FIFO list per priority level, with
// a bitmap of non-empty levels for constant-time selection.
type readyQueue struct {
	levels [MaxPriority + 1]readyList
	bitmap [(MaxPriority + 1) / 64]uint64
	n      int
}

type readyList struct {
	head *Task
	tail *Task
}

func (q *readyQueue) push(t *Task, atHead bool) {
	l := &q.levels[t.prio]
	t.level = t.prio
	if atHead {
		t.rprev = nil
		t.rnext = l.head
		if l.head != nil {
			l.head.rprev = t
		} else {
			l.tail = t
		}
		l.head = t
	} else {
		t.rnext = nil
		t.rprev = l.tail
		if l.tail != nil {
			l.tail.rnext = t
		} else {
			l.head = t
		}
		l.tail = t
	}
	q.bitmap[t.level/64] |= 1 << (uint(t.level) % 64)
	t.queued = true
	q.n++
}

func (q *readyQueue) remove(t *Task) {
	if !t.queued {
		return
	}
	l := &q.levels[t.level]
	if t.rprev != nil {
		t.rprev.rnext = t.rnext
	} else {
		l.head = t.rnext
	}
	if t.rnext != nil {
		t.rnext.rprev = t.rprev
	} else {
		l.tail = t.rprev
	}
	t.rprev, t.rnext = nil, nil
	if l.head == nil {
		q.bitmap[t.level/64] &^= 1 << (uint(t.level) % 64)
	}
	t.queued = false
	q.n--
}

// highest returns the top non-empty level, or -1.
func (q *readyQueue) highest() int {
	for i := len(q.bitmap) - 1; i >= 0; i-- {
		if q.bitmap[i] != 0 {
			return i*64 + 63 - bits.LeadingZeros64(q.bitmap[i])
		}
	}
	return -1
}

func (q *readyQueue) pop() *Task {
	p := q.highest()
	if p < 0 {
		return nil
	}
	t := q.levels[p].head
	q.remove(t)
	return t
}

func (q *readyQueue) has(prio int) bool {
	return q.bitmap[prio/64]&(1<<(uint(prio)%64)) != 0
}
