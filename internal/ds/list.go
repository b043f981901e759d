package ds

// List is a singly-linked FIFO queue. It is the container spec.md's data
// model calls for behind the scheduler's run-queues and the thread pool's
// pending/completed lists: O(1) push-at-tail, pop-at-head, no shifting.
type List[T any] struct {
	head, tail *node[T]
	length     int
}

type node[T any] struct {
	val  T
	next *node[T]
}

// PushBack appends v to the tail of the list.
func (l *List[T]) PushBack(v T) {
	n := &node[T]{val: v}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		l.tail.next = n
		l.tail = n
	}
	l.length++
}

// PopFront removes and returns the item at the head of the list.
func (l *List[T]) PopFront() (v T, ok bool) {
	if l.head == nil {
		return v, false
	}
	n := l.head
	l.head = n.next
	if l.head == nil {
		l.tail = nil
	}
	n.next = nil
	l.length--
	return n.val, true
}

// Len returns the number of items in the list.
func (l *List[T]) Len() int { return l.length }

// Empty reports whether the list has no items.
func (l *List[T]) Empty() bool { return l.head == nil }

// RemoveFunc deletes the first item for which pred returns true. Used by
// Event to drop a waiter's own entry after an interrupted wait, so a later
// Signal/Broadcast never resumes a handle that may since have been
// recycled to an unrelated fiber. Returns true if an item was removed.
func (l *List[T]) RemoveFunc(pred func(T) bool) bool {
	var prev *node[T]
	for n := l.head; n != nil; n = n.next {
		if pred(n.val) {
			if prev == nil {
				l.head = n.next
			} else {
				prev.next = n.next
			}
			if n == l.tail {
				l.tail = prev
			}
			l.length--
			return true
		}
		prev = n
	}
	return false
}
