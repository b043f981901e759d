package fiberun

// IOCondition is a bit-set of readiness conditions a Watcher can wait on —
// spec.md §4.2.
type IOCondition uint32

// CondNo is the empty condition set.
const CondNo IOCondition = 0

const (
	// CondIn indicates the fd is ready for reading.
	CondIn IOCondition = 1 << iota
	// CondOut indicates the fd is ready for writing.
	CondOut
	// CondRdHup indicates the peer half-closed its end of a stream socket.
	CondRdHup
	// CondPri indicates urgent/out-of-band data is available.
	CondPri
	// CondErr indicates an error condition; always reported when present.
	CondErr
	// CondHup indicates a hang-up; always reported when present.
	CondHup
)

// Watcher is a per-fd interest record held by the poller for exactly one
// suspension — spec.md §3. Its storage is owned by the caller, typically a
// local variable in [Loop.waitForFile], which reads ready back out after
// the dispatch callback has written it and the fiber has woken.
type Watcher struct {
	fd         int
	conditions IOCondition
	fiber      FiberHandle
	ready      IOCondition
	removed    bool
}
