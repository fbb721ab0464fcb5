package lsmkv

// write_controller.go implements writeController for managing write stalling.
//
// Write stalling prevents the database from being overwhelmed when compaction
// cannot keep up with writes. It has three states:
//   - Normal: writes proceed at full speed
//   - Delayed: writes are slowed down (backpressure)
//   - Stopped: writes are blocked until compaction catches up
//
// Reference: RocksDB v10.7.5 db/write_controller.h

import (
	"sync"
	"time"
)

// WriteStallCondition describes the write stall condition.
type WriteStallCondition int

const (
	// WriteStallConditionNormal means writes proceed at full speed.
	WriteStallConditionNormal WriteStallCondition = iota
	// WriteStallConditionDelayed means writes are slowed down.
	WriteStallConditionDelayed
	// WriteStallConditionStopped means writes are blocked.
	WriteStallConditionStopped
)

// WriteStallCause indicates why writes are being stalled.
type WriteStallCause int

const (
	// WriteStallCauseNone means no stall.
	WriteStallCauseNone WriteStallCause = iota
	// WriteStallCauseMemtableLimit means too many unflushed memtables.
	WriteStallCauseMemtableLimit
	// WriteStallCauseL0FileCountLimit means too many L0 files.
	WriteStallCauseL0FileCountLimit
)

// String returns a human-readable description of the stall cause.
func (c WriteStallCause) String() string {
	switch c {
	case WriteStallCauseMemtableLimit:
		return "memtable_limit"
	case WriteStallCauseL0FileCountLimit:
		return "l0_file_count_limit"
	default:
		return "none"
	}
}

// writeController manages write stalling so that writers never outrun
// compaction's ability to keep the LSM tree shallow. make_room_for_write
// (write.go) consults it before admitting a batch group.
type writeController struct {
	mu sync.Mutex

	condition WriteStallCondition
	cause     WriteStallCause

	// stallCond wakes writers blocked in maybeStallWrite once the condition
	// leaves Stopped.
	stallCond *sync.Cond

	// delayedWriteRate is the target bytes/sec while Delayed.
	delayedWriteRate uint64

	// closed unblocks every waiter immediately; set during Close.
	closed bool

	totalStopped uint64
	totalDelayed uint64
}

// newWriteController creates a write controller in the Normal state.
func newWriteController() *writeController {
	wc := &writeController{
		condition:        WriteStallConditionNormal,
		cause:            WriteStallCauseNone,
		delayedWriteRate: 16 * 1024 * 1024, // 16MB/s default
	}
	wc.stallCond = sync.NewCond(&wc.mu)
	return wc
}

// getStallCondition returns the current stall condition and its cause.
func (wc *writeController) getStallCondition() (WriteStallCondition, WriteStallCause) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.condition, wc.cause
}

// setStallCondition installs a new stall condition, waking any writer
// blocked in maybeStallWrite if the database is no longer Stopped.
func (wc *writeController) setStallCondition(condition WriteStallCondition, cause WriteStallCause) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	prev := wc.condition
	wc.condition = condition
	wc.cause = cause

	if prev == WriteStallConditionStopped && condition != WriteStallConditionStopped {
		wc.stallCond.Broadcast()
	}

	switch condition {
	case WriteStallConditionStopped:
		wc.totalStopped++
	case WriteStallConditionDelayed:
		wc.totalDelayed++
	}
}

// maybeStallWrite blocks while Stopped and sleeps proportionally to
// writeSize while Delayed. Called before a writer joins the writer queue,
// outside db.mu, so it never holds up unrelated readers.
func (wc *writeController) maybeStallWrite(writeSize int) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	for wc.condition == WriteStallConditionStopped && !wc.closed {
		wc.stallCond.Wait()
	}
	if wc.closed {
		return
	}

	if wc.condition == WriteStallConditionDelayed && wc.delayedWriteRate > 0 {
		delayNs := int64(writeSize) * int64(time.Second) / int64(wc.delayedWriteRate)
		if delayNs > 0 {
			wc.mu.Unlock()
			time.Sleep(time.Duration(delayNs))
			wc.mu.Lock()
		}
	}
}

// releaseWriteStall marks the controller closed, unblocking every writer
// waiting in maybeStallWrite. Used during Close to avoid deadlocking on
// shutdown while writes are stopped.
func (wc *writeController) releaseWriteStall() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.closed = true
	wc.stallCond.Broadcast()
}

// recalculateWriteStallCondition derives the write stall condition from the
// current number of unflushed memtables and level-0 file count.
func recalculateWriteStallCondition(
	numUnflushedMemtables int,
	numL0Files int,
	maxWriteBufferNumber int,
	level0SlowdownTrigger int,
	level0StopTrigger int,
	disableAutoCompactions bool,
) (WriteStallCondition, WriteStallCause) {
	if numUnflushedMemtables >= maxWriteBufferNumber {
		return WriteStallConditionStopped, WriteStallCauseMemtableLimit
	}

	if !disableAutoCompactions {
		if numL0Files >= level0StopTrigger {
			return WriteStallConditionStopped, WriteStallCauseL0FileCountLimit
		}
		if numL0Files >= level0SlowdownTrigger {
			return WriteStallConditionDelayed, WriteStallCauseL0FileCountLimit
		}
	}

	if maxWriteBufferNumber > 3 && numUnflushedMemtables >= maxWriteBufferNumber-1 {
		return WriteStallConditionDelayed, WriteStallCauseMemtableLimit
	}

	return WriteStallConditionNormal, WriteStallCauseNone
}
