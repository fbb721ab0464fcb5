// write.go implements the writer queue, make_room_for_write room-gate, and
// batch-group coalescing that together let multiple goroutines call Write
// concurrently while only ever performing one WAL append at a time.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_write.cc (WriteImpl,
// PreprocessWrite) and the classic LevelDB db/db_impl.cc
// (MakeRoomForWrite, BuildBatchGroup) this design directly follows.
package lsmkv

import (
	"sync"
	"time"

	"github.com/go-lsm/lsmkv/internal/batch"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/testutil"
	"github.com/go-lsm/lsmkv/internal/wal"
)

// Write applies batch atomically. A write may be grouped with concurrently
// submitted batches from other goroutines into a single WAL append and
// memtable insertion; callers observe only their own batch's effect.
func (db *DBImpl) Write(opts *WriteOptions, wb *WriteBatch) error {
	if opts == nil {
		opts = DefaultWriteOptions()
	}
	if wb == nil || wb.internalBatch().Count() == 0 {
		return ErrEmptyBatch
	}

	_ = testutil.SP(testutil.SPDBWrite)
	db.writeController.maybeStallWrite(len(wb.internalBatch().Data()))

	w := &dbWriter{batch: wb, sync: opts.Sync}
	w.cv = sync.NewCond(&db.writeMu)

	db.writeMu.Lock()
	db.writeQueue = append(db.writeQueue, w)
	for !w.done && db.writeQueue[0] != w {
		w.cv.Wait()
	}
	if w.done {
		db.writeMu.Unlock()
		return w.err
	}

	// w is now the head of the queue: it leads this round's batch group.
	group := db.buildWriteGroup(w)
	db.writeMu.Unlock()

	err := db.runWriteGroup(opts, group)

	db.writeMu.Lock()
	db.finishWriteGroup(group, err)
	db.writeMu.Unlock()

	return err
}

// buildWriteGroup walks the writer queue starting at its head w, appending
// successors' batches into w's group until a sync/non-sync boundary is
// crossed, the group would exceed its size budget, a null (sentinel) batch
// is reached, or the queue ends. Must be called with writeMu held; reads
// the shared queue but does not mutate it.
func (db *DBImpl) buildWriteGroup(w *dbWriter) []*dbWriter {
	group := []*dbWriter{w}
	if w.batch == nil {
		return group
	}

	size := len(w.batch.internalBatch().Data()) - batch.HeaderSize
	maxSize := size + 128*1024
	if size > 128*1024 {
		maxSize = 1 << 20
	}

	for i := 1; i < len(db.writeQueue); i++ {
		next := db.writeQueue[i]
		if next.batch == nil {
			break
		}
		if next.sync && !w.sync {
			// Don't silently upgrade a writer that didn't ask for sync, and
			// don't fold a sync request into a non-sync group.
			break
		}
		nextSize := len(next.batch.internalBatch().Data()) - batch.HeaderSize
		if size+nextSize > maxSize {
			break
		}
		size += nextSize
		group = append(group, next)
	}
	return group
}

// runWriteGroup performs the actual room-gate check, sequence assignment,
// WAL append, and memtable insertion for group. It is called with neither
// writeMu nor db.mu held, so unrelated writers can keep joining the queue
// while this group's I/O is in flight.
func (db *DBImpl) runWriteGroup(opts *WriteOptions, group []*dbWriter) error {
	leader := group[0]

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDBClosed
	}
	if err := db.makeRoomForWrite(leader.batch == nil); err != nil {
		db.mu.Unlock()
		return err
	}

	combined := combineWriteBatches(group)
	if combined == nil {
		// A pure "wait for room" request (Flush's drain sentinel): the room
		// gate above already did the only work required.
		db.mu.Unlock()
		return nil
	}

	count := combined.Count()
	firstSeq := db.seq + 1
	db.seq += uint64(count)
	combined.internalBatch().SetSequence(firstSeq)

	mem := db.mem
	logWriter := db.logWriter
	disableWAL := opts.DisableWAL
	if disableWAL && !db.walDisabledWarned {
		db.walDisabledWarned = true
		db.logger.Warnf("[write] DisableWAL=true: writes will be lost if the process crashes before the next Flush")
	}
	db.mu.Unlock()

	if !disableWAL {
		_ = testutil.SP(testutil.SPDBWriteWAL)
		if _, err := logWriter.AddRecord(combined.Data()); err != nil {
			db.SetBackgroundError(err)
			return err
		}
		if opts.Sync {
			if err := logWriter.Sync(); err != nil {
				db.SetBackgroundError(err)
				return err
			}
		}
		_ = testutil.SP(testutil.SPDBWriteWALComplete)
	}

	_ = testutil.SP(testutil.SPDBWriteMemtable)
	handler := &memtableInserter{mem: mem, sequence: firstSeq}
	if err := combined.internalBatch().Iterate(handler); err != nil {
		return err
	}
	_ = testutil.SP(testutil.SPDBWriteMemtableComplete)
	_ = testutil.SP(testutil.SPDBWriteComplete)

	return nil
}

// combineWriteBatches merges every writer's batch in group into one, in
// order. Returns nil if the group's leader carries no batch (a drain-only
// request).
func combineWriteBatches(group []*dbWriter) *WriteBatch {
	if group[0].batch == nil {
		return nil
	}
	combined := group[0].batch.Clone()
	for _, w := range group[1:] {
		combined.Append(w.batch)
	}
	return combined
}

// finishWriteGroup pops group from the front of the writer queue, marks
// every member done with err, wakes any followers waiting on their own
// condition variable, and wakes the new head of the queue (if any) so it
// can start the next round. Must be called with writeMu held.
func (db *DBImpl) finishWriteGroup(group []*dbWriter, err error) {
	db.writeQueue = db.writeQueue[len(group):]
	for _, w := range group {
		w.err = err
		w.done = true
		w.cv.Signal()
	}
	if len(db.writeQueue) > 0 {
		db.writeQueue[0].cv.Signal()
	}
}

// makeRoomForWrite ensures the active memtable can accept force's write
// (or, if force is true, rotates the memtable unconditionally). It must be
// called with db.mu held; it releases and reacquires db.mu internally
// while sleeping or waiting on immCond.
func (db *DBImpl) makeRoomForWrite(force bool) error {
	allowDelay := true
	for {
		if db.backgroundError != nil {
			return db.backgroundError
		}

		l0Files := 0
		if v := db.versions.Current(); v != nil {
			l0Files = v.NumFiles(0)
		}

		switch {
		case allowDelay && l0Files >= db.options.Level0SlowdownWritesTrigger:
			allowDelay = false
			db.mu.Unlock()
			time.Sleep(time.Millisecond)
			db.mu.Lock()

		case !force && db.mem.ApproximateMemoryUsage() <= int64(db.options.WriteBufferSize):
			return nil

		case db.imm != nil:
			db.immCond.Wait()

		case l0Files >= db.options.Level0StopWritesTrigger:
			db.immCond.Wait()

		default:
			newLogNumber := db.versions.NextFileNumber()
			newLogFile, err := db.fs.Create(db.logFilePath(newLogNumber))
			if err != nil {
				return err
			}
			if db.logFile != nil {
				_ = db.logFile.Close()
			}
			db.logFile = newLogFile
			db.logFileNumber = newLogNumber
			db.logWriter = wal.NewWriter(newLogFile, newLogNumber, false)

			var memCmp memtable.Comparator
			if db.comparator != nil {
				memCmp = db.comparator.Compare
			}
			db.imm = db.mem
			db.mem = memtable.NewMemTable(memCmp)
			db.recalculateWriteStall()
			db.bgWork.MaybeScheduleCompaction()
			force = false
		}
	}
}

// Flush forces the active memtable to rotate to immutable and, if
// opts.Wait is true, blocks until the background worker has flushed it to
// an SST file.
func (db *DBImpl) Flush(opts *FlushOptions) error {
	if opts == nil {
		opts = DefaultFlushOptions()
	}

	w := &dbWriter{}
	w.cv = sync.NewCond(&db.writeMu)

	db.writeMu.Lock()
	db.writeQueue = append(db.writeQueue, w)
	for !w.done && db.writeQueue[0] != w {
		w.cv.Wait()
	}
	if w.done {
		db.writeMu.Unlock()
		if w.err != nil {
			return w.err
		}
	} else {
		group := db.buildWriteGroup(w)
		db.writeMu.Unlock()

		err := db.runWriteGroup(DefaultWriteOptions(), group)

		db.writeMu.Lock()
		db.finishWriteGroup(group, err)
		db.writeMu.Unlock()

		if err != nil {
			return err
		}
	}

	if !opts.Wait {
		return nil
	}

	db.mu.Lock()
	for db.imm != nil && db.backgroundError == nil {
		db.immCond.Wait()
	}
	err := db.backgroundError
	db.mu.Unlock()
	return err
}
