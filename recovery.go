// recovery.go implements database creation and crash recovery: creating a
// fresh WAL and empty memtable for a new database, and for an existing one,
// recovering the version set from MANIFEST and replaying WAL records the
// version set doesn't yet know were flushed.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc
package lsmkv

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-lsm/lsmkv/internal/batch"
	"github.com/go-lsm/lsmkv/internal/dbformat"
	"github.com/go-lsm/lsmkv/internal/manifest"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/wal"
)

// create initializes a brand-new, empty database: a version set with no
// files, a fresh WAL, and an empty memtable.
func (db *DBImpl) create() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.versions.Create(); err != nil {
		return fmt.Errorf("create version set: %w", err)
	}

	logNumber := db.versions.NextFileNumber()
	logFile, err := db.fs.Create(db.logFilePath(logNumber))
	if err != nil {
		return fmt.Errorf("create WAL: %w", err)
	}
	db.logFile = logFile
	db.logFileNumber = logNumber
	db.logWriter = wal.NewWriter(logFile, logNumber, false)

	var memCmp memtable.Comparator
	if db.comparator != nil {
		memCmp = db.comparator.Compare
	}
	db.mem = memtable.NewMemTable(memCmp)
	db.seq = 0

	edit := manifest.NewVersionEdit()
	edit.HasLogNumber = true
	edit.LogNumber = logNumber
	if err := db.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("record initial log number: %w", err)
	}

	return nil
}

// recover reopens an existing database: it replays the MANIFEST to rebuild
// the version set, replays WAL records that predate the last flush into a
// fresh memtable, then opens a new WAL for subsequent writes.
//
// The recovered WAL is deliberately not retired here: LogNumber in the
// edit below is left unset so replayWAL's source logs keep being
// considered live by obsolete-file GC until the next successful flush
// advances LogNumber past them.
func (db *DBImpl) recover() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.versions.Recover(); err != nil {
		return fmt.Errorf("recover version set: %w", err)
	}
	db.seq = db.versions.LastSequence()

	if err := db.replayWAL(); err != nil {
		return fmt.Errorf("replay WAL: %w", err)
	}

	logNumber := db.versions.NextFileNumber()
	logFile, err := db.fs.Create(db.logFilePath(logNumber))
	if err != nil {
		return fmt.Errorf("create new WAL: %w", err)
	}
	db.logFile = logFile
	db.logFileNumber = logNumber
	db.logWriter = wal.NewWriter(logFile, logNumber, false)

	edit := manifest.NewVersionEdit()
	if err := db.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("record next file number after recovery: %w", err)
	}

	return nil
}

var logFileRegexp = regexp.MustCompile(`^(\d{6})\.log$`)

// replayWAL rebuilds db.mem from every WAL file at or after the version
// set's recorded LogNumber. Log files older than LogNumber were already
// durably flushed into an SST referenced by the recovered version and are
// skipped. Must be called with db.mu held.
func (db *DBImpl) replayWAL() error {
	minLogNumber := db.versions.LogNumber()

	logNumbers, err := db.findLogFiles()
	if err != nil {
		return fmt.Errorf("list WAL files: %w", err)
	}

	var toReplay []uint64
	for _, n := range logNumbers {
		if n >= minLogNumber {
			toReplay = append(toReplay, n)
		}
	}
	sort.Slice(toReplay, func(i, j int) bool { return toReplay[i] < toReplay[j] })

	var memCmp memtable.Comparator
	if db.comparator != nil {
		memCmp = db.comparator.Compare
	}
	db.mem = memtable.NewMemTable(memCmp)

	maxSeq := db.seq
	for _, logNumber := range toReplay {
		seq, err := db.replayLogFile(logNumber)
		if err != nil {
			return fmt.Errorf("replay log %06d: %w", logNumber, err)
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	db.seq = maxSeq

	return nil
}

// findLogFiles returns the file numbers of every "NNNNNN.log" file in the
// database directory.
func (db *DBImpl) findLogFiles() ([]uint64, error) {
	entries, err := db.fs.ListDir(db.name)
	if err != nil {
		return nil, err
	}
	var nums []uint64
	for _, name := range entries {
		m := logFileRegexp.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums, nil
}

// replayLogFile applies every record in logNumber's WAL file to db.mem,
// returning the highest sequence number observed. A missing log file (it
// was GC'd between findLogFiles and here) is tolerated.
func (db *DBImpl) replayLogFile(logNumber uint64) (uint64, error) {
	path := db.logFilePath(logNumber)
	if !db.fs.Exists(path) {
		return db.seq, nil
	}

	file, err := db.fs.Open(path)
	if err != nil {
		return db.seq, err
	}
	defer func() { _ = file.Close() }()

	reader := wal.NewReader(file, recoveryReporter{logger: db.logger, logNumber: logNumber}, true, logNumber)

	maxSeq := db.seq
	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return maxSeq, err
		}

		wb, err := batch.NewFromData(record)
		if err != nil {
			return maxSeq, err
		}

		batchSeq := wb.Sequence()
		handler := &memtableInserter{mem: db.mem, sequence: batchSeq}
		if err := wb.Iterate(handler); err != nil {
			return maxSeq, fmt.Errorf("apply batch record: %w", err)
		}

		lastSeq := batchSeq + uint64(wb.Count()) - 1
		if wb.Count() > 0 && lastSeq > maxSeq {
			maxSeq = lastSeq
		}
	}

	return maxSeq, nil
}

// recoveryReporter surfaces WAL corruption found during replay as warnings
// rather than failing recovery outright: a torn write at the tail of a log
// is the expected shape of a crash mid-write, not a fatal error.
type recoveryReporter struct {
	logger    Logger
	logNumber uint64
}

func (r recoveryReporter) Corruption(bytes int, err error) {
	r.logger.Warnf("[recovery] corruption in log %06d (%d bytes): %v", r.logNumber, bytes, err)
}

func (r recoveryReporter) OldLogRecord(bytes int) {
	r.logger.Warnf("[recovery] skipping old record in log %06d (%d bytes)", r.logNumber, bytes)
}

// memtableInserter applies a WriteBatch's Put/Delete records to a memtable
// during WAL replay, assigning each record the next sequence number in the
// batch starting from sequence.
type memtableInserter struct {
	mem      *memtable.MemTable
	sequence uint64
}

func (h *memtableInserter) Put(key, value []byte) error {
	h.mem.Add(dbformat.SequenceNumber(h.sequence), dbformat.TypeValue, key, value)
	h.sequence++
	return nil
}

func (h *memtableInserter) Delete(key []byte) error {
	h.mem.Add(dbformat.SequenceNumber(h.sequence), dbformat.TypeDeletion, key, nil)
	h.sequence++
	return nil
}
