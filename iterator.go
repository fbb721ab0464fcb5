// iterator.go implements the database-wide iterator: a merge of the active
// memtable, the immutable memtable (if any), and every SST file referenced
// by the current version, deduplicated by user key and filtered to the
// newest version visible at a given sequence number.
//
// Reference: RocksDB v10.7.5 db/db_iter.cc (DBIter), adapted here to scan a
// plain child-iterator slice rather than a range-deletion-aware merge.
package lsmkv

import (
	"bytes"

	"github.com/go-lsm/lsmkv/internal/dbformat"
	"github.com/go-lsm/lsmkv/internal/memtable"
	"github.com/go-lsm/lsmkv/internal/table"
	"github.com/go-lsm/lsmkv/internal/version"
)

const (
	iterDirForward  = 1
	iterDirBackward = -1
)

// childIterator is the common shape of the memtable and SST iterators an
// Iterator merges: Key returns the internal key (user key + sequence/type
// tag), not the user key.
type childIterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next()
	Prev()
	Error() error
}

// Iterator provides ordered, consistent access to every key visible to the
// read options it was created with. It is not safe for concurrent use by
// multiple goroutines, and must be closed to release the memtable and
// version references it pins.
type Iterator struct {
	db  *DBImpl
	seq dbformat.SequenceNumber

	mem     *memtable.MemTable
	imm     *memtable.MemTable
	version *version.Version

	children    []childIterator
	sstFileNums []uint64

	lowerBound []byte
	upperBound []byte

	direction int
	valid     bool
	err       error
	savedKey  []byte
	savedVal  []byte

	closed bool
}

// NewIterator returns an Iterator over a consistent snapshot of the
// database: opts.Snapshot if set, or the database's current state
// otherwise. The returned Iterator is initially positioned before the
// first entry; call SeekToFirst, SeekToLast, or Seek before reading it.
func (db *DBImpl) NewIterator(opts *ReadOptions) *Iterator {
	if opts == nil {
		opts = DefaultReadOptions()
	}

	db.mu.RLock()
	seq := dbformat.SequenceNumber(db.seq)
	if opts.Snapshot != nil {
		seq = opts.Snapshot.Sequence()
	}

	mem := db.mem
	mem.Ref()
	var imm *memtable.MemTable
	if db.imm != nil {
		imm = db.imm
		imm.Ref()
	}
	v := db.versions.Current()
	if v != nil {
		v.Ref()
	}
	db.mu.RUnlock()

	it := &Iterator{
		db:         db,
		seq:        seq,
		mem:        mem,
		imm:        imm,
		version:    v,
		lowerBound: opts.IterateLowerBound,
		upperBound: opts.IterateUpperBound,
	}

	it.children = append(it.children, mem.NewIterator())
	if imm != nil {
		it.children = append(it.children, imm.NewIterator())
	}
	if v != nil {
		for level := 0; level < v.NumLevels(); level++ {
			for _, f := range v.Files(level) {
				fileNum := f.FD.GetNumber()
				tableIter, err := db.tableCache.NewIterator(fileNum, db.resolveSSTPath(fileNum))
				if err != nil {
					it.err = err
					continue
				}
				it.children = append(it.children, tableIter)
				it.sstFileNums = append(it.sstFileNums, fileNum)
			}
		}
	}

	return it
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.valid && it.err == nil
}

// Error returns the first error encountered while iterating, if any.
func (it *Iterator) Error() error {
	return it.err
}

// Key returns the user key at the current position. Valid until the next
// call to Seek/Next/Prev/Close.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.savedKey
}

// Value returns the value at the current position. Valid until the next
// call to Seek/Next/Prev/Close.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.savedVal
}

// Close releases the memtable and version references this iterator pins.
// Subsequent use of the Iterator is not allowed.
func (it *Iterator) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true
	if it.mem != nil {
		it.mem.Unref()
	}
	if it.imm != nil {
		it.imm.Unref()
	}
	if it.version != nil {
		it.version.Unref()
	}
	for _, fileNum := range it.sstFileNums {
		it.db.tableCache.Release(fileNum)
	}
	return it.err
}

// SeekToFirst positions the iterator at the first key not below the lower
// bound, if one is set.
func (it *Iterator) SeekToFirst() {
	it.direction = iterDirForward
	it.err = nil

	if len(it.lowerBound) > 0 {
		it.Seek(it.lowerBound)
		return
	}
	for _, c := range it.children {
		c.SeekToFirst()
	}
	it.findNextValidEntry()
}

// SeekToLast positions the iterator at the last key below the upper bound,
// if one is set.
func (it *Iterator) SeekToLast() {
	it.direction = iterDirBackward
	it.err = nil

	for _, c := range it.children {
		c.SeekToLast()
	}
	if len(it.upperBound) > 0 {
		for _, c := range it.children {
			for c.Valid() && bytes.Compare(it.userKey(c), it.upperBound) >= 0 {
				c.Prev()
			}
		}
	}
	it.findPrevValidEntry()
}

// Seek positions the iterator at the first key >= target (clamped to the
// lower bound, if one is set).
func (it *Iterator) Seek(target []byte) {
	it.direction = iterDirForward
	it.err = nil

	if len(it.lowerBound) > 0 && bytes.Compare(target, it.lowerBound) < 0 {
		target = it.lowerBound
	}

	seekKey := dbformat.NewInternalKey(target, dbformat.MaxSequenceNumber, dbformat.ValueTypeForSeek)
	for _, c := range it.children {
		c.Seek(seekKey)
	}
	it.findNextValidEntry()
}

// Next advances to the next distinct user key.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	prev := it.direction
	it.direction = iterDirForward

	if prev == iterDirBackward {
		it.resyncForward()
		return
	}

	for _, c := range it.children {
		for c.Valid() && bytes.Equal(it.userKey(c), it.savedKey) {
			c.Next()
		}
	}
	it.findNextValidEntry()
}

// Prev moves to the previous distinct user key.
func (it *Iterator) Prev() {
	if !it.valid {
		return
	}
	prev := it.direction
	it.direction = iterDirBackward

	if prev == iterDirForward {
		it.resyncBackward()
		return
	}

	for _, c := range it.children {
		for c.Valid() && bytes.Equal(it.userKey(c), it.savedKey) {
			c.Prev()
		}
	}
	it.findPrevValidEntry()
}

func (it *Iterator) resyncForward() {
	seekKey := dbformat.NewInternalKey(it.savedKey, 0, dbformat.TypeValue)
	for _, c := range it.children {
		c.Seek(seekKey)
		for c.Valid() && bytes.Equal(it.userKey(c), it.savedKey) {
			c.Next()
		}
	}
	it.findNextValidEntry()
}

func (it *Iterator) resyncBackward() {
	seekKey := dbformat.NewInternalKey(it.savedKey, dbformat.MaxSequenceNumber, dbformat.ValueTypeForSeek)
	for _, c := range it.children {
		c.Seek(seekKey)
		if c.Valid() {
			if bytes.Compare(it.userKey(c), it.savedKey) > 0 {
				c.Prev()
			} else {
				for c.Valid() && bytes.Equal(it.userKey(c), it.savedKey) {
					c.Prev()
				}
			}
		} else {
			c.SeekToLast()
			for c.Valid() && bytes.Equal(it.userKey(c), it.savedKey) {
				c.Prev()
			}
		}
	}
	it.findPrevValidEntry()
}

// userKey extracts the user-key portion of c's current internal key.
func (it *Iterator) userKey(c childIterator) []byte {
	return dbformat.ExtractUserKey(c.Key())
}

// findNextValidEntry scans forward for the smallest user key across every
// child, keeping only its newest version visible at it.seq, and skips over
// deletion markers and keys past the upper bound.
func (it *Iterator) findNextValidEntry() {
outer:
	for {
		minIdx := -1
		var minKey []byte
		var minSeq dbformat.SequenceNumber

		for i, c := range it.children {
			if !c.Valid() {
				continue
			}
			if err := c.Error(); err != nil {
				it.err = err
				it.valid = false
				return
			}

			userKey := it.userKey(c)
			seq := dbformat.ExtractSequenceNumber(c.Key())
			if seq > it.seq {
				c.Next()
				continue outer
			}

			switch {
			case minIdx == -1:
				minIdx, minKey, minSeq = i, userKey, seq
			case bytes.Compare(userKey, minKey) < 0:
				minIdx, minKey, minSeq = i, userKey, seq
			case bytes.Equal(userKey, minKey) && seq > minSeq:
				minIdx, minSeq = i, seq
			}
		}

		if minIdx == -1 {
			it.valid = false
			return
		}

		if len(it.upperBound) > 0 && bytes.Compare(minKey, it.upperBound) >= 0 {
			it.valid = false
			return
		}

		if dbformat.ExtractValueType(it.children[minIdx].Key()) == dbformat.TypeDeletion {
			keyToSkip := append([]byte(nil), minKey...)
			for _, c := range it.children {
				for c.Valid() && bytes.Equal(it.userKey(c), keyToSkip) {
					c.Next()
				}
			}
			continue
		}

		it.savedKey = append([]byte(nil), minKey...)
		it.savedVal = append([]byte(nil), it.children[minIdx].Value()...)
		it.valid = true
		return
	}
}

// findPrevValidEntry scans backward for the largest user key across every
// child, keeping only its newest version visible at it.seq, and skips over
// deletion markers and keys below the lower bound.
func (it *Iterator) findPrevValidEntry() {
outer:
	for {
		maxIdx := -1
		var maxKey []byte
		var maxSeq dbformat.SequenceNumber

		for i, c := range it.children {
			if !c.Valid() {
				continue
			}
			if err := c.Error(); err != nil {
				it.err = err
				it.valid = false
				return
			}

			userKey := it.userKey(c)
			seq := dbformat.ExtractSequenceNumber(c.Key())
			if seq > it.seq {
				c.Prev()
				continue outer
			}

			switch {
			case maxIdx == -1:
				maxIdx, maxKey, maxSeq = i, userKey, seq
			case bytes.Compare(userKey, maxKey) > 0:
				maxIdx, maxKey, maxSeq = i, userKey, seq
			case bytes.Equal(userKey, maxKey) && seq > maxSeq:
				maxIdx, maxSeq = i, seq
			}
		}

		if maxIdx == -1 {
			it.valid = false
			return
		}

		if len(it.lowerBound) > 0 && bytes.Compare(maxKey, it.lowerBound) < 0 {
			it.valid = false
			return
		}

		if dbformat.ExtractValueType(it.children[maxIdx].Key()) == dbformat.TypeDeletion {
			keyToSkip := append([]byte(nil), maxKey...)
			for _, c := range it.children {
				for c.Valid() && bytes.Equal(it.userKey(c), keyToSkip) {
					c.Prev()
				}
			}
			continue
		}

		it.savedKey = append([]byte(nil), maxKey...)
		it.savedVal = append([]byte(nil), it.children[maxIdx].Value()...)
		it.valid = true
		return
	}
}

var _ childIterator = (*table.TableIterator)(nil)
var _ childIterator = (*memtable.MemTableIterator)(nil)
