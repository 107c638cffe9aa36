package store

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/fileformat"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

// ShardFiles gives Compact access to each shard's on-disk artifacts (a
// data file and a key file per shard) and the identity new headers are
// stamped with.
type ShardFiles interface {
	Count() int
	KeyFilePath(shard int) string
	DataFilePath(shard int) string
	Signature() [fileformat.SignatureSize]byte
	Version() uint16
	Permission() os.FileMode
}

// CompactStats summarizes a completed compaction pass.
type CompactStats struct {
	ShardsRewritten int
	KeysRewritten   int
	HolesReclaimed  int
}

// Compact rewrites every shard's key and data files from the live
// in-memory state, dropping every hole a prior Remove left behind, and
// records each key's new on-disk position in its slot metadata. Files are
// replaced atomically (temp file, fsync, rename) so a crash mid-compaction
// leaves the previous generation intact.
//
// This is the only write-path consumer of the free list; ordinary
// Set/Remove never reuse a hole.
//
// Compact does not run automatically; it is invoked via the `compact`
// shell command or directly through this API.
func (e *Engine) Compact(fsys fs.FS, files ShardFiles) (CompactStats, error) {
	byShard := make(map[int][]string)

	e.ForEachLive(func(key string, _ Value, slot SlotMeta) {
		byShard[slot.Shard] = append(byShard[slot.Shard], key)
	})

	var stats CompactStats

	writer := fs.NewAtomicWriter(fsys)

	for shard := 0; shard < files.Count(); shard++ {
		keys := byShard[shard]
		sort.Strings(keys)

		err := e.compactShard(writer, files, shard, keys, &stats)
		if err != nil {
			return stats, fmt.Errorf("store: compact shard %d: %w", shard, err)
		}

		stats.ShardsRewritten++
	}

	// Every hole belongs to a rewritten generation now; drain the free
	// list through BestFit so the pass reports how much it gave back.
	for {
		_, ok := e.freeList.BestFit(1)
		if !ok {
			break
		}

		stats.HolesReclaimed++
	}

	return stats, nil
}

// compactShard builds the shard's fresh key-file and data-file images in
// memory, then writes both atomically. Positions recorded in slot
// metadata are key-file offsets.
func (e *Engine) compactShard(writer *fs.AtomicWriter, files ShardFiles, shard int, keys []string, stats *CompactStats) error {
	header := fileformat.Encode(fileformat.Header{
		Version:   files.Version(),
		Signature: files.Signature(),
		Timestamp: uint64(time.Now().Unix()),
	})

	var keyBuf, dataBuf bytes.Buffer

	keyBuf.Write(header[:])
	dataBuf.Write(header[:])

	type placement struct {
		key      string
		position int64
		length   uint32
	}

	placements := make([]placement, 0, len(keys))

	for _, key := range keys {
		value := e.Get(key, Value{})

		encoded, err := codec.Encode(value)
		if err != nil {
			return err
		}

		digest := codec.NewDigest([]byte(key))

		keyRec, err := fileformat.EncodeRecord(digest, []byte(key))
		if err != nil {
			return err
		}

		dataRec, err := fileformat.EncodeRecord(digest, encoded)
		if err != nil {
			return err
		}

		placements = append(placements, placement{
			key:      key,
			position: int64(keyBuf.Len()),
			length:   fileformat.RecordLength(uint32(len(encoded))),
		})

		keyBuf.Write(keyRec)
		dataBuf.Write(dataRec)
	}

	opts := fs.AtomicWriteOptions{SyncDir: true, Perm: files.Permission()}

	err := writer.Write(files.KeyFilePath(shard), &keyBuf, opts)
	if err != nil {
		return err
	}

	err = writer.Write(files.DataFilePath(shard), &dataBuf, opts)
	if err != nil {
		return err
	}

	// Update slot metadata only after both files are durably in place.
	for _, p := range placements {
		e.UpdatePosition(p.key, p.position, p.length)
		stats.KeysRewritten++
	}

	return nil
}
