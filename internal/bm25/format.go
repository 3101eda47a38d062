package bm25

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// magic identifies the on-disk BM25 index format; version is bumped on any
// incompatible layout change, forcing callers to rebuild from the
// Metadata Store and chunker rather than attempt to parse stale bytes.
const (
	magic   uint32 = 0x4e455842 // "NEXB"
	version uint32 = 1
)

// Persist writes the dictionary + posting lists to indexPath and the
// per-chunk lengths to lengthsPath, both via write-to-temp-then-rename so
// a crash mid-write never leaves a corrupt file in place.
func (idx *Index) Persist(indexPath, lengthsPath string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.writeIndexLocked(indexPath); err != nil {
		return fmt.Errorf("persist bm25 index: %w", err)
	}
	if err := idx.writeLengthsLocked(lengthsPath); err != nil {
		return fmt.Errorf("persist bm25 lengths: %w", err)
	}
	return nil
}

func (idx *Index) writeIndexLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bm25 dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}

	w := bufio.NewWriter(f)

	terms := make([]string, 0, len(idx.postings))
	for t := range idx.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	header := struct {
		Magic     uint32
		Version   uint32
		DocCount  uint64
		TermCount uint64
		AvgDocLen float64
	}{
		Magic:     magic,
		Version:   version,
		DocCount:  uint64(len(idx.lengths)),
		TermCount: uint64(len(terms)),
		AvgDocLen: idx.avgDocLenLocked(),
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write header: %w", err)
	}

	// Dictionary section: (term_len, term, df, posting_offset, posting_len),
	// sorted by term. posting_offset/posting_len describe the term's slot
	// in the postings section that follows, in the same term order.
	type dictEntry struct {
		term string
		ids  []string
	}
	entries := make([]dictEntry, 0, len(terms))
	var offset uint64
	for _, term := range terms {
		postingList := idx.postings[term]
		ids := make([]string, 0, len(postingList))
		for id := range postingList {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		entries = append(entries, dictEntry{term: term, ids: ids})

		if err := writeString(w, term); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write term: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(idx.df[term])); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write df: %w", err)
		}
		postingLen := uint64(len(ids))
		if err := binary.Write(w, binary.LittleEndian, offset); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write posting offset: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, postingLen); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write posting len: %w", err)
		}
		offset += postingLen
	}

	// Posting lists section: (chunk_id, tf), grouped by term in dictionary
	// order, sorted by chunk id within each term.
	for _, entry := range entries {
		postingList := idx.postings[entry.term]
		for _, id := range entry.ids {
			if err := writeString(w, id); err != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("write posting chunk id: %w", err)
			}
			if err := binary.Write(w, binary.LittleEndian, postingList[id]); err != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("write posting tf: %w", err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (idx *Index) writeLengthsLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bm25 dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp lengths file: %w", err)
	}

	w := bufio.NewWriter(f)

	ids := make([]string, 0, len(idx.lengths))
	for id := range idx.lengths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := binary.Write(w, binary.LittleEndian, uint64(len(ids))); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write lengths count: %w", err)
	}

	for _, id := range ids {
		if err := writeString(w, id); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write length chunk id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, idx.lengths[id]); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write length value: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush lengths file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close lengths file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the index's contents with what's on disk at indexPath and
// lengthsPath. A version mismatch or truncated file returns an error; the
// caller is expected to rebuild from the Metadata Store and chunker rather
// than attempt partial recovery.
func (idx *Index) Load(indexPath, lengthsPath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	lengths, totalLen, err := loadLengths(lengthsPath)
	if err != nil {
		return fmt.Errorf("load bm25 lengths: %w", err)
	}

	postings, df, err := loadIndex(indexPath)
	if err != nil {
		return fmt.Errorf("load bm25 index: %w", err)
	}

	idx.lengths = lengths
	idx.totalLen = totalLen
	idx.postings = postings
	idx.df = df
	return nil
}

func loadIndex(path string) (map[string]map[string]uint32, map[string]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var header struct {
		Magic     uint32
		Version   uint32
		DocCount  uint64
		TermCount uint64
		AvgDocLen float64
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if header.Magic != magic {
		return nil, nil, fmt.Errorf("bad magic %x, expected %x", header.Magic, magic)
	}
	if header.Version != version {
		return nil, nil, fmt.Errorf("unsupported version %d, expected %d: rebuild required", header.Version, version)
	}

	type dictEntry struct {
		term         string
		df           uint64
		postingLen   uint64
	}
	entries := make([]dictEntry, 0, header.TermCount)
	for i := uint64(0); i < header.TermCount; i++ {
		term, err := readString(r)
		if err != nil {
			return nil, nil, fmt.Errorf("read term %d: %w", i, err)
		}
		var df, offset, postingLen uint64
		if err := binary.Read(r, binary.LittleEndian, &df); err != nil {
			return nil, nil, fmt.Errorf("read df for %q: %w", term, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, nil, fmt.Errorf("read offset for %q: %w", term, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &postingLen); err != nil {
			return nil, nil, fmt.Errorf("read posting len for %q: %w", term, err)
		}
		entries = append(entries, dictEntry{term: term, df: df, postingLen: postingLen})
	}

	postings := make(map[string]map[string]uint32, len(entries))
	dfMap := make(map[string]uint32, len(entries))
	for _, e := range entries {
		postingList := make(map[string]uint32, e.postingLen)
		for i := uint64(0); i < e.postingLen; i++ {
			chunkID, err := readString(r)
			if err != nil {
				return nil, nil, fmt.Errorf("read posting chunk id for %q: %w", e.term, err)
			}
			var tf uint32
			if err := binary.Read(r, binary.LittleEndian, &tf); err != nil {
				return nil, nil, fmt.Errorf("read posting tf for %q: %w", e.term, err)
			}
			postingList[chunkID] = tf
		}
		postings[e.term] = postingList
		dfMap[e.term] = uint32(e.df)
	}

	return postings, dfMap, nil
}

func loadLengths(path string) (map[string]uint32, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open lengths file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, 0, fmt.Errorf("read lengths count: %w", err)
	}

	lengths := make(map[string]uint32, count)
	var total uint64
	for i := uint64(0); i < count; i++ {
		chunkID, err := readString(r)
		if err != nil {
			return nil, 0, fmt.Errorf("read length chunk id %d: %w", i, err)
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, 0, fmt.Errorf("read length value %d: %w", i, err)
		}
		lengths[chunkID] = length
		total += uint64(length)
	}

	return lengths, total, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
