package pathinfo

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// IndexerOptions configures an Indexer.
type IndexerOptions struct {
	// ComputeChecksum adds a "TYPE:hex" digest to every file record.
	// CRC32 is always computed.
	ComputeChecksum bool

	// ChecksumType names the digest, e.g. "SHA-256". Ignored unless
	// ComputeChecksum is set.
	ChecksumType string
}

// IndexResult summarizes an indexed data set.
type IndexResult struct {
	DataSetID int64
	Size      int64
	Files     int
}

// Indexer scans a data set folder and writes its records into a Tx.
type Indexer struct {
	fs   afero.Fs
	opts IndexerOptions
}

type node struct {
	record   DataSetFileRecord
	children []*node
}

// NewIndexer creates an indexer reading from fs.
func NewIndexer(fs afero.Fs, opts IndexerOptions) (*Indexer, error) {
	if opts.ComputeChecksum {
		if err := ValidateChecksumType(opts.ChecksumType); err != nil {
			return nil, err
		}
	}
	return &Indexer{fs: fs, opts: opts}, nil
}

// AddPaths indexes the tree rooted at root as data set code. The whole tree
// is scanned before anything is written, so an unreadable file leaves tx
// untouched. Records are created breadth first; directories one by one (their
// ids are needed by the children), files batched per directory.
func (ix *Indexer) AddPaths(ctx context.Context, tx Tx, code, location, root string) (*IndexResult, error) {
	info, err := ix.fs.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data set root %s is not a directory", root)
	}

	tree, err := ix.scan(ctx, root, "", info)
	if err != nil {
		return nil, err
	}

	dataSetID, err := tx.CreateDataSet(ctx, code, location)
	if err != nil {
		return nil, err
	}

	tree.record.DataSetID = dataSetID
	rootID, err := tx.CreateDataSetFile(ctx, tree.record)
	if err != nil {
		return nil, err
	}

	result := &IndexResult{DataSetID: dataSetID, Size: tree.record.SizeInBytes, Files: 1}

	type pending struct {
		n  *node
		id int64
	}
	queue := []pending{{tree, rootID}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := queue[0]
		queue = queue[1:]

		var files []DataSetFileRecord
		for _, child := range dir.n.children {
			parent := dir.id
			child.record.DataSetID = dataSetID
			child.record.ParentID = &parent

			if !child.record.Directory {
				files = append(files, child.record)
				continue
			}
			id, err := tx.CreateDataSetFile(ctx, child.record)
			if err != nil {
				return nil, err
			}
			queue = append(queue, pending{child, id})
			result.Files++
		}
		if len(files) > 0 {
			if err := tx.CreateDataSetFiles(ctx, files); err != nil {
				return nil, err
			}
			result.Files += len(files)
		}
	}
	return result, nil
}

func (ix *Indexer) scan(ctx context.Context, p, rel string, info os.FileInfo) (*node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := &node{record: DataSetFileRecord{
		RelativePath: rel,
		FileName:     info.Name(),
		Directory:    info.IsDir(),
		LastModified: info.ModTime(),
	}}

	if !info.IsDir() {
		if err := ix.digest(p, &n.record); err != nil {
			return nil, err
		}
		return n, nil
	}

	entries, err := afero.ReadDir(ix.fs, p)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		childRel := entry.Name()
		if rel != "" {
			childRel = rel + "/" + entry.Name()
		}
		child, err := ix.scan(ctx, filepath.Join(p, entry.Name()), childRel, entry)
		if err != nil {
			return nil, err
		}
		n.record.SizeInBytes += child.record.SizeInBytes
		n.children = append(n.children, child)
	}
	return n, nil
}

func (ix *Indexer) digest(p string, rec *DataSetFileRecord) error {
	f, err := ix.fs.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	crc := crc32.NewIEEE()
	w := io.Writer(crc)

	var sum hash.Hash
	var name string
	if ix.opts.ComputeChecksum {
		sum, name, err = NewDigest(ix.opts.ChecksumType)
		if err != nil {
			return err
		}
		w = io.MultiWriter(crc, sum)
	}

	size, err := io.Copy(w, f)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}

	value := crc.Sum32()
	rec.SizeInBytes = size
	rec.ChecksumCRC32 = &value
	if sum != nil {
		rec.Checksum = name + ":" + hex.EncodeToString(sum.Sum(nil))
	}
	return nil
}
