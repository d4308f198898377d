// Package storage maps owners onto the physical storage tree and probes the
// volumes that hold it.
package storage

import (
	"crypto/md5"
	"encoding/hex"
	"path"
)

// Placement is where an owner's data set lives inside the storage root.
//
// ShareID and Location are the values reported to the entity system when a
// data set is registered; Path joins them into the storage-relative root.
type Placement struct {
	ShareID  string
	Location string
}

// Path returns the rooted, storage-relative directory of the placement.
func (p Placement) Path() string {
	return DataSetPath(p.ShareID, p.Location)
}

// DataSetPath joins a share id and a location into a storage-relative path.
func DataSetPath(shareID, location string) string {
	return path.Clean("/" + path.Join(shareID, location))
}

// Layout decides the placement of owners that the entity system has not
// placed yet.
type Layout interface {
	Place(owner string) Placement
}

// ShardedLayout spreads owners over three levels of hash shards:
// /<shareId>/<storageUuid>/<s1>/<s2>/<s3>/<owner>.
type ShardedLayout struct {
	ShareID     string
	StorageUUID string
}

func (l ShardedLayout) Place(owner string) Placement {
	shards := Shards(owner)
	return Placement{
		ShareID:  l.ShareID,
		Location: path.Join(l.StorageUUID, shards[0], shards[1], shards[2], owner),
	}
}

// FlatLayout puts every owner directly under the storage root.
type FlatLayout struct{}

func (FlatLayout) Place(owner string) Placement {
	return Placement{Location: owner}
}

// Shards returns the three shard directory names for owner: the first three
// byte pairs of the hex MD5 digest of the owner id.
func Shards(owner string) [3]string {
	sum := md5.Sum([]byte(owner))
	h := hex.EncodeToString(sum[:])
	return [3]string{h[0:2], h[2:4], h[4:6]}
}
