package shardstore

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/p-sternik/codeindex/pkg/model"
)

// wireShard is the on-disk envelope: the version is encoded outside the gob
// stream itself so a version mismatch can be detected before attempting to
// decode a payload that may have a different shape entirely.
type wireShard struct {
	Version int
	Shard   model.FileShard
}

func init() {
	// Symbol.Metadata is a map[string]any; gob requires every concrete
	// type that ever rides inside an interface value to be registered.
	// "is-group" stores a bool, already covered by gob's built-in
	// registrations; "events" stores a map[string]string.
	gob.Register(map[string]string{})
}

// Encode serializes shard for storage. There is no third-party wire codec
// in the retrieved example pack with a shape suited to a self-describing,
// versioned Go-struct envelope (the pack's serialization libraries are all
// bound to a specific transport: protobuf-less gRPC stubs, SQL row
// marshaling via bun struct tags); encoding/gob is the stdlib exception
// documented in DESIGN.md.
func Encode(shard model.FileShard) ([]byte, error) {
	var buf bytes.Buffer

	w := wireShard{Version: model.ShardVersion, Shard: shard}
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, fmt.Errorf("encoding shard %s: %w", shard.URI, err)
	}

	return buf.Bytes(), nil
}

// Decode reverses Encode. It returns ErrCorrupt both when the bytes fail to
// decode and when they decode but carry a stale ShardVersion; callers must
// not distinguish the two cases, per ShardStore.Get's contract.
func Decode(data []byte) (model.FileShard, error) {
	var w wireShard

	if len(data) == 0 {
		return model.FileShard{}, ErrCorrupt
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return model.FileShard{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if w.Version != model.ShardVersion {
		return model.FileShard{}, fmt.Errorf("%w: stored version %d, want %d", ErrCorrupt, w.Version, model.ShardVersion)
	}

	return w.Shard, nil
}
