package store

import (
	"fmt"

	"github.com/google/orderedcode"

	"github.com/wot-technology/wellspring/crypto"
)

// Key prefixes. Changing any of these is a breaking change to on-disk
// layout.
const (
	// prefixRecord: record digest → canonical record bytes
	prefixRecord = int64(0)
	// prefixEndorseTarget: (target, endorsement id) → nil
	prefixEndorseTarget = int64(1)
	// prefixEndorseCreator: (creator, endorsement id) → nil
	prefixEndorseCreator = int64(2)
	// prefixScopeMember: (scope, created_at, record id) → nil
	prefixScopeMember = int64(3)
	// prefixIdentityKey: identity digest → raw public key bytes
	prefixIdentityKey = int64(4)
)

func recordKey(id crypto.Digest) []byte {
	key, err := orderedcode.Append(nil, prefixRecord, string(id.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func endorseTargetKey(target, endorsement crypto.Digest) []byte {
	key, err := orderedcode.Append(nil, prefixEndorseTarget,
		string(target.Bytes()), string(endorsement.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func endorseCreatorKey(creator, endorsement crypto.Digest) []byte {
	key, err := orderedcode.Append(nil, prefixEndorseCreator,
		string(creator.Bytes()), string(endorsement.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func scopeMemberKey(scope crypto.Digest, createdAt int64, id crypto.Digest) []byte {
	key, err := orderedcode.Append(nil, prefixScopeMember,
		string(scope.Bytes()), createdAt, string(id.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func identityKeyKey(id crypto.Digest) []byte {
	key, err := orderedcode.Append(nil, prefixIdentityKey, string(id.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

// prefixRange returns [start, end) covering every key under the given
// prefix components.
func prefixRange(prefix int64, components ...string) (start, end []byte) {
	args := make([]interface{}, 0, len(components)+1)
	args = append(args, prefix)
	for _, c := range components {
		args = append(args, c)
	}
	start, err := orderedcode.Append(nil, args...)
	if err != nil {
		panic(err)
	}
	end, err = orderedcode.Append(nil, append(args, orderedcode.Infinity)...)
	if err != nil {
		panic(err)
	}
	return start, end
}

// decodeEndorseIndexKey extracts the trailing endorsement digest from an
// endorsement index key.
func decodeEndorseIndexKey(prefix int64, key []byte) (crypto.Digest, error) {
	var (
		p          int64
		owner, eid string
	)
	remaining, err := orderedcode.Parse(string(key), &p, &owner, &eid)
	if err != nil {
		return crypto.Digest{}, err
	}
	if p != prefix || remaining != "" {
		return crypto.Digest{}, fmt.Errorf("malformed index key %x", key)
	}
	return crypto.DigestFromBytes([]byte(eid))
}

// decodeScopeMemberKey extracts (created_at, record id) from a scope index
// key.
func decodeScopeMemberKey(key []byte) (int64, crypto.Digest, error) {
	var (
		p          int64
		scope, rid string
		createdAt  int64
	)
	remaining, err := orderedcode.Parse(string(key), &p, &scope, &createdAt, &rid)
	if err != nil {
		return 0, crypto.Digest{}, err
	}
	if p != prefixScopeMember || remaining != "" {
		return 0, crypto.Digest{}, fmt.Errorf("malformed scope key %x", key)
	}
	id, err := crypto.DigestFromBytes([]byte(rid))
	return createdAt, id, err
}
