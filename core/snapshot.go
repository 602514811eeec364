package core

// snapshot.go – RLP-encoded environment snapshots and crash recovery,
// grounded on core/ledger.go's `snapshot()` (writes a serialized
// chain state, used on `OpenLedger` to avoid replaying the whole WAL)
// generalised from one ledger's UTXO set to many entity replicas,
// each serialized with sorted nonces, a full message log, and a quorum
// config with sorted shares for deterministic byte output.

import (
	"encoding/json"
	"fmt"
	"os"
)

// ReplicaSnapshot is one replica's serialized state.
type ReplicaSnapshot struct {
	EntityId EntityId
	SignerId SignerId
	Height   uint64
	PrevHash Hash

	Nonces   []sortedMapEntry
	Messages []string

	QuorumThreshold uint64
	QuorumMembers   []sortedMapEntry // signer bytes -> 8-byte big-endian power

	Params []sortedMapEntry

	Accounts []AccountSnapshot
}

// AccountSnapshot is one account machine's serialized state.
type AccountSnapshot struct {
	Key           AccountKey
	Height        uint64
	PrevHash      Hash
	TokenIds      []uint64
	Deltas        []walDeltaWire
	RollbackCount uint64
	SendCounter   uint64
	RecvCounter   uint64
}

// Snapshot is the RLP-encoded tuple persisted in the StateStore under
// the key "snapshot/" followed by the 8-byte big-endian height; it is
// not written to a file of its own.
type Snapshot struct {
	Height    uint64
	Timestamp uint64
	StateRoot Hash
	Sequence  uint64 // WAL sequence id at the moment this snapshot was taken
	Replicas  []ReplicaSnapshot
}

// Encode returns the canonical RLP encoding of the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	return EncodeRLP(s)
}

// DecodeSnapshot parses a previously-encoded snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := DecodeRLP(data, &s); err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}
	return &s, nil
}

// DebugJSON renders a human-readable sibling for the snapshot, written
// alongside the authoritative RLP file purely for operator inspection
//.
func (s *Snapshot) DebugJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// BuildSnapshot captures env's full state, including the Merkle state
// root, into a Snapshot ready for persistence.
func BuildSnapshot(e *Env) (*Snapshot, error) {
	root, err := e.StateRoot()
	if err != nil {
		return nil, err
	}

	keys := make([]ReplicaKey, 0, len(e.Replicas))
	for k := range e.Replicas {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && replicaKeyLess(keys[j], keys[j-1]); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}

	snap := &Snapshot{Height: e.Height, StateRoot: root, Sequence: e.WAL.NextSequence()}
	for _, k := range keys {
		replica := e.Replicas[k]
		snap.Replicas = append(snap.Replicas, serializeReplica(replica))
	}
	return snap, nil
}

func replicaKeyLess(a, b ReplicaKey) bool {
	if a.EntityId != b.EntityId {
		return a.EntityId.Less(b.EntityId)
	}
	return a.SignerId.String() < b.SignerId.String()
}

func serializeReplica(r *EntityReplica) ReplicaSnapshot {
	rs := ReplicaSnapshot{
		EntityId:        r.EntityId,
		SignerId:        r.SignerId,
		Height:          r.State.Height,
		PrevHash:        r.State.PrevHash,
		Messages:        append([]string(nil), r.State.Messages...),
		QuorumThreshold: r.State.Quorum.Threshold,
		Nonces:          sortedNonces(r.State.Nonces),
	}
	for _, s := range sortedSignerIds(r.State.Quorum.Members) {
		rs.QuorumMembers = append(rs.QuorumMembers, sortedMapEntry{Key: s.Bytes(), Value: beUint64(r.State.Quorum.Members[s])})
	}
	for _, p := range sortedStrings(r.State.Params) {
		rs.Params = append(rs.Params, sortedMapEntry{Key: []byte(p), Value: []byte(r.State.Params[p])})
	}

	keys := make([]AccountKey, 0, len(r.State.Accounts))
	for k := range r.State.Accounts {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessAccountKey(keys[j], keys[j-1]); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	for _, k := range keys {
		acc := r.State.Accounts[k]
		as := AccountSnapshot{
			Key:           k,
			Height:        acc.Height,
			PrevHash:      acc.PrevHash,
			RollbackCount: acc.RollbackCount,
			SendCounter:   acc.SendCounter,
			RecvCounter:   acc.RecvCounter,
		}
		for _, id := range orderedTokenIDsOf(acc.Deltas) {
			as.TokenIds = append(as.TokenIds, uint64(id))
			as.Deltas = append(as.Deltas, deltaToWire(acc.Deltas[id]))
		}
		rs.Accounts = append(rs.Accounts, as)
	}
	return rs
}

func beUint64(v uint64) []byte {
	var b [8]byte
	for i := range b {
		b[7-i] = byte(v >> (8 * i))
	}
	return b[:]
}

func sortedSignerIds(m map[SignerId]uint64) []SignerId {
	out := make([]SignerId, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func sortedStrings(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// InstallSnapshot replaces env's replica set with the snapshot's
// contents, reconstructing each account and quorum from its wire form.
// Used only at recovery time, before any WAL replay.
func InstallSnapshot(e *Env, snap *Snapshot) error {
	e.Replicas = make(map[ReplicaKey]*EntityReplica, len(snap.Replicas))
	for _, rs := range snap.Replicas {
		members := make(map[SignerId]uint64, len(rs.QuorumMembers))
		for _, entry := range rs.QuorumMembers {
			var signer SignerId
			copy(signer[:], entry.Key)
			members[signer] = beUint64ToUint(entry.Value)
		}
		quorum := QuorumConfig{Threshold: rs.QuorumThreshold, Members: members}

		state := NewEntityState(rs.EntityId, quorum)
		state.Height = rs.Height
		state.PrevHash = rs.PrevHash
		state.Messages = append([]string(nil), rs.Messages...)
		for _, entry := range rs.Nonces {
			var signer SignerId
			copy(signer[:], entry.Key)
			state.Nonces[signer] = beUint64ToUint(entry.Value)
		}
		for _, entry := range rs.Params {
			state.Params[string(entry.Key)] = string(entry.Value)
		}
		for _, as := range rs.Accounts {
			acc := NewAccount(as.Key.Left(), as.Key.Right())
			acc.Height = as.Height
			acc.PrevHash = as.PrevHash
			acc.RollbackCount = as.RollbackCount
			acc.SendCounter = as.SendCounter
			acc.RecvCounter = as.RecvCounter
			for i, id := range as.TokenIds {
				acc.Deltas[TokenId(id)] = deltaFromWire(as.Deltas[i])
			}
			state.Accounts[as.Key] = acc
		}

		replica := NewEntityReplica(rs.EntityId, rs.SignerId, state)
		e.Replicas[ReplicaKey{EntityId: rs.EntityId, SignerId: rs.SignerId}] = replica
	}
	e.Height = snap.Height
	return nil
}

func beUint64ToUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// VerifySnapshotIntegrity recomputes the Merkle state root from env's
// current replicas and compares it to expectedRoot.
func VerifySnapshotIntegrity(e *Env, expectedRoot Hash) error {
	root, err := e.StateRoot()
	if err != nil {
		return err
	}
	if root != expectedRoot {
		return &StateHashMismatchError{Want: expectedRoot, Got: root}
	}
	return nil
}

// Recover implements the startup procedure: load the latest snapshot,
// or, when that one is above targetHeight, the snapshot stored at
// exactly targetHeight (no lower snapshot is searched for, so recovery
// fails if none is stored at that height); install it and verify its
// claimed root; then replay every WAL entry at or after the snapshot's
// sequence and recompute the state root. The recomputed root is not
// compared against any expected value. A snapshot load, install, root
// check, WAL read or entry decode failure halts recovery; a tx rejected
// during replay is skipped.
func Recover(store StateStore, wal *WAL, router Router, targetHeight uint64) (*Env, error) {
	snap, err := store.LoadLatestSnapshot()
	if err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}

	env := NewEnv(0, wal, store, router, nil)
	if snap != nil {
		if snap.Height > targetHeight {
			loaded, lerr := store.LoadSnapshotAt(targetHeight)
			if lerr != nil {
				return nil, &RecoveryFailureError{Cause: lerr}
			}
			snap = loaded
		}
		if err := InstallSnapshot(env, snap); err != nil {
			return nil, &RecoveryFailureError{Cause: err}
		}
		if err := VerifySnapshotIntegrity(env, snap.StateRoot); err != nil {
			return nil, &RecoveryFailureError{Cause: fmt.Errorf("snapshot root check failed: %w", err)}
		}
	}

	startSeq := uint64(0)
	if snap != nil {
		startSeq = snap.Sequence
	}

	entries, err := wal.ReadAll()
	if err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}
	for _, entry := range entries {
		if entry.Sequence < startSeq {
			continue
		}
		entityID, signerID, tx, derr := entry.Decode()
		if derr != nil {
			return nil, &RecoveryFailureError{Cause: derr}
		}
		key := ReplicaKey{EntityId: entityID, SignerId: signerID}
		replica, ok := env.Replicas[key]
		if !ok {
			continue
		}
		if _, aerr := apply(replica.State, tx, router); aerr != nil {
			continue // a rejected tx at replay time was also rejected live; skip, don't halt
		}
		replica.Mempool = append(replica.Mempool, tx)
	}

	if _, err := env.StateRoot(); err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}
	return env, nil
}

// WriteDebugSnapshot writes the optional human-readable sibling file
// next to the authoritative RLP snapshot.
func WriteDebugSnapshot(path string, snap *Snapshot) error {
	data, err := snap.DebugJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path+".debug", data, 0644)
}
