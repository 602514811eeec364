package core

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func buildTestEnv(t *testing.T) (*Env, EntityId, SignerId) {
	t.Helper()
	entity := idFor(1)
	signer := signerFor(1)
	quorum := quorumOf(signer)
	state := NewEntityState(entity, quorum)
	replica := NewEntityReplica(entity, signer, state)

	wal, err := OpenWAL(filepath.Join(t.TempDir(), "test.wal"))
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	env := NewEnv(0, wal, NewMemoryStateStore(), Router{Paths: NewStaticRouter(nil), Fee: DefaultFeeSchedule}, log)
	if err := env.RegisterReplica(replica); err != nil {
		t.Fatalf("register: %v", err)
	}
	return env, entity, signer
}

// TestSnapshotBuildEncodeDecodeRoundTrip covers persisted-shape
// contract: a snapshot survives RLP encode/decode byte-for-byte in its
// logical content.
func TestSnapshotBuildEncodeDecodeRoundTrip(t *testing.T) {
	env, entity, signer := buildTestEnv(t)
	replica := env.Replicas[ReplicaKey{EntityId: entity, SignerId: signer}]
	replica.State.Nonces[signer] = 3
	replica.State.Messages = append(replica.State.Messages, "hi")
	acc, _ := replica.State.accountFor(idFor(2))
	acc.Deltas[1] = NewDelta()
	acc.Deltas[1].Collateral = big.NewInt(500)

	snap, err := BuildSnapshot(env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	enc, err := snap.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSnapshot(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.StateRoot != snap.StateRoot {
		t.Fatal("state root mismatch after round trip")
	}
	if len(decoded.Replicas) != 1 || len(decoded.Replicas[0].Accounts) != 1 {
		t.Fatalf("unexpected replica/account shape: %+v", decoded.Replicas)
	}
}

// TestSnapshotInstallAndVerify covers install+verify path used
// at recovery: installing a snapshot into a fresh Env reproduces the
// same state root it claims.
func TestSnapshotInstallAndVerify(t *testing.T) {
	env, _, _ := buildTestEnv(t)
	snap, err := BuildSnapshot(env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	fresh := NewEnv(0, env.WAL, NewMemoryStateStore(), env.Router, nil)
	if err := InstallSnapshot(fresh, snap); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := VerifySnapshotIntegrity(fresh, snap.StateRoot); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if fresh.Height != env.Height {
		t.Fatalf("expected height %d, got %d", env.Height, fresh.Height)
	}
}

// TestRecoverReplaysWALAfterSnapshot covers scenario 6: a snapshot plus
// the WAL suffix after it reproduce the exact pre-crash state.
func TestRecoverReplaysWALAfterSnapshot(t *testing.T) {
	env, entity, signer := buildTestEnv(t)
	store := env.Store

	if err := env.WAL.Append(1000, entity, signer, EntityTx{Kind: TxChat, Signer: signer, Nonce: 1, Message: "before"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	replica := env.Replicas[ReplicaKey{EntityId: entity, SignerId: signer}]
	if _, err := apply(replica.State, EntityTx{Kind: TxChat, Signer: signer, Nonce: 1, Message: "before"}, env.Router); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap, err := BuildSnapshot(env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := env.WAL.Append(2000, entity, signer, EntityTx{Kind: TxChat, Signer: signer, Nonce: 2, Message: "after"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := apply(replica.State, EntityTx{Kind: TxChat, Signer: signer, Nonce: 2, Message: "after"}, env.Router); err != nil {
		t.Fatalf("apply: %v", err)
	}
	wantRoot, err := env.StateRoot()
	if err != nil {
		t.Fatalf("state root: %v", err)
	}

	recovered, err := Recover(store, env.WAL, env.Router, ^uint64(0))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	gotRoot, err := recovered.StateRoot()
	if err != nil {
		t.Fatalf("recovered state root: %v", err)
	}
	if gotRoot != wantRoot {
		t.Fatal("recovered state root does not match pre-crash root")
	}
	recoveredReplica := recovered.Replicas[ReplicaKey{EntityId: entity, SignerId: signer}]
	if len(recoveredReplica.State.Messages) != 2 || recoveredReplica.State.Messages[1] != "after" {
		t.Fatalf("expected replayed message log, got %v", recoveredReplica.State.Messages)
	}
}
