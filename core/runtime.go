package core

// runtime.go – the deterministic tick scheduler, grounded on
// core/consensus.go's ticker loop (subBlockLoop/blockLoop driven by a
// time.Ticker, each tick gathering pending work and sealing it
// atomically) but replacing PoW/PoS block sealing with WAL-then-dispatch
// entity-input processing, and replacing the wall-clock ticker with an
// explicit caller-driven Tick call so replay and live operation share
// one code path.

import (
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Env owns every entity replica the process hosts plus the persistence
// and routing collaborators a tick needs. The scheduler is its sole
// mutator.
type Env struct {
	Height           uint64
	SnapshotInterval uint64

	Replicas map[ReplicaKey]*EntityReplica
	Router   Router

	WAL     *WAL
	Store   StateStore
	Metrics *Metrics

	Log *logrus.Logger

	// PendingSettlements tracks submitted settlement requests awaiting
	// their j_event confirmation, keyed by the correlation id assigned
	// when the request was queued. This is read-time diagnostic bookkeeping, not part of
	// committed entity state; it is never persisted to snapshot or WAL
	// and has no bearing on replay determinism.
	PendingSettlements map[string]*PendingSettlement
	// SettlementTimeoutMs is the threshold after which a pending
	// settlement with no matching j_event is reported Stale by
	// StaleSettlements. Zero disables the check (the Open-Question
	// default: no automatic resubmission or dispute is ever attempted).
	SettlementTimeoutMs int64
}

// PendingSettlement is one outstanding settlement-ledger call awaiting
// its j_event confirmation.
type PendingSettlement struct {
	CorrelationId string
	Request       SettlementRequest
	IssuedAt      int64
}

// ReplicaKey addresses one (entity, signer) replica.
type ReplicaKey struct {
	EntityId EntityId
	SignerId SignerId
}

// NewEnv constructs an empty environment ready to register replicas.
func NewEnv(snapshotInterval uint64, wal *WAL, store StateStore, router Router, log *logrus.Logger) *Env {
	if log == nil {
		log = logrus.New()
	}
	return &Env{
		SnapshotInterval:   snapshotInterval,
		Replicas:           make(map[ReplicaKey]*EntityReplica),
		Router:             router,
		WAL:                wal,
		Store:              store,
		Log:                log,
		PendingSettlements: make(map[string]*PendingSettlement),
	}
}

// RegisterReplica installs a new replica, rejecting a duplicate key.
func (e *Env) RegisterReplica(r *EntityReplica) error {
	key := ReplicaKey{EntityId: r.EntityId, SignerId: r.SignerId}
	if _, exists := e.Replicas[key]; exists {
		return ErrReplicaExists
	}
	e.Replicas[key] = r
	return nil
}

// Input is one EntityInput addressed to a replica.
type Input struct {
	EntityId EntityId
	SignerId SignerId
	Txs      []EntityTx
}

// sortInputs orders inputs deterministically by (entity_id, signer_id);
// within one (entity_id, signer_id) pair, the caller is responsible for
// txs already being in nonce order.
func sortInputs(inputs []Input) {
	sort.SliceStable(inputs, func(i, j int) bool {
		a, b := inputs[i], inputs[j]
		if a.EntityId != b.EntityId {
			return a.EntityId.Less(b.EntityId)
		}
		return a.SignerId.String() < b.SignerId.String()
	})
}

// Tick processes one batch of inputs atomically: append each to the
// WAL before dispatch, apply in canonical order, auto-propose where
// due, advance height, and snapshot/prune on cadence.
//
// A single malformed input never halts the tick; it is logged, an
// error output is queued for its originator, and processing continues.
// A WAL append failure is fatal: the tick aborts without any state
// mutation having been applied yet, since every input is WAL-appended
// before any input is dispatched.
func (e *Env) Tick(inputs []Input, timestampMs int64) ([]Output, error) {
	sortInputs(inputs)

	for _, in := range inputs {
		if _, ok := e.Replicas[ReplicaKey{EntityId: in.EntityId, SignerId: in.SignerId}]; !ok {
			continue
		}
		for _, tx := range in.Txs {
			if err := e.WAL.Append(timestampMs, in.EntityId, in.SignerId, tx); err != nil {
				return nil, &WALFailureError{Cause: err}
			}
		}
	}

	var outputs []Output
	for _, in := range inputs {
		key := ReplicaKey{EntityId: in.EntityId, SignerId: in.SignerId}
		replica, ok := e.Replicas[key]
		if !ok {
			e.Log.WithFields(logrus.Fields{"entity": in.EntityId, "signer": in.SignerId}).
				Warn("input addressed to unknown replica")
			outputs = append(outputs, errorOutput(in.EntityId, ErrUnknownReplica))
			continue
		}

		for _, tx := range in.Txs {
			txOutputs, err := apply(replica.State, tx, e.Router)
			if err != nil {
				e.Log.WithError(err).WithFields(logrus.Fields{"entity": in.EntityId, "signer": in.SignerId}).
					Warn("rejected entity-tx")
				outputs = append(outputs, errorOutput(in.EntityId, err))
				continue
			}
			for _, out := range txOutputs {
				if out.Kind == OutputSettlementRequest {
					e.recordSettlement(out.Settlement, timestampMs)
				}
			}
			if tx.Kind == TxJEvent && tx.Event.Kind == JEventSettlementProcessed {
				e.confirmSettlement(tx.Event.ExternalRef)
			}
			outputs = append(outputs, txOutputs...)
			replica.Mempool = append(replica.Mempool, tx)
		}
	}

	for _, replica := range e.Replicas {
		for _, acc := range replica.State.Accounts {
			if acc.Phase != PhaseIdle || len(acc.Mempool) == 0 {
				continue
			}
			frame, err := acc.ProposeNext(timestampMs)
			if err != nil {
				if err != ErrMempoolEmpty {
					e.Log.WithError(err).Warn("account auto-propose failed")
				}
				continue
			}
			counterparty := acc.Right
			if !acc.IsLeft(replica.EntityId) {
				counterparty = acc.Left
			}
			outputs = append(outputs, Output{
				Kind:     OutputAccountInput,
				ToEntity: counterparty,
				AccountIn: &AccountInput{
					From:     replica.EntityId,
					To:       counterparty,
					NewFrame: frame,
				},
			})
		}
	}

	for _, replica := range e.Replicas {
		if replica.IsProposer && len(replica.Mempool) > 0 && replica.Proposal == nil {
			if _, err := replica.ProposeFrame(timestampMs); err != nil && err != ErrMempoolEmpty {
				e.Log.WithError(err).Warn("auto-propose failed")
			}
		}
	}

	outputs = append(outputs, e.driveFrameConsensus()...)

	e.Height++
	if e.Metrics != nil {
		e.Metrics.SetHeight(e.Height)
		depth := 0
		for _, replica := range e.Replicas {
			depth += len(replica.Mempool)
		}
		e.Metrics.SetMempoolDepth(depth)
		if e.WAL != nil {
			e.Metrics.SetWALSequence(e.WAL.NextSequence())
		}
	}

	if e.SnapshotInterval > 0 && e.Height%e.SnapshotInterval == 0 {
		if err := e.snapshotAndPrune(); err != nil {
			e.Log.WithError(err).Error("snapshot failed")
		}
	}

	return outputs, nil
}

// driveFrameConsensus advances every outstanding multi-signer proposal
// one round: every other replica of the proposer's entity verifies the
// proposed frame and precommits, and once the proposer observes quorum
// power it commits the frame on every replica of that entity. A
// single-signer quorum never reaches here; ProposeFrame already
// committed it via SingleSignerShortcut before this runs.
func (e *Env) driveFrameConsensus() []Output {
	var outputs []Output
	for _, proposer := range e.Replicas {
		if !proposer.IsProposer || proposer.Proposal == nil || proposer.Votes == nil || proposer.Votes.HasQuorum() {
			continue
		}
		frame := proposer.Proposal
		quorate := false
		for key, peer := range e.Replicas {
			if key.EntityId != proposer.EntityId || key.SignerId == proposer.SignerId {
				continue
			}
			if err := peer.VerifyFrame(frame, proposer.SignerId, e.Router); err != nil {
				e.Log.WithError(err).WithFields(logrus.Fields{"entity": key.EntityId, "signer": key.SignerId}).
					Warn("frame verification failed, precommit withheld")
				continue
			}
			outputs = append(outputs, Output{Kind: OutputFramePrecommit, ToEntity: proposer.EntityId, ToSigner: key.SignerId, FrameHeight: frame.Height})
			if proposer.RecordPrecommit(key.SignerId) {
				quorate = true
				break
			}
		}
		if !quorate {
			continue
		}
		for key, peer := range e.Replicas {
			if key.EntityId != proposer.EntityId {
				continue
			}
			if key.SignerId != proposer.SignerId {
				if err := peer.applyCommittedFrame(frame, e.Router); err != nil {
					e.Log.WithError(err).WithFields(logrus.Fields{"entity": key.EntityId, "signer": key.SignerId}).
						Warn("peer failed to apply committed frame")
					continue
				}
			}
			peer.Commit(frame)
		}
		outputs = append(outputs, Output{Kind: OutputFrameCommitted, ToEntity: proposer.EntityId, FrameHeight: frame.Height})
	}
	return outputs
}

// recordSettlement assigns req a correlation id (if it does not
// already carry one from the caller) and tracks it as outstanding.
func (e *Env) recordSettlement(req *SettlementRequest, timestampMs int64) string {
	if req.ExternalRef == "" {
		req.ExternalRef = uuid.NewString()
	}
	e.PendingSettlements[req.ExternalRef] = &PendingSettlement{
		CorrelationId: req.ExternalRef,
		Request:       *req,
		IssuedAt:      timestampMs,
	}
	return req.ExternalRef
}

func (e *Env) confirmSettlement(correlationID string) {
	delete(e.PendingSettlements, correlationID)
}

// StaleSettlements reports every outstanding settlement older than
// SettlementTimeoutMs as of now; nil if the check is disabled
// (SettlementTimeoutMs <= 0) or nothing is stale.
func (e *Env) StaleSettlements(now int64) []*PendingSettlement {
	if e.SettlementTimeoutMs <= 0 {
		return nil
	}
	var stale []*PendingSettlement
	for _, p := range e.PendingSettlements {
		if now-p.IssuedAt >= e.SettlementTimeoutMs {
			stale = append(stale, p)
		}
	}
	return stale
}

func (e *Env) snapshotAndPrune() error {
	if e.Store == nil {
		return nil
	}
	snap, err := BuildSnapshot(e)
	if err != nil {
		return err
	}
	if err := e.Store.SaveSnapshot(snap); err != nil {
		return err
	}
	if e.Height > e.SnapshotInterval && e.WAL != nil {
		return e.WAL.PruneBelow(snap.Sequence)
	}
	return nil
}

// StateRoot computes the Merkle root over every registered replica's
// per-key state digest, sorted by (entity_id, signer_id).
func (e *Env) StateRoot() (Hash, error) {
	keys := make([]ReplicaKey, 0, len(e.Replicas))
	for k := range e.Replicas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.EntityId != b.EntityId {
			return a.EntityId.Less(b.EntityId)
		}
		return a.SignerId.String() < b.SignerId.String()
	})

	leaves := make([]Hash, 0, len(keys))
	for _, k := range keys {
		replica := e.Replicas[k]
		h, err := computeEntityStateHash(replica.State)
		if err != nil {
			return Hash{}, err
		}
		leaves = append(leaves, h)
	}
	return MerkleRoot(leaves), nil
}
