package core

// engine_runtime.go -- the background loop that drives Engine.Tick and
// applies the Effect lists handle_message/author_node/Tick return.
//
// Same Start/Stop/active-flag/quit-channel shape as other periodic
// background loops in this codebase, looping over Engine.Tick and applying
// an Effect list to a Transport+Storage pair.
import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PacketSender is the narrow interface engine_runtime needs from the
// transport layer to carry out EffectSendPacket; transport_message.go's
// Transport type satisfies it.
type PacketSender interface {
	SendMessage(peer PhysicalDevicePk, msg ProtocolMessage) error
}

// EventSink receives EffectNotify payloads for delivery to the embedding
// application.
type EventSink interface {
	OnNodeEvent(NodeEvent)
}

// Runtime owns an Engine and the side-effecting collaborators (storage is
// reached through the Engine itself) needed to actually apply the Effect
// values the engine produces, plus the periodic Tick loop.
type Runtime struct {
	engine    *Engine
	store     Storage
	transport PacketSender
	sink      EventSink
	logger    *logrus.Logger

	tickInterval time.Duration

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// NewRuntime wires a Runtime around an already-constructed Engine.
func NewRuntime(engine *Engine, store Storage, transport PacketSender, sink EventSink, tickInterval time.Duration, logger *logrus.Logger) *Runtime {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Runtime{
		engine:       engine,
		store:        store,
		transport:    transport,
		sink:         sink,
		tickInterval: tickInterval,
		logger:       logger,
	}
}

// Start launches the background tick loop. Safe to call once; a second call
// while already active is a no-op.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.active = true
	r.mu.Unlock()

	r.engine.sessions.run(func(dropped []peerSessionKey) {
		r.logger.WithField("count", len(dropped)).Debug("sessions reaped")
	})

	go r.loop(ctx)
	r.logger.Info("merkletox runtime started")
}

// Stop terminates the tick loop and the session reaper.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.active = false
	r.mu.Unlock()
	r.engine.sessions.close()
	r.logger.Info("merkletox runtime stopped")
}

// loop runs Engine.Tick on tickInterval until ctx is cancelled.
func (r *Runtime) loop(ctx context.Context) {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			effects := r.engine.Tick(nowMillis())
			if err := r.Apply(effects); err != nil {
				r.logger.Warnf("tick effect apply error: %v", err)
			}
		}
	}
}

// Apply executes an Effect list in order, the single place storage
// mutation, wire I/O and application notification actually occur.
func (r *Runtime) Apply(effects []Effect) error {
	for _, eff := range effects {
		if err := r.applyOne(eff); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) applyOne(eff Effect) error {
	switch eff.Kind {
	case EffectWriteStore:
		return r.store.PutNode(eff.CID, eff.Node, eff.Hash, eff.Verified)
	case EffectWriteWireNode:
		return r.store.PutWireNode(eff.Hash, eff.WireBytes)
	case EffectDeleteWireNode:
		return r.store.RemoveWireNode(eff.Hash)
	case EffectWriteRatchetKey:
		return r.store.PutRatchetKey(eff.CID, eff.RatchetKey)
	case EffectDeleteRatchetKey:
		return r.store.RemoveRatchetKey(eff.CID, eff.RatchetKey.DeviceID, eff.RatchetKey.TriggeringNode)
	case EffectUpdateHeads:
		return r.store.SetHeads(eff.CID, eff.Heads)
	case EffectUpdateAdminHeads:
		return r.store.SetAdminHeads(eff.CID, eff.Heads)
	case EffectWriteConversationKey:
		return r.store.PutConversationKey(eff.CID, eff.ConvKey)
	case EffectWriteEpochMetadata:
		return r.store.UpdateEpochMetadata(eff.CID, eff.MessageCount, eff.LastRotationMs)
	case EffectSendPacket:
		if r.transport == nil {
			return nil
		}
		return r.transport.SendMessage(eff.Peer, eff.Message)
	case EffectNotify:
		if r.sink != nil {
			r.sink.OnNodeEvent(eff.Event)
		}
		return nil
	default:
		return newErr(ErrFatal, "unknown effect kind", nil)
	}
}
