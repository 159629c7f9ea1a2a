// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package runtime

import (
	"context"

	"github.com/aranya-project/aranya/internal/policy/machine"
)

// Session is a transient VM context over one graph (§4.H): its fact writes
// land in a private overlay store cloned from the graph at session start
// and never reach the persistent graph. A Session is discarded on drop —
// there is no explicit close, since nothing it did is visible outside the
// Session value itself.
type Session struct {
	model *Model
	cs    *ClientState
	g     *graphState
	limit int
	start int // len(g.order) at session start; earlier entries are the graph's own commands

	effects []machine.Effect
}

// Session opens a session over clientID's view of graphID. The overlay is
// capped at the model's configured SessionFactLimit (§A.3): once the clone
// holds that many facts, further Action/Receive calls are rejected rather
// than left to grow the overlay without bound.
func (m *Model) Session(clientID ProxyClientID, graphID ProxyGraphID) (*Session, error) {
	cs, err := m.client(clientID)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	base, ok := cs.graph(graphID)
	cs.mu.Unlock()
	if !ok {
		return nil, errGraphNotFound(graphID)
	}
	g := base.clone()
	return &Session{model: m, cs: cs, g: g, limit: m.cfg.SessionFactLimit, start: len(g.order)}, nil
}

// factCount reports how many facts the overlay currently holds.
func (s *Session) factCount() int {
	return len(s.g.store.Snapshot().AllFacts())
}

func (s *Session) checkFactLimit() error {
	if have := s.factCount(); have >= s.limit {
		err := errSessionFull(s.limit, have)
		s.model.logger.Warn("session overlay write rejected", "limit", s.limit, "have", have)
		return err
	}
	return nil
}

// Action runs call inside the session's overlay, appending any resulting
// effects to the session's running log (§4.H ordering: "within one action,
// effects are in emission order").
func (s *Session) Action(ctx context.Context, call ActionCall) ([]machine.Effect, error) {
	if err := s.checkFactLimit(); err != nil {
		return nil, err
	}
	effects, err := s.model.runAction(ctx, s.cs, s.g, call)
	if err != nil {
		return nil, err
	}
	s.effects = append(s.effects, effects...)
	return effects, nil
}

// Receive processes externally produced, serialized session commands
// against the overlay: each is opened and policy-gated exactly like a
// synced command, but the result never leaves the session. Commands that
// those phases publish are not processed. Receive returns effects, the same
// shape as Action, and both feed Observe's log.
func (s *Session) Receive(ctx context.Context, commands [][]byte) ([]machine.Effect, error) {
	var effects []machine.Effect
	for _, data := range commands {
		if err := s.checkFactLimit(); err != nil {
			return nil, err
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			return nil, err
		}
		more, applied, err := s.model.applyEnvelope(ctx, s.cs, s.g, env)
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}
		effects = append(effects, more...)
	}
	s.effects = append(s.effects, effects...)
	return effects, nil
}

// Observe returns every command accepted into the session overlay since the
// session opened (in acceptance order) and every effect produced across the
// session's calls to Action/Receive so far, in execution order.
func (s *Session) Observe() ([]*CommandRecord, []machine.Effect) {
	recs := make([]*CommandRecord, 0, len(s.g.order)-s.start)
	for _, id := range s.g.order[s.start:] {
		recs = append(recs, s.g.commands[id])
	}
	return recs, s.effects
}

// Envelopes serializes every command the session overlay accepted since the
// session opened, in acceptance order — the shape session_actions hands
// back to a caller that will feed them into another client's
// session_receive.
func (s *Session) Envelopes() [][]byte {
	out := make([][]byte, 0, len(s.g.order)-s.start)
	for _, id := range s.g.order[s.start:] {
		out = append(out, toEnvelope(s.g.commands[id]).Encode())
	}
	return out
}

// SessionActions runs actions in a one-shot session and returns the
// serialized commands it published plus the effects it produced (§4.H
// "session_actions").
func (m *Model) SessionActions(ctx context.Context, clientID ProxyClientID, graphID ProxyGraphID, actions []ActionCall) ([][]byte, []machine.Effect, error) {
	sess, err := m.Session(clientID, graphID)
	if err != nil {
		return nil, nil, err
	}
	for _, call := range actions {
		if _, err := sess.Action(ctx, call); err != nil {
			return nil, nil, err
		}
	}
	_, effects := sess.Observe()
	return sess.Envelopes(), effects, nil
}

// SessionReceive processes externally produced session commands in a fresh
// session and returns the effects they produced (§4.H "session_receive").
func (m *Model) SessionReceive(ctx context.Context, clientID ProxyClientID, graphID ProxyGraphID, commands [][]byte) ([]machine.Effect, error) {
	sess, err := m.Session(clientID, graphID)
	if err != nil {
		return nil, err
	}
	return sess.Receive(ctx, commands)
}
