// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package qrlive

import (
	"context"
	"time"

	"github.com/jeremyhahn/go-qrlive/pkg/chain"
	"github.com/jeremyhahn/go-qrlive/pkg/identity"
	"github.com/jeremyhahn/go-qrlive/pkg/qrgen"
	"github.com/jeremyhahn/go-qrlive/pkg/resilience"
	"github.com/jeremyhahn/go-qrlive/pkg/timesource"
)

// OnUpdate registers a callback invoked with every live emission.
// Callbacks run synchronously on the update loop; keep them fast.
func (p *Protocol) OnUpdate(cb UpdateCallback) {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// SetUserDataFunc installs a provider polled before each live emission.
func (p *Protocol) SetUserDataFunc(fn UserDataFunc) {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	p.userData = fn
}

// Start launches the live update loop. It returns immediately; the loop
// runs until Stop is called or ctx is cancelled.
func (p *Protocol) Start(ctx context.Context) error {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, p.done)
	p.logger.Infof("live generation started, interval %v", p.updateInterval)
	return nil
}

// Stop halts the live update loop and waits for it to exit.
func (p *Protocol) Stop() error {
	p.liveMu.Lock()
	if !p.running {
		p.liveMu.Unlock()
		return ErrNotRunning
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.liveMu.Unlock()

	cancel()
	<-done
	p.logger.Info("live generation stopped")
	return nil
}

// Running reports whether the live loop is active.
func (p *Protocol) Running() bool {
	p.liveMu.Lock()
	defer p.liveMu.Unlock()
	return p.running
}

func (p *Protocol) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.updateInterval)
	defer ticker.Stop()

	// Emit immediately rather than waiting one full interval.
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Protocol) tick(ctx context.Context) {
	opts := p.DefaultOptions()

	p.liveMu.Lock()
	provider := p.userData
	callbacks := make([]UpdateCallback, len(p.callbacks))
	copy(callbacks, p.callbacks)
	p.liveMu.Unlock()

	if provider != nil {
		opts.UserData = provider()
	}

	update, err := p.Generate(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Errorf("live emission failed: %v", err)
		return
	}

	for _, cb := range callbacks {
		cb(update)
	}
}

// Stats aggregates the protocol's counters with its collaborators'.
type Stats struct {
	Running      bool                               `json:"running"`
	Sequence     uint64                             `json:"sequence_number"`
	Updates      uint64                             `json:"total_updates"`
	LastDuration string                             `json:"last_update_duration"`
	SigningKeyID string                             `json:"signing_key_id,omitempty"`
	Time         timesource.Stats                   `json:"time"`
	Chain        chain.Stats                        `json:"chain"`
	Identity     identity.Stats                     `json:"identity"`
	QR           qrgen.Stats                        `json:"qr"`
	Breakers     map[string]resilience.BreakerStats `json:"breakers"`
}

// Stats returns a live snapshot across the protocol and collaborators.
func (p *Protocol) Stats() Stats {
	p.mu.RLock()
	sequence := p.sequence
	updates := p.updates
	lastDuration := p.lastDuration
	keyID := p.signingKeyID
	p.mu.RUnlock()

	return Stats{
		Running:      p.Running(),
		Sequence:     sequence,
		Updates:      updates,
		LastDuration: lastDuration.String(),
		SigningKeyID: keyID,
		Time:         p.time.Stats(),
		Chain:        p.chain.Stats(),
		Identity:     p.identity.Stats(),
		QR:           p.qr.Stats(),
		Breakers:     p.breakers.Stats(),
	}
}
