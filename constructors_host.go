//go:build !tinygo && !baremetal

// This file is built only for non-embedded targets (host-based testing).
package racelink

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/racelink/driver/stub"
)

// LinkPair returns both ends of an in-memory radio link.
func (k *Kit) LinkPair(name string, c Codec) (*Link, *Link) {
	da, db := stub.NewPair()
	return k.Link(name+"-a", da, c), k.Link(name+"-b", db, c)
}

// Bench is a complete course in one process: the three nodes joined by
// in-memory radios.
type Bench struct {
	Controller *Controller
	Master     *Master
	Secondary  *Secondary

	links []*Link
}

func (k *Kit) Bench(d Display, b Buttons, masterGate, secondaryGate Ranger) *Bench {
	ctlA, masterA := k.LinkPair("a", LinkACodec)
	masterB, secB := k.LinkPair("b", LinkBCodec)
	return &Bench{
		Controller: k.Controller(ctlA, d, b),
		Master:     k.Master(masterA, masterB, masterGate),
		Secondary:  k.Secondary(secB, secondaryGate),
		links:      []*Link{ctlA, masterA, masterB, secB},
	}
}

// Run runs every node until ctx ends, then stops all listeners.
func (b *Bench) Run(ctx context.Context) error {
	defer func() {
		for _, l := range b.links {
			l.Listener().Stop()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Master.Run(gctx) })
	g.Go(func() error { return b.Secondary.Run(gctx) })
	g.Go(func() error { return b.Controller.Run(gctx) })
	return g.Wait()
}
