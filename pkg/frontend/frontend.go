// Package frontend defines the uniform spawn contract every frontend
// implements and the registry the daemon and the remote client share.
package frontend

import (
	"context"
	"fmt"
	"sort"

	"github.com/sgrams/trxd/pkg/broadcast"
	"github.com/sgrams/trxd/pkg/decode"
	"github.com/sgrams/trxd/pkg/rig"
)

// CommandFunc executes one rig command and returns the resulting
// snapshot. The daemon backs it with the controller; the remote client
// backs it with the network connection.
type CommandFunc func(ctx context.Context, cmd rig.Command) (rig.Snapshot, error)

// AudioFormat describes the PCM stream frontends may re-serve.
type AudioFormat struct {
	SampleRate      int
	Channels        int
	FrameDurationMs int
}

// RuntimeContext carries the shared endpoints a frontend may clone.
// It is passed explicitly; there are no process-wide singletons.
type RuntimeContext struct {
	// HTTPTokens are accepted for HTTP session login.
	HTTPTokens []string
	// ControlTokens guard state-changing HTTP routes.
	ControlTokens []string

	// Decoded is the decoded-message broadcast, may be nil.
	Decoded *broadcast.Channel[decode.Message]
	// SubscribePCM taps the demodulated audio, may be nil.
	SubscribePCM func() *broadcast.Receiver[[]float32]
	AudioFormat  AudioFormat
	// Spectrum returns the latest spectrum frame, may be nil.
	Spectrum func() *rig.SpectrumData
}

// Env is the argument bundle every frontend entry point receives.
type Env struct {
	RigID      string
	Callsign   string
	ListenAddr string

	StateWatch *broadcast.Watch[rig.State]
	Do         CommandFunc
	Runtime    *RuntimeContext
}

// Frontend is a frontend entry point. It serves until ctx is done.
type Frontend func(ctx context.Context, env Env) error

// Registry maps frontend names to entry points.
type Registry struct {
	frontends map[string]Frontend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{frontends: make(map[string]Frontend)}
}

// Register adds a frontend under name.
func (r *Registry) Register(name string, f Frontend) {
	r.frontends[name] = f
}

// Names returns the registered frontend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.frontends))
	for name := range r.frontends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spawn starts the named frontend on its own goroutine and returns a
// channel that yields its exit error.
func (r *Registry) Spawn(ctx context.Context, name string, env Env) (<-chan error, error) {
	f, okName := r.frontends[name]
	if !okName {
		return nil, fmt.Errorf("unknown frontend %q", name)
	}
	done := make(chan error, 1)
	go func() {
		done <- f(ctx, env)
	}()
	return done, nil
}
