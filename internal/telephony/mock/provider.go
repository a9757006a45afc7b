package mock

import (
	"context"
	"sync"
)

// Call records one provider invocation.
type Call struct {
	Op             string
	CallRef        string
	Target         string
	ConferenceName string
}

// Provider is a recording fake for the telephony REST surface, used by
// tests and local runs without platform credentials.
type Provider struct {
	mu    sync.Mutex
	calls []Call

	// Err, when set, is returned from every operation.
	Err error
}

// NewProvider constructs a recording provider.
func NewProvider() *Provider {
	return &Provider{}
}

// EndCall records the hangup request.
func (p *Provider) EndCall(_ context.Context, callRef string) error {
	return p.record(Call{Op: "end", CallRef: callRef})
}

// TransferCall records the transfer request.
func (p *Provider) TransferCall(_ context.Context, callRef, target string) error {
	return p.record(Call{Op: "transfer", CallRef: callRef, Target: target})
}

// KickParticipant records the kick request.
func (p *Provider) KickParticipant(_ context.Context, conferenceName, callRef string) error {
	return p.record(Call{Op: "kick", CallRef: callRef, ConferenceName: conferenceName})
}

func (p *Provider) record(call Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.calls = append(p.calls, call)
	return nil
}

// Calls returns a copy of everything recorded so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
