package telephony

import "context"

// Provider abstracts the telephony platform's out-of-band REST surface.
// Routing decisions travel back inside webhook responses as call-control
// scripts; the provider is only needed to act on calls between webhooks.
type Provider interface {
	// EndCall hangs up a live call.
	EndCall(ctx context.Context, callRef string) error
	// TransferCall redirects a live call to another address.
	TransferCall(ctx context.Context, callRef, target string) error
	// KickParticipant removes one participant from a conference.
	KickParticipant(ctx context.Context, conferenceName, callRef string) error
}
