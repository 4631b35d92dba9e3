package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is a receive-only WebRTC leg from a broadcaster.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer negotiates and returns the local SDP.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote audio track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote))
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
