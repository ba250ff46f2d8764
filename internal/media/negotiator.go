// Package media negotiates the WebRTC peer connection that carries the
// tutor's avatar video. The connection is receive-only: no local track is
// ever added, and all signaling rides the session's control channel.
package media

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// FallbackSTUNServer is used when the service hands out no ICE servers.
const FallbackSTUNServer = "stun:stun.l.google.com:19302"

// SignalSender relays local signaling back to the remote peer. Senders fail
// when the control channel is closed; the negotiator drops the frame and
// logs instead of retrying.
type SignalSender interface {
	SendAnswer(sdp string) error
	SendCandidate(candidate webrtc.ICECandidateInit) error
}

// VideoSurface renders an inbound video track. Attach must not block; a
// returned error is non-fatal and only keeps the streaming flag off.
type VideoSurface interface {
	Attach(track *webrtc.TrackRemote) error
}

// Negotiator owns at most one peer connection at a time. A new offer always
// replaces the previous connection; answers and candidates for a connection
// that no longer exists are dropped.
//
// Negotiator is safe for concurrent use.
type Negotiator struct {
	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	iceServers []webrtc.ICEServer
	streaming  bool

	sender  SignalSender
	surface VideoSurface
	log     *slog.Logger
}

// NewNegotiator creates a Negotiator with no peer connection. A nil surface
// discards inbound video after draining it.
func NewNegotiator(sender SignalSender, surface VideoSurface, log *slog.Logger) *Negotiator {
	if surface == nil {
		surface = DiscardSurface{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{sender: sender, surface: surface, log: log}
}

// SetICEServers installs the ICE server list for the next offer. An empty
// list falls back to the public STUN server.
func (n *Negotiator) SetICEServers(servers []webrtc.ICEServer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.iceServers = servers
}

// HandleOffer tears down any existing peer connection and negotiates a new
// one: set the remote offer, create and set a local answer, send the answer
// back over the control channel.
func (n *Negotiator) HandleOffer(sdp string) error {
	n.mu.Lock()
	old := n.pc
	n.pc = nil
	n.streaming = false
	servers := n.iceServers
	n.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			n.log.Warn("media: close stale peer connection", "err", err)
		}
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{FallbackSTUNServer}}}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("media: new peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.attachTrack(pc, track)
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := n.sender.SendCandidate(c.ToJSON()); err != nil {
			n.log.Debug("media: drop local candidate", "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.log.Debug("media: connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			n.restartICE(pc)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("media: set remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("media: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("media: set local answer: %w", err)
	}

	n.mu.Lock()
	n.pc = pc
	n.mu.Unlock()

	if err := n.sender.SendAnswer(answer.SDP); err != nil {
		return fmt.Errorf("media: send answer: %w", err)
	}
	return nil
}

// HandleAnswer applies a remote answer to the current peer connection.
// A no-op when no connection exists; out-of-order frames are dropped, not
// queued.
func (n *Negotiator) HandleAnswer(sdp string) error {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()
	if pc == nil {
		return nil
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("media: set remote answer: %w", err)
	}
	return nil
}

// HandleCandidate adds a remote ICE candidate to the current peer
// connection. A no-op when no connection exists.
func (n *Negotiator) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()
	if pc == nil {
		return nil
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("media: add candidate: %w", err)
	}
	return nil
}

// VideoStreaming reports whether an inbound video track is attached and
// rendering.
func (n *Negotiator) VideoStreaming() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.streaming
}

// Close tears down the peer connection. Idempotent.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	pc := n.pc
	n.pc = nil
	n.streaming = false
	n.mu.Unlock()

	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		return fmt.Errorf("media: close peer connection: %w", err)
	}
	return nil
}

func (n *Negotiator) attachTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	if err := n.surface.Attach(track); err != nil {
		// Non-fatal: the flag simply stays false.
		n.log.Warn("media: attach video track", "err", err)
		return
	}
	n.mu.Lock()
	if n.pc == pc {
		n.streaming = true
	}
	n.mu.Unlock()
	n.log.Info("media: video track attached", "codec", track.Codec().MimeType)
}

// restartICE renegotiates connectivity on the existing peer connection
// instead of rebuilding it from scratch. New candidates trickle out through
// the normal relay path.
func (n *Negotiator) restartICE(pc *webrtc.PeerConnection) {
	n.mu.Lock()
	current := n.pc == pc
	n.mu.Unlock()
	if !current {
		return
	}

	n.log.Warn("media: connection failed, restarting ICE")
	offer, err := pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		n.log.Error("media: ice restart offer", "err", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		n.log.Error("media: ice restart local description", "err", err)
	}
}
