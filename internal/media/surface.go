package media

import "github.com/pion/webrtc/v4"

// DiscardSurface drains an inbound track without rendering it. Draining
// matters even without a display: unread packets would otherwise pile up in
// the receiver.
type DiscardSurface struct{}

var _ VideoSurface = DiscardSurface{}

func (DiscardSurface) Attach(track *webrtc.TrackRemote) error {
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}
