// Package ingest pulls a broadcaster's WebRTC audio into the transcription path.
package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Beacon/internal/core"
)

// PacketReader yields RTP packets until the track ends.
type PacketReader interface {
	ReadPacket() (*rtp.Packet, error)
}

// Sink receives the payload of every packet, in arrival order.
type Sink interface {
	OnAudio(sid core.SessionID, payload []byte)
}

type trackReader struct{ track *webrtc.TrackRemote }

func (t trackReader) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

// TrackReader adapts a remote pion track.
func TrackReader(track *webrtc.TrackRemote) PacketReader { return trackReader{track: track} }

type Relay struct {
	src    PacketReader
	sink   Sink
	cancel context.CancelFunc
	done   chan struct{}
}

func newRelay(src PacketReader, sink Sink, cancel context.CancelFunc) *Relay {
	return &Relay{src: src, sink: sink, cancel: cancel, done: make(chan struct{})}
}

// loop reads RTP packets from the source and hands their payloads to the sink.
func (r *Relay) loop(ctx context.Context, sid core.SessionID, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, err := r.src.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("track ended")
			} else {
				logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			return
		}
		if len(pkt.Payload) == 0 || ctx.Err() != nil {
			continue
		}
		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		r.sink.OnAudio(sid, payload)
	}
}

// Done is closed when the loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }
