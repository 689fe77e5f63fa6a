package rtc

import (
	"encoding/binary"
	"errors"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/pitched26/pitched/internal/logging"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// AudioSink consumes decoded 16kHz PCM16LE mono microphone audio.
type AudioSink interface {
	FeedPCM(pcm []byte)
}

// pcm16kChunkBytes batches decoded audio into ~100ms chunks before handing
// it to the sink.
const pcm16kChunkBytes = 3200

// HandleOffer accepts an SDP offer for a microphone-only peer connection
// and returns an SDP answer. Decoded audio from the remote track is fed to
// sink; onClosed fires once when the connection ends. An offer that cannot
// be negotiated is a fatal session-start failure.
func HandleOffer(id string, offer SessionDescription, sink AudioSink, onClosed func()) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return SessionDescription{}, err
	}

	closedCh := make(chan struct{})
	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logging.Infow("peer connection state changed", "session", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			select {
			case <-closedCh:
			default:
				close(closedCh)
				if onClosed != nil {
					onClosed()
				}
				_ = peerConnection.Close()
			}
		}
	})
	peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logging.Debugw("ice state changed", "session", id, "state", state.String())
	})

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		logging.Infow("remote audio track received", "session", id, "codec", remote.Codec().MimeType)

		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			logging.Errorw("opus decoder init failed", "session", id, "err", derr)
			return
		}
		go micReader(id, remote, dec, sink, closedCh)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// micReader decodes incoming RTP opus packets and forwards chunked PCM to
// the sink until the connection closes.
func micReader(id string, remote *webrtc.TrackRemote, dec *opus.Decoder, sink AudioSink, closedCh <-chan struct{}) {
	pcmSamples := make([]int16, 1920)
	buf := make([]byte, 0, pcm16kChunkBytes*4)
	for {
		select {
		case <-closedCh:
			return
		default:
		}
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			logging.Debugw("rtp read ended", "session", id, "err", readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			logging.Warnw("opus decode error", "session", id, "err", decErr)
			continue
		}
		startLen := len(buf)
		buf = append(buf, make([]byte, n*2)...)
		out := buf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(pcmSamples[i]))
		}
		for len(buf) >= pcm16kChunkBytes {
			chunk := make([]byte, pcm16kChunkBytes)
			copy(chunk, buf[:pcm16kChunkBytes])
			sink.FeedPCM(chunk)
			copy(buf, buf[pcm16kChunkBytes:])
			buf = buf[:len(buf)-pcm16kChunkBytes]
		}
	}
}
