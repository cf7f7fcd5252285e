// Package webrtcpreview implements C14: an optional, local live-preview
// relay that broadcasts annotated per-frame JPEGs to WebRTC viewers as a
// one-image-per-sample Motion-JPEG track. It is adapted from the teacher's
// H.264 WebRTC broadcaster, carrying JPEG samples instead of H.264 NAL
// units since there is no registered WebRTC codec for still-image frames.
// Nothing in the client-visible wire protocol depends on this package.
package webrtcpreview

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/deflagg/eva/internal/logger"
)

const mjpegMimeType = "image/jpeg"

// Sample is one annotated frame published to every connected viewer.
type Sample struct {
	JPEG     []byte
	Duration time.Duration
}

// Client is one connected preview viewer.
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	videoTrack    *webrtc.TrackLocalStaticSample
	frameChan     chan Sample
	closeChan     chan struct{}
	framesSent    uint64
	framesDropped uint64
}

// Server fans out annotated frames to every connected viewer.
type Server struct {
	clientsMu  sync.RWMutex
	clients    map[string]*Client
	config     webrtc.Configuration
	maxClients int
	log        logger.Module
}

// NewServer creates a preview relay using the given STUN servers (falling
// back to a public default when none are configured).
func NewServer(stunServers []string, maxClients int, log logger.Module) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		log:        log,
	}
}

// HandleOffer negotiates one viewer connection and returns the SDP answer.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	s.clientsMu.RLock()
	numClients := len(s.clients)
	s.clientsMu.RUnlock()
	if numClients >= s.maxClients {
		return nil, fmt.Errorf("maximum preview viewers reached (%d)", s.maxClients)
	}

	peerConn, err := webrtc.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mjpegMimeType, ClockRate: 90000},
		"preview",
		"eva",
	)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create preview track: %w", err)
	}

	rtpSender, err := peerConn.AddTrack(videoTrack)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(buf); err != nil {
				return
			}
		}
	}()

	client := &Client{
		id:         uuid.NewString(),
		peerConn:   peerConn,
		videoTrack: videoTrack,
		frameChan:  make(chan Sample, 8),
		closeChan:  make(chan struct{}),
	}

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Debug("viewer %s ICE state: %s", client.id, state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	go s.sendFrames(client)
	s.log.Info("viewer %s connected", client.id)

	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Publish fans out one annotated frame to every connected viewer,
// dropping it for any viewer whose buffer is full rather than blocking.
func (s *Server) Publish(sample Sample) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.frameChan <- sample:
			client.framesSent++
		default:
			client.framesDropped++
		}
	}
}

func (s *Server) sendFrames(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case sample := <-client.frameChan:
			if err := client.videoTrack.WriteSample(media.Sample{Data: sample.JPEG, Duration: sample.Duration}); err != nil {
				if err != io.ErrClosedPipe {
					s.log.Warn("write sample failed for viewer %s: %v", client.id, err)
				}
				return
			}
		}
	}
}

// RemoveClient disconnects and forgets one viewer.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	client, ok := s.clients[clientID]
	if !ok {
		return
	}
	close(client.closeChan)
	client.peerConn.Close()
	delete(s.clients, clientID)
	s.log.Info("viewer %s disconnected (sent: %d, dropped: %d)", clientID, client.framesSent, client.framesDropped)
}

// ClientCount returns the number of connected viewers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close disconnects every viewer.
func (s *Server) Close() error {
	s.clientsMu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.Unlock()
	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
