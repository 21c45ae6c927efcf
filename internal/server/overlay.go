package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/emberworks/ember/internal/gate"
	"github.com/emberworks/ember/internal/observe"
	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/internal/turn"
	"github.com/emberworks/ember/pkg/audio"
	"github.com/emberworks/ember/pkg/provider/stt"
)

// outboundBuffer is the per-client send queue depth. Audio frames for a
// client that cannot keep up are dropped rather than stalling the hub.
const outboundBuffer = 256

// VoicePipeline bundles the microphone path a single overlay connection
// drives: opus packets in, gated PCM to speech-to-text, filtered finals
// submitted as voice turns.
type VoicePipeline struct {
	stt       stt.Provider
	gate      *gate.AudioGate
	filter    *gate.TranscriptFilter
	submitter Submitter
	language  string
	log       *slog.Logger
}

// NewVoicePipeline creates a VoicePipeline.
func NewVoicePipeline(sttP stt.Provider, g *gate.AudioGate, f *gate.TranscriptFilter, sub Submitter, language string, log *slog.Logger) (*VoicePipeline, error) {
	if sttP == nil || g == nil || f == nil || sub == nil {
		return nil, fmt.Errorf("server: voice pipeline dependencies must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &VoicePipeline{stt: sttP, gate: g, filter: f, submitter: sub, language: language, log: log}, nil
}

// captionMsg is the live transcription feed sent to overlay clients.
type captionMsg struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

type overlayClient struct {
	conn *websocket.Conn
	send chan outbound
}

// enqueue queues a message, dropping it when the client is backed up.
func (c *overlayClient) enqueue(msg outbound) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// overlayHub tracks connected overlay clients and fans state events and
// synthesized audio out to them.
type overlayHub struct {
	state   *state.State
	voice   *VoicePipeline
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	clients map[*overlayClient]struct{}
	closed  bool
}

func newOverlayHub(st *state.State, voice *VoicePipeline, metrics *observe.Metrics, log *slog.Logger) *overlayHub {
	return &overlayHub{
		state:   st,
		voice:   voice,
		metrics: metrics,
		log:     log,
		clients: make(map[*overlayClient]struct{}),
	}
}

// onStateEvent mirrors every state change to all connected clients. It is
// registered as a state listener, so it must not block.
func (h *overlayHub) onStateEvent(ev state.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.broadcast(outbound{typ: websocket.MessageText, data: data})
}

// BroadcastAudio sends a synthesized speech chunk to all overlay clients as
// a binary frame. It satisfies the response pipeline's audio sink.
func (h *overlayHub) BroadcastAudio(chunk []byte) {
	h.broadcast(outbound{typ: websocket.MessageBinary, data: chunk})
}

func (h *overlayHub) broadcast(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.enqueue(msg) {
			h.log.Debug("overlay client backed up, message dropped")
		}
	}
}

// handleConnect upgrades the request and serves the connection until either
// side closes. The connection carries JSON state/caption events and binary
// TTS audio outbound, and binary opus microphone packets inbound.
func (h *overlayHub) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("overlay accept failed", slog.Any("error", err))
		return
	}
	conn.SetReadLimit(1 << 20)

	client := &overlayClient{conn: conn, send: make(chan outbound, outboundBuffer)}
	if !h.register(client) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	ctx := r.Context()
	h.metrics.OverlayClients.Add(ctx, 1)
	h.log.Info("overlay client connected", slog.String("remote", r.RemoteAddr))
	defer func() {
		h.unregister(client)
		h.metrics.OverlayClients.Add(context.Background(), -1)
		h.log.Info("overlay client disconnected", slog.String("remote", r.RemoteAddr))
	}()

	// Greet with the current snapshot so the overlay renders the right
	// avatar state before the first change.
	hello, err := json.Marshal(state.Event{Type: "hello", Snapshot: h.state.Snapshot()})
	if err == nil {
		client.enqueue(outbound{typ: websocket.MessageText, data: hello})
	}

	go h.writeLoop(ctx, client)
	h.readLoop(ctx, client)
}

func (h *overlayHub) register(c *overlayClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *overlayHub) unregister(c *overlayClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// closeAll disconnects every client and refuses new ones.
func (h *overlayHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*overlayClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*overlayClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *overlayHub) writeLoop(ctx context.Context, c *overlayClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			if err := c.conn.Write(ctx, msg.typ, msg.data); err != nil {
				return
			}
		}
	}
}

// readLoop consumes inbound messages. Binary messages are microphone opus
// packets; text messages are ignored. Returns when the connection drops.
func (h *overlayHub) readLoop(ctx context.Context, c *overlayClient) {
	mic := h.startMic(ctx, c)
	if mic != nil {
		defer mic.close()
	}

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary || mic == nil {
			continue
		}
		mic.handlePacket(data)
	}
}

// micSession is the per-connection microphone decode and transcription path.
type micSession struct {
	pipeline *VoicePipeline
	decoder  *audio.OpusDecoder
	session  stt.SessionHandle
	client   *overlayClient
	log      *slog.Logger
}

// startMic opens the STT session for this connection. Returns nil when no
// voice pipeline is configured or the session cannot start; the overlay then
// runs in state-mirror-only mode.
func (h *overlayHub) startMic(ctx context.Context, c *overlayClient) *micSession {
	if h.voice == nil {
		return nil
	}
	decoder, err := audio.NewOpusDecoder()
	if err != nil {
		h.log.Error("opus decoder init failed", slog.Any("error", err))
		return nil
	}
	session, err := h.voice.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   h.voice.language,
	})
	if err != nil {
		h.log.Error("stt session start failed", slog.Any("error", err))
		return nil
	}

	m := &micSession{
		pipeline: h.voice,
		decoder:  decoder,
		session:  session,
		client:   c,
		log:      h.voice.log,
	}
	go m.drainTranscripts(ctx)
	return m
}

// handlePacket decodes one opus packet, runs the gate, and forwards admitted
// audio to speech-to-text resampled to the STT rate.
func (m *micSession) handlePacket(packet []byte) {
	frame, err := m.decoder.Decode(packet)
	if err != nil {
		m.log.Debug("opus decode failed", slog.Any("error", err))
		return
	}
	if !m.pipeline.gate.Admit(frame) {
		return
	}
	pcm := audio.BytesToInt16(frame.Data)
	pcm = audio.Resample(pcm, frame.SampleRate, 16000)
	if err := m.session.SendAudio(audio.Int16ToBytes(pcm)); err != nil {
		m.log.Warn("stt send failed", slog.Any("error", err))
	}
}

// drainTranscripts forwards partials to the client as live captions and
// submits filtered finals as voice turns.
func (m *micSession) drainTranscripts(ctx context.Context) {
	partials := m.session.Partials()
	finals := m.session.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			m.sendCaption(tr.Text, false)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			m.sendCaption(tr.Text, true)
			if !m.pipeline.filter.Admit(tr) {
				continue
			}
			if err := m.pipeline.submitter.Submit(turn.FromVoice(tr.Text)); err != nil {
				m.log.Warn("voice turn rejected", slog.Any("error", err))
			}
		}
	}
}

func (m *micSession) sendCaption(text string, final bool) {
	if text == "" {
		return
	}
	data, err := json.Marshal(captionMsg{Type: "caption", Text: text, Final: final})
	if err != nil {
		return
	}
	m.client.enqueue(outbound{typ: websocket.MessageText, data: data})
}

func (m *micSession) close() {
	if err := m.session.Close(); err != nil {
		m.log.Debug("stt session close", slog.Any("error", err))
	}
}
