package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
	"github.com/zeusync/crdtsync/internal/core/scene"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// peer is one WebSocket connection attached to a scene.
type peer struct {
	id     string
	scene  scene.ID
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger log.Log
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// enqueue never blocks; a peer that cannot keep up is disconnected.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	case p.send <- frame:
		return true
	default:
		p.logger.Warn("Dropping slow peer", log.Err(ErrSlowPeer))
		p.close()
		return false
	}
}

type rooms struct {
	mx    sync.Mutex
	peers map[scene.ID]map[*peer]struct{}
}

func newRooms() *rooms {
	return &rooms{peers: make(map[scene.ID]map[*peer]struct{})}
}

// join registers p and queues its first frame under the room lock, so the
// first frame always precedes any broadcast the peer receives.
func (r *rooms) join(p *peer, first func() ([]byte, error)) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	frame, err := first()
	if err != nil {
		return err
	}
	if !p.enqueue(frame) {
		return ErrSlowPeer
	}

	room, ok := r.peers[p.scene]
	if !ok {
		room = make(map[*peer]struct{})
		r.peers[p.scene] = room
	}
	room[p] = struct{}{}
	return nil
}

func (r *rooms) leave(p *peer) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if room, ok := r.peers[p.scene]; ok {
		delete(room, p)
		if len(room) == 0 {
			delete(r.peers, p.scene)
		}
	}
}

// broadcast queues frame for every peer of the scene except from.
func (r *rooms) broadcast(from *peer, frame []byte) int {
	r.mx.Lock()
	defer r.mx.Unlock()

	n := 0
	for p := range r.peers[from.scene] {
		if p != from && p.enqueue(frame) {
			n++
		}
	}
	return n
}

func (r *rooms) count(id scene.ID) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.peers[id])
}

func (r *rooms) closeRoom(id scene.ID) {
	r.mx.Lock()
	room := r.peers[id]
	delete(r.peers, id)
	r.mx.Unlock()

	for p := range room {
		p.close()
	}
}

func (r *rooms) closeAll() {
	r.mx.Lock()
	all := r.peers
	r.peers = make(map[scene.ID]map[*peer]struct{})
	r.mx.Unlock()

	for _, room := range all {
		for p := range room {
			p.close()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := sceneID(r)
	sc, err := s.hub.Open(r.Context(), id)
	if err != nil {
		s.writeSceneError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", log.Err(err))
		return
	}
	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}

	p := &peer{
		id:    uuid.NewString(),
		scene: id,
		conn:  conn,
		send:  make(chan []byte, s.config.SendQueue),
		done:  make(chan struct{}),
	}
	p.logger = s.logger.With(log.String("scene", string(id)), log.String("peer", p.id))

	if err := s.rooms.join(p, sc.State); err != nil {
		p.logger.Error("Failed to join scene", log.Err(err))
		p.close()
		return
	}
	p.logger.Info("Peer connected", log.String("remote", conn.RemoteAddr().String()))

	go s.writePump(p)
	s.readPump(r.Context(), p, sc)
}

func (s *Server) readPump(ctx context.Context, p *peer, sc *scene.Scene) {
	stream := sc.NewStream()
	defer func() {
		s.rooms.leave(p)
		stream.Close()
		p.close()
		p.logger.Info("Peer disconnected")
	}()

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("Read failed", log.Err(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			p.logger.Debug("Ignoring non-binary frame", log.Int("type", kind))
			continue
		}

		report, err := stream.Write(data)
		if err != nil {
			if errors.Is(err, scene.ErrSceneClosed) {
				return
			}
			p.logger.Warn("Inbound data rejected", log.Err(err))
		}
		if len(report.Forward) > 0 {
			s.rooms.broadcast(p, report.Forward)
		}
	}
}

func (s *Server) writePump(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			if s.config.WriteTimeout > 0 {
				_ = p.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			}
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				p.logger.Warn("Write failed", log.Err(err))
				p.close()
				return
			}
		}
	}
}
