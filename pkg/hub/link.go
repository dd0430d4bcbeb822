package hub

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ClaraKoka/cocalc/pkg/common"
	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

const handshakeTimeout = 10 * time.Second

// Conn is one authenticated project connection.
type Conn struct {
	Id        string
	ProjectId string

	nc            net.Conn
	reader        *bufio.Reader
	writeMu       sync.Mutex
	lastHeartbeat time.Time
	hbMu          sync.Mutex
}

// Send writes one JSON message frame. Safe for concurrent use; handler
// goroutines serialize on the connection's write lock.
func (c *Conn) Send(msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.nc, FrameJSON, payload)
}

func (c *Conn) touch() {
	c.hbMu.Lock()
	c.lastHeartbeat = time.Now()
	c.hbMu.Unlock()
}

// LastHeartbeat reports when the connection last proved liveness.
func (c *Conn) LastHeartbeat() time.Time {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	return c.lastHeartbeat
}

// Close tears the connection down.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Link accepts project connections, authenticates them against the secret
// token stored on the project record, and feeds decoded messages to the
// dispatcher. At most one connection per project is active at a time; a
// newer authenticated connection replaces and closes the older one.
type Link struct {
	config     types.HubConfig
	repo       repository.ProjectRepository
	dispatcher *Dispatcher

	mu       sync.Mutex
	active   map[string]*Conn
	listener net.Listener
}

func NewLink(config types.HubConfig, repo repository.ProjectRepository, dispatcher *Dispatcher) *Link {
	return &Link{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
		active:     make(map[string]*Conn),
	}
}

// Active returns the current connection for a project, if any.
func (l *Link) Active(projectId string) (*Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.active[projectId]
	return conn, ok
}

// Serve listens on the configured address until the context is canceled.
func (l *Link) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", l.config.LinkAddr)
	if err != nil {
		return err
	}
	l.listener = listener

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info().Str("addr", l.config.LinkAddr).Msg("project link listening")

	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("link accept failed")
			continue
		}

		go l.handleConn(ctx, nc)
	}
}

func (l *Link) handleConn(ctx context.Context, nc net.Conn) {
	conn, err := l.authenticate(ctx, nc)
	if err != nil {
		// Failed handshakes get no reply of any kind; the socket is
		// simply destroyed.
		log.Warn().Err(err).Str("remote", nc.RemoteAddr().String()).Msg("link handshake rejected")
		nc.Close()
		return
	}

	l.register(conn)
	defer l.unregister(conn)

	log.Info().Str("project_id", conn.ProjectId).Str("conn_id", conn.Id).Msg("project connected")

	for {
		if l.config.HeartbeatTimeout > 0 {
			nc.SetReadDeadline(time.Now().Add(l.config.HeartbeatTimeout))
		}

		frame, err := ReadFrame(conn.reader)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Info().Err(err).Str("project_id", conn.ProjectId).Msg("project connection closed")
			}
			return
		}

		conn.touch()

		switch frame.Type {
		case FrameHeartbeat:
			// Liveness only. Heartbeats never reach the dispatcher.
			if err := l.repo.SetProjectKeepAlive(ctx, conn.ProjectId); err != nil {
				log.Warn().Err(err).Str("project_id", conn.ProjectId).Msg("failed to refresh keepalive")
			}
		case FrameJSON:
			msg, err := DecodeMessage(frame.Payload)
			if err != nil {
				log.Warn().Err(err).Str("project_id", conn.ProjectId).Msg("dropping malformed message")
				continue
			}
			l.dispatcher.Handle(ctx, conn, msg)
		case FrameBlob:
			l.dispatcher.HandleBlob(ctx, conn, frame.Payload)
		default:
			log.Warn().Str("project_id", conn.ProjectId).Str("type", string(frame.Type)).Msg("dropping frame of unknown type")
		}
	}
}

// authenticate reads the mandatory first frame and verifies the secret
// against the project record. Any deviation fails the handshake.
func (l *Link) authenticate(ctx context.Context, nc net.Conn) (*Conn, error) {
	nc.SetReadDeadline(time.Now().Add(handshakeTimeout))

	reader := bufio.NewReader(nc)
	frame, err := ReadFrame(reader)
	if err != nil {
		return nil, err
	}
	if frame.Type != FrameSecret {
		return nil, errors.New("first frame is not a handshake")
	}

	var payload HandshakePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return nil, errors.New("malformed handshake payload")
	}
	if payload.ProjectId == "" {
		return nil, errors.New("handshake without project id")
	}
	if len(payload.Secret) < types.MinSecretTokenLength {
		return nil, errors.New("handshake secret below minimum length")
	}

	record, err := l.repo.GetProject(ctx, payload.ProjectId)
	if err != nil {
		return nil, err
	}
	if len(record.SecretToken) < types.MinSecretTokenLength {
		return nil, errors.New("project has no usable secret token")
	}
	if subtle.ConstantTimeCompare([]byte(payload.Secret), []byte(record.SecretToken)) != 1 {
		return nil, errors.New("handshake secret mismatch")
	}

	nc.SetReadDeadline(time.Time{})

	conn := &Conn{
		Id:        common.GenerateConnectionID(),
		ProjectId: payload.ProjectId,
		nc:        nc,
		reader:    reader,
	}
	conn.touch()
	return conn, nil
}

func (l *Link) register(conn *Conn) {
	l.mu.Lock()
	previous := l.active[conn.ProjectId]
	l.active[conn.ProjectId] = conn
	l.mu.Unlock()

	if previous != nil {
		log.Info().Str("project_id", conn.ProjectId).Str("conn_id", previous.Id).Msg("replacing stale project connection")
		previous.Close()
	}
}

func (l *Link) unregister(conn *Conn) {
	l.mu.Lock()
	if l.active[conn.ProjectId] == conn {
		delete(l.active, conn.ProjectId)
	}
	l.mu.Unlock()

	conn.Close()
}
