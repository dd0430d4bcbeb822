package hub

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HandlerFunc processes one inbound message and returns the reply, or nil
// when the event produces none. A returned error becomes an error reply if
// the message carried an id.
type HandlerFunc func(ctx context.Context, conn *Conn, msg *Message) (*Message, error)

// Dispatcher routes inbound messages by event name through a fixed table
// built at startup. There is no dynamic registration.
type Dispatcher struct {
	handlers *Handlers
	table    map[string]HandlerFunc
}

func NewDispatcher(handlers *Handlers) *Dispatcher {
	d := &Dispatcher{handlers: handlers}
	d.table = map[string]HandlerFunc{
		"execute_code":            handlers.ExecuteCode,
		"read_file_from_project":  handlers.ReadFile,
		"write_file_to_project":   handlers.WriteFile,
		"print_to_pdf":            handlers.PrintToPdf,
		"jupyter_kernels":         handlers.JupyterKernels,
		"jupyter_execute":         handlers.JupyterExecute,
		"send_signal":             handlers.SendSignal,
		"save_blob":               handlers.SaveBlob,
		"ping":                    handlers.Ping,
	}
	return d
}

// Handle routes one message. Unknown events with an id get an explicit
// error reply naming the project and event; unknown events without an id
// are dropped silently, since the sender has no way to correlate a reply.
// Handlers run in their own goroutine so a slow command never stalls the
// connection's read loop.
func (d *Dispatcher) Handle(ctx context.Context, conn *Conn, msg *Message) {
	handler, ok := d.table[msg.Event]
	if !ok {
		if msg.Id == "" {
			log.Debug().Str("project_id", conn.ProjectId).Str("event", msg.Event).Msg("dropping unknown event without id")
			return
		}
		d.send(conn, ErrorReply(msg.Id, "hub has no handler for event %q from project %s", msg.Event, conn.ProjectId))
		return
	}

	go func() {
		reply, err := handler(ctx, conn, msg)
		if err != nil {
			log.Error().Err(err).Str("project_id", conn.ProjectId).Str("event", msg.Event).Msg("handler failed")
			if msg.Id != "" {
				d.send(conn, ErrorReply(msg.Id, "%v", err))
			}
			return
		}
		if reply != nil {
			reply.Id = msg.Id
			d.send(conn, reply)
		}
	}()
}

// HandleBlob stores a raw blob frame: a 16-byte uuid followed by the blob
// bytes. Malformed frames are dropped.
func (d *Dispatcher) HandleBlob(ctx context.Context, conn *Conn, payload []byte) {
	if len(payload) <= BlobIdLength {
		log.Warn().Str("project_id", conn.ProjectId).Int("size", len(payload)).Msg("dropping truncated blob frame")
		return
	}

	id, err := uuid.FromBytes(payload[:BlobIdLength])
	if err != nil {
		log.Warn().Err(err).Str("project_id", conn.ProjectId).Msg("dropping blob frame with malformed id")
		return
	}
	blobId := id.String()
	data := payload[BlobIdLength:]

	go func() {
		if err := d.handlers.StoreBlob(ctx, conn.ProjectId, blobId, data); err != nil {
			log.Error().Err(err).Str("project_id", conn.ProjectId).Str("blob_id", blobId).Msg("failed to store blob")
		}
	}()
}

func (d *Dispatcher) send(conn *Conn, msg *Message) {
	if err := conn.Send(msg); err != nil {
		log.Warn().Err(err).Str("project_id", conn.ProjectId).Msg("failed to send reply")
	}
}
