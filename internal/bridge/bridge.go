package bridge

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ClientConn is the client-facing duplex transport, the subset of
// *websocket.Conn the bridge uses.
type ClientConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ExecStream is an interactive exec session: a blocking duplex byte stream.
// Close must unblock a concurrent Read.
type ExecStream interface {
	io.ReadWriteCloser
}

// Bridge relays bytes between a client transport and a container exec
// session. The exec side is a blocking socket, so each pump runs on its own
// goroutine; a hung or silent container ties up only this bridge's
// goroutine, never the sessions of other users.
type Bridge struct {
	instanceID string
	client     ClientConn
	exec       ExecStream
	logger     *slog.Logger

	closeOnce sync.Once
}

func New(instanceID string, client ClientConn, exec ExecStream, logger *slog.Logger) *Bridge {
	return &Bridge{
		instanceID: instanceID,
		client:     client,
		exec:       exec,
		logger:     logger,
	}
}

// Run pumps both directions until either side closes, then tears the whole
// bridge down. There is no partial-shutdown state: on return both the exec
// session and the client transport are closed.
func (b *Bridge) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		b.pumpDownstream()
		// Exec EOF or error: closing the client unblocks the upstream pump.
		b.shutdown()
	}()

	go func() {
		defer wg.Done()
		b.pumpUpstream()
		// Client disconnect: closing the exec session unblocks the
		// downstream pump's blocking read.
		b.shutdown()
	}()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.shutdown()
		case <-stop:
		}
	}()

	wg.Wait()
	close(stop)
	b.logger.Info("terminal bridge closed", "instance_id", b.instanceID)
}

func (b *Bridge) shutdown() {
	b.closeOnce.Do(func() {
		b.exec.Close()
		b.client.Close()
	})
}

// pumpDownstream relays container output to the client. Reads block on the
// exec socket; each chunk is decoded permissively (invalid sequences are
// replaced, never fatal) and forwarded as a text frame.
func (b *Bridge) pumpDownstream() {
	buf := make([]byte, 4096)
	for {
		n, err := b.exec.Read(buf)
		if n > 0 {
			text := strings.ToValidUTF8(string(buf[:n]), "�")
			if werr := b.client.WriteMessage(websocket.TextMessage, []byte(text)); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				b.logger.Debug("exec read ended", "instance_id", b.instanceID, "error", err)
			}
			return
		}
	}
}

// pumpUpstream relays client keystrokes to the container. Frames pass
// through as raw bytes with no envelope.
func (b *Bridge) pumpUpstream() {
	for {
		_, data, err := b.client.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("client read ended", "instance_id", b.instanceID, "error", err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if _, err := b.exec.Write(data); err != nil {
			return
		}
	}
}
