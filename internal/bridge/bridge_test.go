package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeExec is a blocking duplex stream backed by pipes, like the engine's
// hijacked attach connection.
type fakeExec struct {
	outR *io.PipeReader // bridge reads container output here
	outW *io.PipeWriter // test writes "container output" here
	inR  *io.PipeReader // test reads "container input" here
	inW  *io.PipeWriter // bridge writes keystrokes here

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeExec() *fakeExec {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	return &fakeExec{outR: outR, outW: outW, inR: inR, inW: inW, closed: make(chan struct{})}
}

func (f *fakeExec) Read(p []byte) (int, error)  { return f.outR.Read(p) }
func (f *fakeExec) Write(p []byte) (int, error) { return f.inW.Write(p) }

func (f *fakeExec) Close() error {
	f.closeOnce.Do(func() {
		f.outR.Close()
		f.outW.Close()
		f.inR.Close()
		f.inW.Close()
		close(f.closed)
	})
	return nil
}

// fakeClient is an in-memory ClientConn.
type fakeClient struct {
	incoming chan []byte // frames the "client" sends

	mu       sync.Mutex
	received [][]byte // frames written toward the client

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeClient) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.incoming:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeClient) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, append([]byte(nil), data...))
	return nil
}

func (f *fakeClient) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeClient) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

func runBridge(t *testing.T, client *fakeClient, exec *fakeExec) chan struct{} {
	t.Helper()
	b := New("inst-1", client, exec, testLogger())
	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()
	return done
}

func TestDownstreamRelaysOutput(t *testing.T) {
	client := newFakeClient()
	exec := newFakeExec()
	done := runBridge(t, client, exec)

	_, err := exec.outW.Write([]byte("uid=0(root)\r\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, frame := range client.frames() {
			if string(frame) == "uid=0(root)\r\n" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	exec.Close()
	waitDone(t, done)
}

func TestDownstreamReplacesInvalidUTF8(t *testing.T) {
	client := newFakeClient()
	exec := newFakeExec()
	done := runBridge(t, client, exec)

	// Raw terminal bytes with a broken multi-byte sequence.
	_, err := exec.outW.Write([]byte{'o', 'k', 0xff, 0xfe, '!'})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, frame := range client.frames() {
			if string(frame) == "ok��!" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	exec.Close()
	waitDone(t, done)
}

func TestUpstreamRelaysKeystrokes(t *testing.T) {
	client := newFakeClient()
	exec := newFakeExec()
	done := runBridge(t, client, exec)

	client.incoming <- []byte("whoami\n")

	buf := make([]byte, 64)
	n, err := exec.inR.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "whoami\n", string(buf[:n]))

	client.Close()
	waitDone(t, done)
}

func TestClientDisconnectReleasesExec(t *testing.T) {
	client := newFakeClient()
	exec := newFakeExec()
	done := runBridge(t, client, exec)

	// Client goes away; the blocked exec read must be released promptly and
	// the whole bridge torn down, leaking no pump goroutine.
	close(client.incoming)

	waitDone(t, done)
	select {
	case <-exec.closed:
	default:
		t.Fatal("exec session was not released on client disconnect")
	}
}

func TestExecEOFClosesClient(t *testing.T) {
	client := newFakeClient()
	exec := newFakeExec()
	done := runBridge(t, client, exec)

	// Shell exits: downstream sees EOF, client side must be closed.
	exec.outW.Close()

	waitDone(t, done)
	select {
	case <-client.closed:
	default:
		t.Fatal("client connection was not closed on exec EOF")
	}
}

func TestContextCancelTearsDown(t *testing.T) {
	client := newFakeClient()
	exec := newFakeExec()
	b := New("inst-1", client, exec, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	cancel()
	waitDone(t, done)
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not terminate in time")
	}
}
