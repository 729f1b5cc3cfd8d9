package docker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-hoffmann/labrange/internal/config"
)

// fakeEngine is an http.RoundTripper standing in for the engine API: the
// image is absent until it has been pulled once.
type fakeEngine struct {
	mu      sync.Mutex
	creates int
	pulls   int
	starts  int
}

func (f *fakeEngine) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := req.URL.Path
	switch {
	case strings.HasSuffix(path, "/images/create"):
		f.pulls++
		return jsonResponse(http.StatusOK, ``), nil

	case strings.HasSuffix(path, "/containers/create"):
		f.creates++
		if f.pulls == 0 {
			return jsonResponse(http.StatusNotFound, `{"message":"No such image: labs/sqli:latest"}`), nil
		}
		return jsonResponse(http.StatusCreated, `{"Id":"abc123","Warnings":[]}`), nil

	case strings.HasSuffix(path, "/start"):
		f.starts++
		return jsonResponse(http.StatusNoContent, ``), nil
	}
	return jsonResponse(http.StatusNotFound, `{"message":"unexpected request: `+path+`"}`), nil
}

func jsonResponse(status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newFakeEngineClient(t *testing.T, engine *fakeEngine) *Client {
	t.Helper()
	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://stub:2375"),
		client.WithHTTPClient(&http.Client{Transport: engine}),
		client.WithVersion("1.44"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return &Client{docker: cli}
}

func TestCreateContainerPullsMissingImageOnce(t *testing.T) {
	engine := &fakeEngine{}
	c := newFakeEngineClient(t, engine)

	id, err := c.CreateContainer(context.Background(), CreateOpts{
		InstanceID: "a1b2c3d4e5f0",
		OwnerID:    "alice",
		LabID:      "sql-injection-101",
		Image:      "labs/sqli:latest",
		Command:    []string{"tail", "-f", "/dev/null"},
		Limits:     config.Limits{CPULimit: 0.5, MemLimitMB: 512, PidsLimit: 256},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	// First create fails on the absent image, exactly one pull, then the
	// retried create succeeds and the container is started.
	assert.Equal(t, 2, engine.creates)
	assert.Equal(t, 1, engine.pulls)
	assert.Equal(t, 1, engine.starts)
}

func TestClassifyCreateError_ResourceExhausted(t *testing.T) {
	err := classifyCreateError(errors.New("mkdir /var/lib/docker/overlay2: no space left on device"))
	assert.ErrorIs(t, err, ErrResourceExhausted)

	err = classifyCreateError(errors.New("fork/exec: cannot allocate memory"))
	assert.ErrorIs(t, err, ErrResourceExhausted)

	err = classifyCreateError(errors.New("insufficient memory to satisfy request"))
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestClassifyCreateError_Generic(t *testing.T) {
	err := classifyCreateError(errors.New("invalid mount config"))
	assert.NotErrorIs(t, err, ErrResourceExhausted)
	assert.NotErrorIs(t, err, ErrImageNotFound)
	assert.Contains(t, err.Error(), "container create")
}
