package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClaraKoka/cocalc/pkg/repository"
	"github.com/ClaraKoka/cocalc/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newLinkForTest(t *testing.T, heartbeatTimeout time.Duration) (*Link, *repository.ProjectRedisRepository) {
	t.Helper()

	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	repo := repository.NewProjectRedisRepositoryForTest(rdb)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proj-test"), 0755))

	handlers := &Handlers{
		ProjectsRoot: root,
		Blobs:        newCountingStore(),
		BlobIndex:    repo,
	}

	link := NewLink(types.HubConfig{HeartbeatTimeout: heartbeatTimeout}, repo, NewDispatcher(handlers))
	return link, repo
}

func seedProject(t *testing.T, repo *repository.ProjectRedisRepository, secret string) {
	t.Helper()
	require.NoError(t, repo.SaveProject(context.Background(), &types.ProjectRecord{
		Id:          "proj-test",
		State:       types.ProjectStateRunning,
		Host:        "hub-1",
		SecretToken: secret,
	}))
}

// dial spins up handleConn on one end of a pipe and hands the test the
// other end.
func dial(t *testing.T, link *Link) net.Conn {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	go link.handleConn(context.Background(), server)
	return client
}

func sendHandshake(t *testing.T, client net.Conn, projectId, secret string) {
	t.Helper()

	payload, err := json.Marshal(HandshakePayload{ProjectId: projectId, Secret: secret})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(client, FrameSecret, payload))
}

func sendMessage(t *testing.T, client net.Conn, msg *Message) {
	t.Helper()

	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(client, FrameJSON, payload))
}

func expectClosed(t *testing.T, client net.Conn) {
	t.Helper()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := ReadFrame(bufio.NewReader(client))
	assert.Error(t, err, "connection should be closed without any reply")
}

func TestHandshakeWrongSecretDestroysConnection(t *testing.T) {
	link, repo := newLinkForTest(t, 0)
	seedProject(t, repo, testSecret)

	client := dial(t, link)
	sendHandshake(t, client, "proj-test", "ffffffffffffffffffffffffffffffff")

	expectClosed(t, client)
	_, active := link.Active("proj-test")
	assert.False(t, active)
}

func TestHandshakeShortSecretRejected(t *testing.T) {
	link, repo := newLinkForTest(t, 0)
	seedProject(t, repo, testSecret)

	client := dial(t, link)
	sendHandshake(t, client, "proj-test", "short")

	expectClosed(t, client)
}

func TestHandshakeUnknownProjectRejected(t *testing.T) {
	link, _ := newLinkForTest(t, 0)

	client := dial(t, link)
	sendHandshake(t, client, "proj-ghost", testSecret)

	expectClosed(t, client)
}

func TestFirstFrameMustBeHandshake(t *testing.T) {
	link, repo := newLinkForTest(t, 0)
	seedProject(t, repo, testSecret)

	client := dial(t, link)
	// An otherwise valid message must not be dispatched before auth.
	sendMessage(t, client, &Message{Event: "ping", Id: "req-1"})

	expectClosed(t, client)
}

func TestAuthenticatedPingRoundTrip(t *testing.T) {
	link, repo := newLinkForTest(t, 0)
	seedProject(t, repo, testSecret)

	client := dial(t, link)
	sendHandshake(t, client, "proj-test", testSecret)
	sendMessage(t, client, &Message{Event: "ping", Id: "req-1"})

	reply := readReply(t, client)
	assert.Equal(t, "pong", reply.Event)
	assert.Equal(t, "req-1", reply.Id)

	_, active := link.Active("proj-test")
	assert.True(t, active)
}

func TestHeartbeatRefreshesLivenessWithoutDispatch(t *testing.T) {
	link, repo := newLinkForTest(t, 0)
	seedProject(t, repo, testSecret)

	client := dial(t, link)
	sendHandshake(t, client, "proj-test", testSecret)

	var conn *Conn
	require.Eventually(t, func() bool {
		var ok bool
		conn, ok = link.Active("proj-test")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	before := conn.LastHeartbeat()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, WriteFrame(client, FrameHeartbeat, nil))

	assert.Eventually(t, func() bool {
		return conn.LastHeartbeat().After(before)
	}, 2*time.Second, 10*time.Millisecond)

	// Heartbeats produce no reply.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err := ReadFrame(bufio.NewReader(client))
	assert.Error(t, err)
}

func TestNewerConnectionReplacesOlder(t *testing.T) {
	link, repo := newLinkForTest(t, 0)
	seedProject(t, repo, testSecret)

	first := dial(t, link)
	sendHandshake(t, first, "proj-test", testSecret)

	require.Eventually(t, func() bool {
		_, ok := link.Active("proj-test")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	firstConn, _ := link.Active("proj-test")

	second := dial(t, link)
	sendHandshake(t, second, "proj-test", testSecret)

	require.Eventually(t, func() bool {
		conn, ok := link.Active("proj-test")
		return ok && conn != firstConn
	}, 2*time.Second, 10*time.Millisecond)

	// The older connection was closed when the newer one registered.
	expectClosed(t, first)

	// The newer connection still serves traffic.
	sendMessage(t, second, &Message{Event: "ping", Id: "req-2"})
	reply := readReply(t, second)
	assert.Equal(t, "pong", reply.Event)
}

func TestHeartbeatTimeoutClosesConnection(t *testing.T) {
	link, repo := newLinkForTest(t, 200*time.Millisecond)
	seedProject(t, repo, testSecret)

	client := dial(t, link)
	sendHandshake(t, client, "proj-test", testSecret)

	// No heartbeats: the read deadline fires and the hub drops the
	// connection.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := ReadFrame(bufio.NewReader(client))
	assert.Error(t, err)

	assert.Eventually(t, func() bool {
		_, ok := link.Active("proj-test")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
