package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/chatrelay/internal/config"
	"github.com/xiaot623/chatrelay/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:         "cli-secret",
		AuthPassword:      "pw",
		TokenTTL:          time.Hour,
		Mode:              config.ModeMock,
		StoreBackend:      config.StoreMemory,
		PingInterval:      time.Second,
		WriteTimeout:      time.Second,
		ReadTimeout:       5 * time.Second,
		MaxMessageSize:    65536,
		MessagesPerSecond: 100,
		MessageBurst:      10,
		MaxMessageChars:   1000,
		Models: []domain.ModelConfig{
			{ID: "deepseek1", Order: 1},
			{ID: "deepseek2", Order: 2},
		},
	}
}

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()

	srv, err := wireServer(context.Background(), testConfig())
	require.NoError(t, err)
	go srv.hub.Run()

	ts := httptest.NewServer(srv.echo)
	t.Cleanup(func() {
		ts.Close()
		srv.hub.Stop()
		_ = srv.store.Close()
	})
	return ts
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestChatStreamsEveryModel(t *testing.T) {
	ts := startRelay(t)

	stdout, _, err := executeCLI(t, "hello\n/quit\n", "chat", "--url", ts.URL, "--password", "pw")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Session created: ")
	assert.Contains(t, stdout, "[1] deepseek1")
	assert.Contains(t, stdout, "[2] deepseek2")
	assert.Contains(t, stdout, `[MOCK deepseek1] Received your message: "hello".`)
	assert.Contains(t, stdout, `[MOCK deepseek2] Received your message: "hello".`)
	assert.Less(t, strings.Index(stdout, "[1] deepseek1"), strings.Index(stdout, "[2] deepseek2"))
	assert.Contains(t, stdout, "Bye!")
}

func TestChatResumesSession(t *testing.T) {
	ts := startRelay(t)

	stdout, _, err := executeCLI(t, "hello\n/quit\n", "chat", "--url", ts.URL, "--password", "pw")
	require.NoError(t, err)
	line := stdout[strings.Index(stdout, "Session created: "):]
	sessionID := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(line, "Session created: "), "\n", 2)[0])

	stdout, _, err = executeCLI(t, "/quit\n", "chat", "--url", ts.URL, "--password", "pw", "--session", sessionID)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Session resumed: "+sessionID+" (3 messages)")
}

func TestChatRejectsWrongPassword(t *testing.T) {
	ts := startRelay(t)

	_, _, err := executeCLI(t, "", "chat", "--url", ts.URL, "--password", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect password")
}

func TestChatRequiresPassword(t *testing.T) {
	_, _, err := executeCLI(t, "", "chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "password" not set`)
}

func TestChatReportsUnknownSession(t *testing.T) {
	ts := startRelay(t)

	_, _, err := executeCLI(t, "", "chat", "--url", ts.URL, "--password", "pw", "--session", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Session not found")
}

func TestWireServerRejectsBadPolicyFile(t *testing.T) {
	cfg := testConfig()
	cfg.PolicyFile = t.TempDir() + "/missing.rego"

	_, err := wireServer(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire policy engine")
}

func TestRunServerStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestReadTurnSkipsOtherSessions(t *testing.T) {
	frames := make(chan []byte, 8)
	frames <- []byte(`{"type":"receive_message","sessionId":"a","modelId":"m1","message":"stale","isComplete":false,"order":1,"timestamp":"2024-03-01T08:30:00Z"}`)
	frames <- []byte(`{"type":"all_responses_complete","sessionId":"a"}`)
	frames <- []byte(`{"type":"receive_message","sessionId":"b","modelId":"m1","message":"fresh","isComplete":false,"order":1,"timestamp":"2024-03-01T08:30:00Z"}`)
	frames <- []byte(`{"type":"receive_message","sessionId":"b","modelId":"m1","message":"","isComplete":true,"order":1,"timestamp":"2024-03-01T08:30:01Z"}`)
	frames <- []byte(`{"type":"all_responses_complete","sessionId":"b"}`)
	close(frames)

	out := &bytes.Buffer{}
	require.NoError(t, readTurn(frames, "b", out))

	assert.Contains(t, out.String(), "[1] m1")
	assert.Contains(t, out.String(), "fresh")
	assert.NotContains(t, out.String(), "stale")
	assert.Contains(t, out.String(), time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC).Local().Format(time.TimeOnly))
}
