package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fitsocial/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"seed", "token", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("secret"))
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "u1", "--secret", testSecret, "--ttl", "5m")
	require.NoError(t, err)

	sub, err := middleware.ParseToken(testSecret, strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	_, err = execute(t, "token")
	assert.Error(t, err)
}

func useSQLiteConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "friends.db"))
	t.Setenv("JWT_SECRET", testSecret)
}

func TestSeedCommand_Fixture(t *testing.T) {
	useSQLiteConfig(t)
	fixture := filepath.Join(t.TempDir(), "fixture.yml")
	require.NoError(t, os.WriteFile(fixture, []byte(`
profiles:
  - id: u1
    username: ada
  - id: u2
    username: grace
friendships:
  - requester: u1
    addressee: u2
    status: accepted
`), 0o600))

	out, err := execute(t, "seed", "--fixture", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 profiles, 1 friendships (0 skipped)")

	out, err = execute(t, "seed", "--fixture", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 skipped)")

	out, err = execute(t, "seed", "--fixture", fixture, "--clean")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 skipped)")

	// the seeded profile passes the token check, an unknown one does not
	_, err = execute(t, "token", "u1", "--check")
	assert.NoError(t, err)
	_, err = execute(t, "token", "nobody", "--check")
	assert.Error(t, err)
}

func TestSeedCommand_Generated(t *testing.T) {
	useSQLiteConfig(t)

	out, err := execute(t, "seed", "--profiles", "5", "--edges", "2", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 5 profiles")

	_, err = execute(t, "seed", "--accepted", "2")
	assert.Error(t, err)
}

func TestWatchURL(t *testing.T) {
	got, err := watchURL("http://localhost:8375", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8375/api/ws?token=abc", got)

	got, err = watchURL("wss://friends.example.com", "a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://friends.example.com/api/ws?token=a+b", got)

	_, err = watchURL("ftp://x", "t")
	assert.Error(t, err)
}

func TestWatchCommand_PrintsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	tokens := make(chan string, 1)
	terms := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		var msg map[string]string
		if err := conn.ReadJSON(&msg); err == nil {
			terms <- msg["term"]
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"friend-invite"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"friend-search"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "watch", "--server", srv.URL, "--user", "u1", "--secret", testSecret,
		"--search", "ada", "-n", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{`{"type":"friend-invite"}`, `{"type":"friend-search"}`}, lines)
	assert.Equal(t, "ada", <-terms)
	sub, err := middleware.ParseToken(testSecret, <-tokens)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}

func TestWatchCommand_RequiresIdentity(t *testing.T) {
	_, err := execute(t, "watch", "--server", "ws://127.0.0.1:1")
	assert.Error(t, err)
}
