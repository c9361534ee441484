// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package distribution

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvscribe/internal/recognition"
)

type fakeDistributor struct {
	mu     sync.Mutex
	ok     bool
	calls  int
	got    [][]string
	titles []string
}

func (f *fakeDistributor) Name() string { return "fake" }

func (f *fakeDistributor) Deliver(_ context.Context, paths []string, caption string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = append(f.got, paths)
	f.titles = append(f.titles, caption)
	return f.ok
}

type mockDistributor struct{ mock.Mock }

func (m *mockDistributor) Name() string { return "mock" }

func (m *mockDistributor) Deliver(ctx context.Context, paths []string, caption string) bool {
	return m.Called(ctx, paths, caption).Bool(0)
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTelegram_Deliver(t *testing.T) {
	type call struct {
		method, field, chat, caption, body string
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		c := call{
			method:  r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:],
			chat:    r.FormValue("chat_id"),
			caption: r.FormValue("caption"),
		}
		for field, files := range r.MultipartForm.File {
			f, err := files[0].Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			_ = f.Close()
			c.field, c.body = field, string(data)
		}
		assert.True(t, strings.HasPrefix(r.URL.Path, "/botTOKEN/"))
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BaseURL: srv.URL, Token: "TOKEN", ChatID: "42", RatePerMinute: 6000})
	require.NoError(t, err)

	dir := t.TempDir()
	img := writeFile(t, filepath.Join(dir, "a.png"), "image")
	clip := writeFile(t, filepath.Join(dir, "b.mp4"), "video")

	require.True(t, tg.Deliver(context.Background(), []string{img, clip}, "Storm warning"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, call{method: "sendPhoto", field: "photo", chat: "42", caption: "Storm warning", body: "image"}, calls[0])
	assert.Equal(t, call{method: "sendVideo", field: "video", chat: "42", body: "video"}, calls[1])
}

func TestTelegram_DeliverFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{BaseURL: srv.URL, Token: "T", ChatID: "1", RatePerMinute: 6000})
	require.NoError(t, err)
	doc := writeFile(t, filepath.Join(t.TempDir(), "notes.txt"), "x")
	assert.False(t, tg.Deliver(context.Background(), []string{doc}, ""))
	assert.False(t, tg.Deliver(context.Background(), nil, "empty"))
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{Token: "x"})
	assert.Error(t, err)
}

func TestTruncateCaption(t *testing.T) {
	long := strings.Repeat("я", maxCaption+10)
	got := truncateCaption(long)
	assert.Equal(t, maxCaption, len([]rune(got)))
	assert.Equal(t, "short", truncateCaption("short"))
}

func TestOutbox_Deliver(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	a := writeFile(t, filepath.Join(src, "a.png"), "A")

	ob := NewOutbox(out)
	require.True(t, ob.Deliver(context.Background(), []string{a}, "caption text"))
	assert.FileExists(t, a, "outbox copies, the dispatcher deletes")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), "."))

	delivered := filepath.Join(out, entries[0].Name())
	data, err := os.ReadFile(filepath.Join(delivered, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
	caption, err := os.ReadFile(filepath.Join(delivered, "caption.txt"))
	require.NoError(t, err)
	assert.Equal(t, "caption text", string(caption))
}

func TestOutbox_MissingSourceLeavesNothing(t *testing.T) {
	out := t.TempDir()
	ob := NewOutbox(out)
	assert.False(t, ob.Deliver(context.Background(), []string{filepath.Join(t.TempDir(), "gone.png")}, ""))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatcher_ForwardDeletesOnSuccess(t *testing.T) {
	ready := t.TempDir()
	p := writeFile(t, filepath.Join(ready, "x.png"), "x")
	writeFile(t, p+recognition.CaptionExt, "cap")

	fd := &fakeDistributor{ok: true}
	NewDispatcher(fd, ready, 3).Forward(context.Background(), []string{p}, "cap")

	assert.Equal(t, 1, fd.calls)
	assert.NoFileExists(t, p)
	assert.NoFileExists(t, p+recognition.CaptionExt)
}

func TestDispatcher_ForwardSendsGroupOnce(t *testing.T) {
	ready := t.TempDir()
	clip := writeFile(t, filepath.Join(ready, "a.mp4"), "a")
	frame := writeFile(t, filepath.Join(ready, "a.png"), "b")

	md := &mockDistributor{}
	md.On("Deliver", mock.Anything, []string{clip, frame}, "Storm warning").Return(true).Once()
	NewDispatcher(md, ready, 3).Forward(context.Background(), []string{clip, frame}, "Storm warning")

	md.AssertExpectations(t)
	assert.NoFileExists(t, clip)
	assert.NoFileExists(t, frame)
}

func TestDispatcher_ForwardKeepsOnFailure(t *testing.T) {
	ready := t.TempDir()
	p := writeFile(t, filepath.Join(ready, "x.png"), "x")

	fd := &fakeDistributor{ok: false}
	NewDispatcher(fd, ready, 3).Forward(context.Background(), []string{p}, "cap")
	assert.FileExists(t, p)
}

func TestDispatcher_SweepRetriesThenParks(t *testing.T) {
	ready := t.TempDir()
	p := writeFile(t, filepath.Join(ready, "x.png"), "x")
	writeFile(t, p+recognition.CaptionExt, "Storm warning")

	fd := &fakeDistributor{ok: false}
	d := NewDispatcher(fd, ready, 2)

	d.Sweep(context.Background())
	assert.FileExists(t, p)
	d.Sweep(context.Background())
	assert.NoFileExists(t, p)

	parked := filepath.Join(ready, FailedDir, "x.png")
	assert.FileExists(t, parked)
	assert.FileExists(t, parked+recognition.CaptionExt)
	assert.Equal(t, []string{"Storm warning", "Storm warning"}, fd.titles)

	// Parked artifacts are not retried.
	d.Sweep(context.Background())
	assert.Equal(t, 2, fd.calls)
}

func TestDispatcher_SweepDelivers(t *testing.T) {
	ready := t.TempDir()
	p := writeFile(t, filepath.Join(ready, "x.png"), "x")
	writeFile(t, p+recognition.CaptionExt, "cap")

	fd := &fakeDistributor{ok: true}
	NewDispatcher(fd, ready, 2).Sweep(context.Background())
	assert.Equal(t, [][]string{{p}}, fd.got)
	assert.NoFileExists(t, p)
}

func TestDispatcher_SweepMissingReadyDir(t *testing.T) {
	fd := &fakeDistributor{ok: true}
	NewDispatcher(fd, filepath.Join(t.TempDir(), "none"), 2).Sweep(context.Background())
	assert.Zero(t, fd.calls)
}

func TestDispatcher_RunSweeperStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDispatcher(&fakeDistributor{}, t.TempDir(), 1).RunSweeper(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
