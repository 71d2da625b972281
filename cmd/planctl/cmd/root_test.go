package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/planmail/internal/config"
	"github.com/timmy/planmail/internal/storage"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

func fakeAPI(t *testing.T, status int, reply interface{}) *[]recorded {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.RequestURI()}
		json.NewDecoder(r.Body).Decode(&rec.Body)
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	viper.Set("url", srv.URL)
	t.Cleanup(func() { viper.Set("url", "") })
	return &reqs
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStopAndResume(t *testing.T) {
	reqs := fakeAPI(t, http.StatusOK, map[string]bool{"emergency_stop": true})

	out, err := run(t, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "Emergency stop is ON")

	_, err = run(t, "resume")
	require.NoError(t, err)

	require.Len(t, *reqs, 2)
	assert.Equal(t, "/api/v1/emergency-stop", (*reqs)[0].Path)
	assert.Equal(t, true, (*reqs)[0].Body["active"])
	assert.Equal(t, false, (*reqs)[1].Body["active"])
}

func TestSend(t *testing.T) {
	reqs := fakeAPI(t, http.StatusAccepted, map[string]interface{}{"id": 31, "date": "2026-10-18"})

	out, err := run(t, "send", "12", "--recipient", "345", "--prompt", "今日だけ")
	require.NoError(t, err)
	assert.Contains(t, out, "Manual job 31 queued for 2026-10-18")

	require.Len(t, *reqs, 1)
	r := (*reqs)[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "/api/v1/plans/12/send", r.Path)
	assert.Equal(t, float64(345), r.Body["recipient_id"])
	assert.Equal(t, "今日だけ", r.Body["prompt"])

	_, err = run(t, "send", "abc")
	assert.Error(t, err)
}

func TestAPIErrorSurfaces(t *testing.T) {
	fakeAPI(t, http.StatusConflict, map[string]string{"error": "Execution is still running"})

	_, err := run(t, "retry", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Execution is still running")
	assert.Contains(t, err.Error(), "409")
}

func TestStatus(t *testing.T) {
	fakeAPI(t, http.StatusOK, map[string]interface{}{
		"scheduler_alive": false, "emergency_stop": true, "throttle_seconds": 15,
	})

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "NOT RESPONDING")
	assert.Contains(t, out, "Emergency stop: ON")
	assert.Contains(t, out, "15s")
}

func TestDataCommands(t *testing.T) {
	mem := storage.NewMemoryStorage()
	origLoad, origOpen := loadConfig, openStorage
	t.Cleanup(func() { loadConfig, openStorage = origLoad, origOpen })
	loadConfig = func() (*config.Config, error) { return &config.Config{Timezone: "UTC"}, nil }
	openStorage = func(*config.Config) (storage.ObjectStorage, error) { return mem, nil }

	dir := t.TempDir()
	file := filepath.Join(dir, "monday.txt")
	require.NoError(t, os.WriteFile(file, []byte("月曜の献立"), 0o644))

	_, err := run(t, "data", "put", "menus/monday.txt", file)
	require.NoError(t, err)
	mem.PutString("menus/tuesday.txt", "火曜の献立")

	out, err := run(t, "data", "ls", "menus/")
	require.NoError(t, err)
	assert.Equal(t, "menus/monday.txt\nmenus/tuesday.txt\n", out)

	out, err = run(t, "data", "show", "menus/~")
	require.NoError(t, err)
	assert.Contains(t, out, "2 item(s)")
	assert.Contains(t, out, "- monday")

	_, err = run(t, "data", "rm", "menus/monday.txt")
	require.NoError(t, err)
	ok, err := mem.Exists(t.Context(), "menus/monday.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
