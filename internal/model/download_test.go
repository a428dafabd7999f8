package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestPinnedManifestDefaultRepo(t *testing.T) {
	m, err := PinnedManifest(DefaultRepo)
	if err != nil {
		t.Fatalf("manifest error: %v", err)
	}
	if len(m.Files) != 10 {
		t.Fatalf("want 10 files, got %d", len(m.Files))
	}
	for _, f := range m.Files {
		if f.Filename == "" || f.Revision == "" {
			t.Fatalf("expected filename and revision, got %+v", f)
		}
	}
	if m.Files[0].Filename != "onnx/duration_predictor.onnx" {
		t.Errorf("first file = %q; want onnx/duration_predictor.onnx", m.Files[0].Filename)
	}
}

func TestPinnedManifestUnknownRepo(t *testing.T) {
	if _, err := PinnedManifest("someone/else"); err == nil {
		t.Fatal("expected error for unknown repo")
	}
}

func TestNormalizeETag(t *testing.T) {
	got := normalizeETag(`W/"58aa704a88faad35f22c34ea1cb55c4c5629de8b8e035c6e4936e2673dc07617"`)
	want := "58aa704a88faad35f22c34ea1cb55c4c5629de8b8e035c6e4936e2673dc07617"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !isSHA256Hex(got) {
		t.Fatalf("expected valid sha256")
	}
	if isSHA256Hex("0123abcd") {
		t.Fatal("short etag should not look like a sha256")
	}
}

func TestExistingMatches(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "x.bin")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ok, err := existingMatches(p, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	if err != nil {
		t.Fatalf("existingMatches error: %v", err)
	}
	if !ok {
		t.Fatal("expected checksum match")
	}

	ok, err = existingMatches(filepath.Join(tmp, "missing.bin"), "00")
	if err != nil || ok {
		t.Fatalf("existingMatches(missing) = %v, %v; want false, nil", ok, err)
	}
}

// fakeHub serves every manifest file. LFS-style .onnx files advertise their
// sha256 in X-Linked-Etag; json files advertise nothing.
type fakeHub struct {
	gets    atomic.Int32
	badHash bool
	status  int
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.status != 0 {
		w.WriteHeader(h.status)
		return
	}

	prefix := "/" + DefaultRepo + "/resolve/main/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, prefix)
	body := []byte("content of " + name)

	if strings.HasSuffix(name, ".onnx") {
		sum := sha256.Sum256(body)
		etag := hex.EncodeToString(sum[:])
		if h.badHash {
			etag = strings.Repeat("0", 64)
		}
		w.Header().Set("X-Linked-Etag", `"`+etag+`"`)
	}

	if r.Method == http.MethodHead {
		return
	}
	h.gets.Add(1)
	_, _ = w.Write(body)
}

func TestDownload_FetchesAndPins(t *testing.T) {
	hub := &fakeHub{}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	out := t.TempDir()
	opts := DownloadOptions{Repo: DefaultRepo, OutDir: out, BaseURL: srv.URL}

	if err := Download(context.Background(), opts); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := hub.gets.Load(); got != 10 {
		t.Fatalf("want 10 GETs on first run, got %d", got)
	}

	data, err := os.ReadFile(filepath.Join(out, "voice_styles", "F2.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "content of voice_styles/F2.json" {
		t.Errorf("F2.json = %q", data)
	}

	lock := readLockManifest(filepath.Join(out, lockManifestName))
	if len(lock.Files) != 10 {
		t.Fatalf("lock has %d files; want 10", len(lock.Files))
	}
	if rec := lock.Files["onnx/tts.json"]; !isSHA256Hex(rec.SHA256) {
		t.Errorf("tts.json lock hash = %q; want pinned sha256", rec.SHA256)
	}

	if err := Download(context.Background(), opts); err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if got := hub.gets.Load(); got != 10 {
		t.Errorf("second run issued %d more GETs; want 0", got-10)
	}
}

func TestDownload_ChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(&fakeHub{badHash: true})
	defer srv.Close()

	out := t.TempDir()
	err := Download(context.Background(), DownloadOptions{Repo: DefaultRepo, OutDir: out, BaseURL: srv.URL})
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("Download error = %v; want checksum mismatch", err)
	}

	if _, err := os.Stat(filepath.Join(out, "onnx", "duration_predictor.onnx")); !os.IsNotExist(err) {
		t.Errorf("mismatched file should be removed, stat err = %v", err)
	}
}

func TestDownload_AccessDenied(t *testing.T) {
	srv := httptest.NewServer(&fakeHub{status: http.StatusForbidden})
	defer srv.Close()

	err := Download(context.Background(), DownloadOptions{Repo: DefaultRepo, OutDir: t.TempDir(), BaseURL: srv.URL})

	var denied *ErrAccessDenied
	if !errors.As(err, &denied) {
		t.Fatalf("Download error = %v; want *ErrAccessDenied", err)
	}
	if !strings.Contains(denied.Error(), "HF_TOKEN") {
		t.Errorf("error %q should mention HF_TOKEN", denied.Error())
	}
}

func TestDownload_RequiresOptions(t *testing.T) {
	if err := Download(context.Background(), DownloadOptions{OutDir: t.TempDir()}); err == nil {
		t.Error("expected error without repo")
	}
	if err := Download(context.Background(), DownloadOptions{Repo: DefaultRepo}); err == nil {
		t.Error("expected error without out dir")
	}
}

func TestDownload_SendsToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_ = Download(context.Background(), DownloadOptions{
		Repo:    DefaultRepo,
		OutDir:  t.TempDir(),
		BaseURL: srv.URL,
		HFToken: "hf_secret",
	})

	if got, _ := auth.Load().(string); got != "Bearer hf_secret" {
		t.Errorf("Authorization = %q; want %q", got, "Bearer hf_secret")
	}
}
