package metadata

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/ipfs"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	payloads := [][]byte{
		[]byte(`{"title":"Build React Dashboard"}`),
		{},
		bytes.Repeat([]byte{0xff, 0x00}, 4096),
	}
	for _, p := range payloads {
		h1, err := s.Put(ctx, p)
		if err != nil {
			t.Fatalf("put failed: %v", err)
		}
		h2, err := s.Put(ctx, append([]byte(nil), p...))
		if err != nil {
			t.Fatalf("second put failed: %v", err)
		}
		if h1 != h2 {
			t.Errorf("identical payloads gave %s and %s", h1, h2)
		}
		got, err := s.Get(ctx, h1)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("round trip mismatch for %s", h1)
		}
	}

	if _, err := s.Get(ctx, "sha256-missing"); !errors.Is(err, escrow.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestIPFSStoreClassifiesFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		s := NewIPFSStore(ipfs.NewClient(ipfs.Config{APIURL: "http://127.0.0.1:1"}), true)
		h, err := s.Put(ctx, []byte("x"))
		if !errors.Is(err, escrow.ErrUnauthorized) {
			t.Fatalf("expected Unauthorized, got %v", err)
		}
		if h != "" {
			t.Error("failed put must not return a hash")
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad jwt", http.StatusForbidden)
		}))
		defer srv.Close()
		s := NewIPFSStore(ipfs.NewClient(ipfs.Config{APIURL: srv.URL, Token: "t"}), true)
		if _, err := s.Put(ctx, []byte("x")); !errors.Is(err, escrow.ErrUnauthorized) {
			t.Fatalf("expected Unauthorized, got %v", err)
		}
	})

	t.Run("backend unreachable", func(t *testing.T) {
		s := NewIPFSStore(ipfs.NewClient(ipfs.Config{APIURL: "http://127.0.0.1:1", Timeout: time.Second}), false)
		h, err := s.Put(ctx, []byte("x"))
		if !errors.Is(err, escrow.ErrStoreUnavailable) {
			t.Fatalf("expected StoreUnavailable, got %v", err)
		}
		if h != "" {
			t.Error("failed put must not return a hash")
		}
		if _, err := s.Get(ctx, "bafyx"); !errors.Is(err, escrow.ErrStoreUnavailable) {
			t.Fatalf("expected StoreUnavailable on get, got %v", err)
		}
	})

	t.Run("unresolvable hash", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"Message":"invalid path \"bafynope\": invalid cid"}`, http.StatusInternalServerError)
		}))
		defer srv.Close()
		s := NewIPFSStore(ipfs.NewClient(ipfs.Config{APIURL: srv.URL}), false)
		if _, err := s.Get(ctx, "bafynope"); !errors.Is(err, escrow.ErrNotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})
}

func TestIPFSStoreRoundTrip(t *testing.T) {
	blobs := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/add":
			file, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var buf bytes.Buffer
			buf.ReadFrom(file)
			id := "bafy" + ContentID(buf.Bytes())[7:19]
			blobs[id] = buf.Bytes()
			w.Write([]byte(`{"Hash":"` + id + `"}`))
		case "/api/v0/cat":
			b, ok := blobs[r.URL.Query().Get("arg")]
			if !ok {
				http.Error(w, "merkledag: not found", http.StatusInternalServerError)
				return
			}
			w.Write(b)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	s := NewIPFSStore(ipfs.NewClient(ipfs.Config{APIURL: srv.URL, Token: "t"}), true)
	h1, err := s.Put(ctx, []byte("deliverable"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	h2, _ := s.Put(ctx, []byte("deliverable"))
	if h1 != h2 {
		t.Errorf("expected stable id, got %s and %s", h1, h2)
	}
	got, err := s.Get(ctx, h1)
	if err != nil || string(got) != "deliverable" {
		t.Errorf("round trip failed: %q %v", got, err)
	}
}

func TestDocumentsJobSpec(t *testing.T) {
	ctx := context.Background()
	docs := NewDocuments(NewMemoryStore())
	spec := JobSpec{
		Title:             "Build React Dashboard",
		Description:       "Create a modern dashboard with charts and analytics",
		Requirements:      []string{"React 18", "Charts"},
		Deliverables:      []string{"Source repository"},
		Price:             "2.5",
		ClientAddress:     "0x1234567890123456789012345678901234567890",
		FreelancerAddress: "0x0987654321098765432109876543210987654321",
		CreatedAt:         time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	h1, err := docs.PutJobSpec(ctx, spec)
	if err != nil {
		t.Fatalf("put spec failed: %v", err)
	}
	h2, err := docs.PutJobSpec(ctx, spec)
	if err != nil || h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s %s (%v)", h1, h2, err)
	}

	got, err := docs.GetJobSpec(ctx, h1)
	if err != nil {
		t.Fatalf("get spec failed: %v", err)
	}
	if got.Title != spec.Title || got.Version != SpecVersion || len(got.Requirements) != 2 {
		t.Errorf("unexpected spec %+v", got)
	}

	t.Run("invalid spec is never uploaded", func(t *testing.T) {
		bad := spec
		bad.FreelancerAddress = "not-an-address"
		if _, err := docs.PutJobSpec(ctx, bad); err == nil || !strings.Contains(err.Error(), "schema") {
			t.Errorf("expected schema error, got %v", err)
		}
	})
}

func TestDocumentsWork(t *testing.T) {
	ctx := context.Background()
	docs := NewDocuments(NewMemoryStore())
	hash, err := docs.PutWork(ctx, "0x0987654321098765432109876543210987654321", "v1", []File{
		{Name: "work-files/report.pdf", Data: []byte("%PDF")},
		{Name: "work-files/code.zip", Data: []byte("PK")},
	})
	if err != nil {
		t.Fatalf("put work failed: %v", err)
	}
	m, err := docs.GetWork(ctx, hash)
	if err != nil {
		t.Fatalf("get work failed: %v", err)
	}
	if len(m.Files) != 2 || m.Files[0].Name != "report.pdf" {
		t.Fatalf("unexpected manifest %+v", m)
	}
	body, err := docs.Store().Get(ctx, m.Files[1].Hash)
	if err != nil || string(body) != "PK" {
		t.Errorf("file not retrievable by hash: %q %v", body, err)
	}

	if _, err := docs.PutWork(ctx, "", "", nil); err == nil {
		t.Error("expected error for empty submission")
	}
}
