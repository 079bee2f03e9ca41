package s3

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/seqsift/bioindex/bioindex"
)

// -----------------------------------------------------------------------------
// Unit tests for S3 store
// These use the mock client and don't require real S3/LocalStack/MinIO.
// -----------------------------------------------------------------------------

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{Bucket: "test"})
	if err == nil {
		t.Error("expected error for nil client")
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(NewMockS3Client(), Config{})
	if err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNew_PrefixNormalization(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"", ""},
		{"indexes", "indexes/"},
		{"indexes/", "indexes/"},
		{"a/b", "a/b/"},
	}

	for _, tt := range tests {
		store, err := New(NewMockS3Client(), Config{Bucket: "test", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if store.prefix != tt.expected {
			t.Errorf("prefix %q: expected %q, got %q", tt.prefix, tt.expected, store.prefix)
		}
	}
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.Seed("genes/part-00000.json", []byte(`{"gene":"PCSK9"}`+"\n"))
	store, _ := New(mock, Config{Bucket: "test"})

	body, err := store.Get(ctx, "genes/part-00000.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != `{"gene":"PCSK9"}`+"\n" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store, _ := New(NewMockS3Client(), Config{Bucket: "test"})

	_, err := store.Get(context.Background(), "missing.json")
	if !errors.Is(err, bioindex.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_Get_AppliesPrefix(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.Seed("bio/genes/part-00000.json", []byte("data"))
	store, _ := New(mock, Config{Bucket: "test", Prefix: "bio"})

	body, err := store.Get(ctx, "genes/part-00000.json")
	if err != nil {
		t.Fatalf("Get with prefix failed: %v", err)
	}
	_ = body.Close()
}

func TestStore_InvalidPaths(t *testing.T) {
	store, _ := New(NewMockS3Client(), Config{Bucket: "test"})
	ctx := context.Background()

	for _, path := range []string{"", "..", "../foo", "foo/../.."} {
		if _, err := store.Get(ctx, path); !errors.Is(err, bioindex.ErrInvalidPath) {
			t.Errorf("Get(%q): expected ErrInvalidPath, got: %v", path, err)
		}
		if _, err := store.Size(ctx, path); !errors.Is(err, bioindex.ErrInvalidPath) {
			t.Errorf("Size(%q): expected ErrInvalidPath, got: %v", path, err)
		}
	}
}

func TestStore_ReadRange(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.Seed("obj", []byte("0123456789"))
	store, _ := New(mock, Config{Bucket: "test"})

	tests := []struct {
		name     string
		offset   int64
		length   int64
		expected string
	}{
		{"interior", 2, 4, "2345"},
		{"from start", 0, 3, "012"},
		{"to end", 7, 3, "789"},
		{"past end clamps", 7, 100, "789"},
		{"offset beyond EOF", 100, 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := store.ReadRange(ctx, "obj", tt.offset, tt.length)
			if err != nil {
				t.Fatalf("ReadRange failed: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, data)
			}
		})
	}
}

func TestStore_ReadRange_ZeroLength(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.Seed("obj", []byte("0123456789"))
	store, _ := New(mock, Config{Bucket: "test"})

	data, err := store.ReadRange(ctx, "obj", 0, 0)
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty slice, got %q", data)
	}

	// Zero-length reads still report missing objects.
	if _, err := store.ReadRange(ctx, "missing", 0, 0); !errors.Is(err, bioindex.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_ReadRange_NegativeArgs(t *testing.T) {
	store, _ := New(NewMockS3Client(), Config{Bucket: "test"})
	ctx := context.Background()

	if _, err := store.ReadRange(ctx, "obj", -1, 5); !errors.Is(err, bioindex.ErrInvalidPath) {
		t.Errorf("negative offset: expected ErrInvalidPath, got: %v", err)
	}
	if _, err := store.ReadRange(ctx, "obj", 0, -5); !errors.Is(err, bioindex.ErrInvalidPath) {
		t.Errorf("negative length: expected ErrInvalidPath, got: %v", err)
	}
}

func TestStore_Size(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.Seed("obj", []byte("0123456789"))
	store, _ := New(mock, Config{Bucket: "test"})

	size, err := store.Size(ctx, "obj")
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 10 {
		t.Errorf("expected size 10, got %d", size)
	}

	if _, err := store.Size(ctx, "missing"); !errors.Is(err, bioindex.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.Seed("bio/genes/part-00000.json", []byte("a"))
	mock.Seed("bio/genes/part-00001.json", []byte("b"))
	mock.Seed("bio/variants/part-00000.json", []byte("c"))
	store, _ := New(mock, Config{Bucket: "test", Prefix: "bio"})

	keys, err := store.List(ctx, "genes/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	expected := []string{"genes/part-00000.json", "genes/part-00001.json"}
	if !slices.Equal(keys, expected) {
		t.Errorf("expected %v, got %v", expected, keys)
	}
}

func TestStore_List_Paginates(t *testing.T) {
	ctx := context.Background()
	mock := NewMockS3Client()
	mock.ListPageSize = 2
	for _, k := range []string{"p/a", "p/b", "p/c", "p/d", "p/e"} {
		mock.Seed(k, []byte("x"))
	}
	store, _ := New(mock, Config{Bucket: "test"})

	keys, err := store.List(ctx, "p/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 5 {
		t.Fatalf("expected 5 keys across pages, got %d: %v", len(keys), keys)
	}
	if mock.ListCalls < 3 {
		t.Errorf("expected at least 3 paginated calls, got %d", mock.ListCalls)
	}
}
