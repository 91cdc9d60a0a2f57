package secretstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "s4hana")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	if _, err := store.Read(ctx); err == nil {
		t.Fatal("Read() before Write expected error")
	}

	if err := store.Write(ctx, "  s3cret \n"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Read() = %q, want s3cret", got)
	}

	if err := store.Write(ctx, "rotated"); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	if got, _ := store.Read(ctx); got != "rotated" {
		t.Errorf("Read() after overwrite = %q", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestFileStoreRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("s3cret"), 0644); err != nil {
		t.Fatal(err)
	}
	store, _ := NewFileStore(path)

	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected error for world-readable secret file")
	}
}

func TestFileStoreEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(" \n"), 0600); err != nil {
		t.Fatal(err)
	}
	store, _ := NewFileStore(path)

	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected error for empty secret file")
	}
}

func TestEnvStore(t *testing.T) {
	t.Setenv("FXSYNC_TEST_SECRET", "from-env")

	store, err := NewEnvStore("FXSYNC_TEST_SECRET")
	if err != nil {
		t.Fatalf("NewEnvStore() error = %v", err)
	}
	ctx := context.Background()

	got, err := store.Read(ctx)
	if err != nil || got != "from-env" {
		t.Fatalf("Read() = %q, %v", got, err)
	}

	if err := store.Write(ctx, "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Write() error = %v, want ErrReadOnly", err)
	}

	t.Setenv("FXSYNC_TEST_SECRET", "")
	if _, err := store.Read(ctx); err == nil {
		t.Error("expected error for empty variable")
	}

	missing, _ := NewEnvStore("FXSYNC_TEST_SECRET_MISSING")
	if _, err := missing.Read(ctx); err == nil {
		t.Error("expected error for unset variable")
	}

	if _, err := NewEnvStore(""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	file, _ := NewFileStore(filepath.Join(t.TempDir(), "secret"))
	env, _ := NewEnvStore("HOME")
	keyringStore, _ := NewKeyringStore(KeyringService, "test")

	for _, s := range []SecretStore{file, env, keyringStore} {
		if _, err := s.Read(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("%T.Read() error = %v, want context.Canceled", s, err)
		}
		if err := s.Write(ctx, "x"); !errors.Is(err, context.Canceled) {
			t.Errorf("%T.Write() error = %v, want context.Canceled", s, err)
		}
	}
}

func TestNewKeyringStoreValidation(t *testing.T) {
	if _, err := NewKeyringStore("", "user"); err == nil {
		t.Error("expected error for empty service")
	}
	if _, err := NewKeyringStore(KeyringService, ""); err == nil {
		t.Error("expected error for empty user")
	}
}
