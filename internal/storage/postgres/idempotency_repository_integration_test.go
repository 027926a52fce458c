package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewIdempotencyRepository(store)

	ttl := time.Now().UTC().Add(time.Hour)

	record, err := repo.CreateProcessing("key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("create processing: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("status = %s, want processing", record.Status)
	}

	existing, err := repo.CreateProcessing("key-1", "hash-1", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != "key-1" {
		t.Fatalf("existing record key = %s, want key-1", existing.Key)
	}

	mismatch, err := repo.CreateProcessing("key-1", "other-hash", ttl)
	if !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
	if mismatch.RequestHash != "hash-1" {
		t.Fatalf("mismatch record hash = %s, want hash-1", mismatch.RequestHash)
	}

	body := []byte(`{"success":true,"new_stock":5}`)
	if err := repo.MarkDone("key-1", body, 200); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	done, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get after done: %v", err)
	}
	if done.Status != domain.IdempotencyStatusDone || done.HTTPStatus != 200 {
		t.Fatalf("unexpected record after done: %+v", done)
	}
	if string(done.ResponseBody) != string(body) {
		t.Fatalf("response body = %s, want %s", done.ResponseBody, body)
	}

	if _, err := repo.Get("missing-key"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
	if err := repo.MarkFailed("missing-key", nil, 500); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound on mark, got %v", err)
	}
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := migratedTestStore(t)
	repo := NewIdempotencyRepository(store)

	now := time.Now().UTC()

	for _, key := range []string{"expired-1", "expired-2"} {
		if _, err := repo.CreateProcessing(key, "hash", now.Add(-time.Hour)); err != nil {
			t.Fatalf("create expired %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("fresh", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	deleted, err := repo.DeleteExpired(now, 10)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	if _, err := repo.Get("fresh"); err != nil {
		t.Fatalf("fresh record must survive cleanup: %v", err)
	}
	if _, err := repo.Get("expired-1"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected expired record to be deleted, got %v", err)
	}
}
