package repository_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/segdl/internal/repository"
)

func TestNewBboltRepository_OpenError(t *testing.T) {
	dir := t.TempDir()
	_, err := repository.NewBboltRepository(dir)
	if err == nil {
		t.Errorf("Expected error when opening DB on directory path, got nil")
	}
}

func TestNewBboltRepository_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	repo, err := repository.NewBboltRepository(dbPath)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer repo.Close()
}

func TestSaveInvalidRecord(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := repository.NewBboltRepository(dbPath)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer repo.Close()

	if err := repo.Save(nil); !errors.Is(err, repository.ErrNilRecord) {
		t.Errorf("Expected ErrNilRecord, got %v", err)
	}

	if err := repo.Save(&repository.Record{}); !errors.Is(err, repository.ErrEmptyID) {
		t.Errorf("Expected ErrEmptyID, got %v", err)
	}
}

func TestSaveFindAllDelete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := repository.NewBboltRepository(dbPath)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	defer repo.Close()

	list, err := repo.FindAll()
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected empty list, got %d items", len(list))
	}

	now := time.Now().UTC().Truncate(time.Second)
	older := &repository.Record{ID: uuid.New(), URL: "https://a.example/file", State: "ended", EndedAt: now.Add(-time.Hour)}
	newer := &repository.Record{
		ID:    uuid.New(),
		URL:   "https://b.example/file",
		State: "ended-with-error",
		FailedSegments: []repository.FailedSegment{
			{Index: 2, Start: 400, End: 600, Tries: 5, Error: "connection reset", At: now},
		},
		EndedAt: now,
	}

	for _, r := range []*repository.Record{older, newer} {
		if err := repo.Save(r); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	list, err = repo.FindAll()
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Errorf("FindAll returned wrong order: %+v", list)
	}

	got, err := repo.Find(newer.ID)
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(got.FailedSegments) != 1 || got.FailedSegments[0].Error != "connection reset" || !got.FailedSegments[0].At.Equal(now) {
		t.Errorf("Find returned wrong failed segments: %+v", got.FailedSegments)
	}

	if _, err := repo.Find(uuid.New()); !errors.Is(err, repository.ErrDownloadNotFound) {
		t.Errorf("Expected ErrDownloadNotFound, got %v", err)
	}

	if err := repo.Delete(uuid.Nil); err == nil {
		t.Errorf("Expected error deleting Nil ID, got nil")
	}

	if err := repo.Delete(uuid.New()); !errors.Is(err, repository.ErrDownloadNotFound) {
		t.Errorf("Expected ErrDownloadNotFound deleting non-existent ID, got %v", err)
	}

	if err := repo.Delete(older.ID); err != nil {
		t.Errorf("Delete error for existing ID: %v", err)
	}

	list, err = repo.FindAll()
	if err != nil {
		t.Fatalf("FindAll error after delete: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected one record after delete, got %d items", len(list))
	}
}

func TestCloseBehavior(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	repo, err := repository.NewBboltRepository(dbPath)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	err = repo.Close()
	if err != nil {
		t.Fatalf("Close error: %v", err)
	}

	err = repo.Save(&repository.Record{ID: uuid.New()})
	if err == nil {
		t.Errorf("Expected error Save after Close, got nil")
	}
	_, err = repo.FindAll()
	if err == nil {
		t.Errorf("Expected error FindAll after Close, got nil")
	}

	err = repo.Delete(uuid.New())
	if err == nil {
		t.Errorf("Expected error Delete after Close, got nil")
	}
}
