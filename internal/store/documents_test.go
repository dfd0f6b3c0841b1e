package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rag-chatbot-platform/models"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func testDB(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("mongodb not reachable: %v", err)
	}
	db := client.Database(fmt.Sprintf("store_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Drop(ctx)
		client.Disconnect(ctx)
	})
	return db
}

func newTestDoc(tenantID string) *models.Document {
	return &models.Document{
		TenantID:    tenantID,
		Filename:    "handbook.pdf",
		SourceType:  models.SourceUpload,
		ContentType: "application/pdf",
	}
}

func TestDocumentLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(testDB(t))

	doc := newTestDoc("tenant-a")
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, "tenant-a", doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("fresh document status = %q, want pending", got.Status)
	}

	if err := s.MarkProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	chunks := []models.Chunk{
		{TenantID: "tenant-a", Ordinal: 0, Text: "first", Vector: []float32{1, 0}},
		{TenantID: "tenant-a", Ordinal: 1, Text: "second", Vector: []float32{0, 1}},
		{TenantID: "tenant-a", Ordinal: 2, Text: "third", Vector: []float32{1, 1}},
	}
	if err := s.CommitReady(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("commit ready: %v", err)
	}

	got, err = s.Get(ctx, "tenant-a", doc.ID)
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if got.Status != models.StatusReady {
		t.Fatalf("status after commit = %q, want ready", got.Status)
	}
	if got.ChunkCount != 3 {
		t.Fatalf("chunk count = %d, want 3", got.ChunkCount)
	}

	ready, err := s.ReadyChunks(ctx, "tenant-a", nil)
	if err != nil {
		t.Fatalf("ready chunks: %v", err)
	}
	if len(ready) != 3 {
		t.Fatalf("got %d ready chunks, want 3", len(ready))
	}
}

func TestTerminalStatusRejectsTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(testDB(t))

	doc := newTestDoc("tenant-a")
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := s.MarkFailed(ctx, doc.ID, "extraction failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := s.MarkProcessing(ctx, doc.ID); !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("processing after failed = %v, want ErrTerminalStatus", err)
	}
	if err := s.CommitReady(ctx, doc.ID, []models.Chunk{{TenantID: "tenant-a", Text: "x"}}); !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("commit after failed = %v, want ErrTerminalStatus", err)
	}

	// The losing commit must not leave orphan chunks behind.
	ready, err := s.ReadyChunks(ctx, "tenant-a", nil)
	if err != nil {
		t.Fatalf("ready chunks: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("got %d chunks after failed commit, want 0", len(ready))
	}
}

func TestReadersNeverSeePartialReady(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(testDB(t))

	doc := newTestDoc("tenant-a")
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	// A reader polling during ingestion sees processing with no
	// retrievable chunks, then ready with all of them; never in between.
	done := make(chan struct{})
	go func() {
		defer close(done)
		chunks := []models.Chunk{
			{TenantID: "tenant-a", Ordinal: 0, Text: "a", Vector: []float32{1}},
			{TenantID: "tenant-a", Ordinal: 1, Text: "b", Vector: []float32{1}},
		}
		s.CommitReady(ctx, doc.ID, chunks)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := s.Get(ctx, "tenant-a", doc.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		ready, err := s.ReadyChunks(ctx, "tenant-a", nil)
		if err != nil {
			t.Fatalf("ready chunks: %v", err)
		}
		if got.Status != models.StatusReady && len(ready) != 0 {
			t.Fatalf("retriever saw %d chunks while status=%q", len(ready), got.Status)
		}
		if got.Status == models.StatusReady {
			if len(ready) != 2 {
				t.Fatalf("ready document exposes %d chunks, want 2", len(ready))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("commit never landed")
		}
	}
	<-done
}

func TestMarkDeletedHidesDocument(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(testDB(t))

	doc := newTestDoc("tenant-a")
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkProcessing(ctx, doc.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := s.CommitReady(ctx, doc.ID, []models.Chunk{{TenantID: "tenant-a", Text: "x", Vector: []float32{1}}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.MarkDeleted(ctx, "tenant-a", doc.ID); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	list, err := s.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("deleted document still listed (%d entries)", len(list))
	}
	ready, err := s.ReadyChunks(ctx, "tenant-a", nil)
	if err != nil {
		t.Fatalf("ready chunks: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("deleted document still retrievable (%d chunks)", len(ready))
	}

	n, err := s.PurgeMarked(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d documents, want 1", n)
	}
	if _, err := s.Get(ctx, "tenant-a", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after purge = %v, want ErrNotFound", err)
	}
}

func TestReserveSlotEnforcesCapUnderContention(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(testDB(t))
	const limit = 3

	// Many concurrent claims at a cap of 3: exactly 3 may win.
	var wg sync.WaitGroup
	var wins int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ReserveSlot(ctx, "tenant-a", limit)
			if err == nil {
				atomic.AddInt64(&wins, 1)
				return
			}
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Errorf("reserve: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != limit {
		t.Fatalf("%d reservations won, want %d", wins, limit)
	}

	if err := s.ReserveSlot(ctx, "tenant-a", limit); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("reserve at cap = %v, want ErrQuotaExceeded", err)
	}

	// Deleting a document frees its slot.
	doc := newTestDoc("tenant-a")
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkDeleted(ctx, "tenant-a", doc.ID); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	if err := s.ReserveSlot(ctx, "tenant-a", limit); err != nil {
		t.Fatalf("reserve after delete: %v", err)
	}

	// Unlimited plans never touch the counter.
	if err := s.ReserveSlot(ctx, "tenant-b", models.Unlimited); err != nil {
		t.Fatalf("unlimited reserve: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewDocumentStore(testDB(t))

	doc := newTestDoc("tenant-a")
	if err := s.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Get(ctx, "tenant-b", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant get = %v, want ErrNotFound", err)
	}
	if err := s.MarkDeleted(ctx, "tenant-b", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant delete = %v, want ErrNotFound", err)
	}
	list, err := s.List(ctx, "tenant-b")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("tenant-b sees %d of tenant-a's documents", len(list))
	}
}
