// Package db integration tests run against a disposable SurrealDB container.
package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/avdwerff/deskchat/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to SurrealDB: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func wipe(t *testing.T) {
	t.Helper()
	if err := testDB.WipeData(context.Background()); err != nil {
		t.Fatalf("wipe: %v", err)
	}
}

func TestAppendAndListMessages(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	first, err := testDB.AppendMessage(ctx, "u-1", models.SenderUser, "hello")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected server-assigned id")
	}
	if _, err := testDB.AppendMessage(ctx, "u-1", models.SenderAdmin, "hi there"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := testDB.AppendMessage(ctx, "u-2", models.SenderUser, "other thread"); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := testDB.ListMessages(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Body != "hello" || msgs[1].Body != "hi there" {
		t.Fatalf("wrong order: %q, %q", msgs[0].Body, msgs[1].Body)
	}
	if msgs[1].CreatedAt.Before(msgs[0].CreatedAt) {
		t.Fatal("timestamps must be non-decreasing")
	}
}

func TestThreadAggregates(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := testDB.AppendMessage(ctx, "u-1", models.SenderUser, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := testDB.AppendMessage(ctx, "u-2", models.SenderUser, "later"); err != nil {
		t.Fatalf("append: %v", err)
	}

	threads, err := testDB.ListThreads(ctx)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].OwnerUserID != "u-2" {
		t.Fatalf("expected most recent thread first, got %s", threads[0].OwnerUserID)
	}
	var u1 models.Thread
	for _, th := range threads {
		if th.OwnerUserID == "u-1" {
			u1 = th
		}
	}
	if u1.UnreadForAdmin != 3 {
		t.Fatalf("expected 3 unread for admin, got %d", u1.UnreadForAdmin)
	}
	if u1.LastMessage != "msg 2" {
		t.Fatalf("wrong preview: %q", u1.LastMessage)
	}
}

func TestMarkRead(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	if _, err := testDB.AppendMessage(ctx, "u-1", models.SenderUser, "ping"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := testDB.MarkReadByAdmin(ctx, "u-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	msgs, err := testDB.ListMessages(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !msgs[0].ReadByAdmin {
		t.Fatal("message not marked read by admin")
	}

	threads, err := testDB.ListThreads(ctx)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if threads[0].UnreadForAdmin != 0 {
		t.Fatalf("expected 0 unread, got %d", threads[0].UnreadForAdmin)
	}
}

func TestDeleteThreadPurgesEverything(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	if _, err := testDB.AppendMessage(ctx, "u-1", models.SenderUser, "doomed"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := testDB.DeleteThread(ctx, "u-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	msgs, err := testDB.ListMessages(ctx, "u-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty thread, got %d messages", len(msgs))
	}
	threads, err := testDB.ListThreads(ctx)
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(threads) != 0 {
		t.Fatalf("expected no threads, got %d", len(threads))
	}
}
