package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quizroom-service/internal/domain"
	pgloader "quizroom-service/internal/infra/postgres"
	pgmigrations "quizroom-service/internal/infra/postgres/migrations"
	infraredis "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/session"
)

func TestQuizSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedRoom(t, ctx, pgURL, sampleRoom())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgloader.NewRoomLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	rooms := infraredis.NewRoomRepository(redisClient, loader, 5*time.Minute)
	marker := infraredis.NewSessionMarker(redisClient, 5*time.Minute)

	registry := session.NewRegistry(rooms, session.RegistryConfig{
		Session:  session.Config{LeaderboardDelay: 50 * time.Millisecond},
		Liveness: marker,
	})

	sess, err := registry.GetOrCreate(ctx, "ROOM01")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if got := redisClient.Exists(ctx, "room:session:ROOM01").Val(); got != 1 {
		t.Fatalf("expected session marker in redis, exists=%d", got)
	}

	events, cancel := sess.Subscribe()
	defer cancel()

	sess.Join("host-1", "Host", "c-host", true)
	sess.Join("p1", "Alice", "c-p1", false)

	if err := sess.Start("host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.Submit("p1", 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := sess.Advance("host-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	waitForEvent(t, events, session.EventQuizEnded)

	snap := sess.Snapshot(false)
	if snap.State != session.StateEnded {
		t.Fatalf("expected ended state, got %s", snap.State)
	}
	if len(snap.Leaderboard) != 1 || snap.Leaderboard[0].ParticipantID != "p1" {
		t.Fatalf("expected alice on the final leaderboard, got %+v", snap.Leaderboard)
	}
	if snap.Leaderboard[0].Points != 1000 {
		t.Fatalf("expected instant answer worth 1000, got %d", snap.Leaderboard[0].Points)
	}

	// host verification is served by the loader, not the cache
	isHost, err := rooms.IsHost(ctx, "ROOM01", "host-1")
	if err != nil || !isHost {
		t.Fatalf("expected host-1 to be host, got %v %v", isHost, err)
	}

	sess.Leave("p1", "c-p1")
	sess.Leave("host-1", "c-host")
	registry.RemoveIfFinished("ROOM01")
	if _, ok := registry.Get("ROOM01"); ok {
		t.Fatalf("expected ended session to be removed")
	}
	if got := redisClient.Exists(ctx, "room:session:ROOM01").Val(); got != 0 {
		t.Fatalf("expected session marker cleared, exists=%d", got)
	}
}

func waitForEvent(t *testing.T, events <-chan session.Event, typ string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == typ {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedRoom(t *testing.T, ctx context.Context, dsn string, room domain.Room) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(room)
	if err != nil {
		t.Fatalf("marshal room: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO rooms (id, data) VALUES (? , ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, room.ID, string(data)); err != nil {
		t.Fatalf("insert room: %v", err)
	}
}

func sampleRoom() domain.Room {
	return domain.Room{
		ID:        "ROOM01",
		Title:     "Integration room",
		CreatorID: "host-1",
		Questions: []domain.Question{
			{
				Text:          "What is 2 + 2?",
				Options:       []string{"3", "4", "5"},
				CorrectAnswer: 1,
			},
		},
		Settings: domain.RoomSettings{TimerEnabled: false},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
