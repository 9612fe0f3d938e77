package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom-service/internal/domain"
)

// RoomLoader loads room JSONB from Postgres.
type RoomLoader struct {
	pool *pgxpool.Pool
}

func NewRoomLoader(pool *pgxpool.Pool) *RoomLoader {
	return &RoomLoader{pool: pool}
}

func (l *RoomLoader) LoadRoom(ctx context.Context, roomID string) (domain.Room, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM rooms WHERE id=$1`, roomID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("load room: %w", err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return domain.Room{}, fmt.Errorf("unmarshal room: %w", err)
	}
	room.ID = roomID
	return room, nil
}
