package db

import (
	"context"

	"github.com/gomodule/redigo/redis"
	"github.com/luno/jettison/errors"
)

const positionDatabase = 0

func SelectPositionDatabase(r redis.Conn) error {
	return selectDB(r, positionDatabase)
}

func selectDB(r redis.Conn, db int) error {
	_, err := r.Do("SELECT", db)
	return err
}

func scanSomeKeys(ctx context.Context, conn redis.Conn, cursor int64, match string) ([]string, int64, error) {
	resp, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor, "MATCH", match))
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	next, err := redis.Int64(resp[0], nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	keys, err := redis.Strings(resp[1], nil)
	return keys, next, errors.Wrap(err, "")
}
