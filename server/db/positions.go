package db

import (
	"context"
	"strconv"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/graph"
)

const (
	positionsPrefix    = "clustermap.positions"
	positionsSeparator = "."
)

var ErrInvalidPosition = errors.New("invalid stored position", j.C("ERR_61c4d9a0e7b3f258"))

// PositionsKey names the hash that holds the vertex positions of one graph
// of one cluster. Fields are object keys.
type PositionsKey struct {
	Cluster, Graph string
}

func (k PositionsKey) toRedis() string {
	return strings.Join([]string{positionsPrefix, k.Cluster, k.Graph}, positionsSeparator)
}

func positionsKeyFromRedis(s string) (PositionsKey, error) {
	rest, ok := strings.CutPrefix(s, positionsPrefix+positionsSeparator)
	if !ok {
		return PositionsKey{}, errors.New("invalid key", j.KV("key", s))
	}
	i := strings.LastIndex(rest, positionsSeparator)
	if i <= 0 || i == len(rest)-1 {
		return PositionsKey{}, errors.New("invalid key", j.KV("key", s))
	}
	return PositionsKey{Cluster: rest[:i], Graph: rest[i+1:]}, nil
}

func encodePoint(p graph.Point) string {
	return strconv.FormatFloat(p.X, 'g', -1, 64) + "," + strconv.FormatFloat(p.Y, 'g', -1, 64)
}

func decodePoint(s string) (graph.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return graph.Point{}, errors.Wrap(ErrInvalidPosition, "", j.KV("value", s))
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return graph.Point{}, errors.Wrap(ErrInvalidPosition, "", j.KV("value", s))
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return graph.Point{}, errors.Wrap(ErrInvalidPosition, "", j.KV("value", s))
	}
	return graph.Point{X: x, Y: y}, nil
}

func GetPosition(ctx context.Context, conn redis.Conn, k PositionsKey, obj graph.ObjectKey) (graph.Point, bool, error) {
	v, err := redis.String(redis.DoContext(conn, ctx, "HGET", k.toRedis(), string(obj)))
	if errors.Is(err, redis.ErrNil) {
		return graph.Point{}, false, nil
	} else if err != nil {
		return graph.Point{}, false, errors.Wrap(err, "get position")
	}
	p, err := decodePoint(v)
	if err != nil {
		return graph.Point{}, false, err
	}
	return p, true, nil
}

// GetPositions returns every stored position of the graph. Unreadable
// entries are logged and skipped.
func GetPositions(ctx context.Context, conn redis.Conn, k PositionsKey) (map[graph.ObjectKey]graph.Point, error) {
	m, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", k.toRedis()))
	if err != nil {
		return nil, errors.Wrap(err, "get positions")
	}
	ret := make(map[graph.ObjectKey]graph.Point, len(m))
	for field, v := range m {
		p, err := decodePoint(v)
		if err != nil {
			log.Error(ctx, errors.Wrap(err, "skipped position", j.KV("field", field)))
			continue
		}
		ret[graph.ObjectKey(field)] = p
	}
	return ret, nil
}

func StorePositions(ctx context.Context, conn redis.Conn, k PositionsKey, pos map[graph.ObjectKey]graph.Point) error {
	if len(pos) == 0 {
		return nil
	}
	args := redis.Args{}.Add(k.toRedis())
	for obj, p := range pos {
		args = args.Add(string(obj), encodePoint(p))
	}
	_, err := redis.DoContext(conn, ctx, "HSET", args...)
	return errors.Wrap(err, "store positions")
}

func DeletePositions(ctx context.Context, conn redis.Conn, k PositionsKey, objs ...graph.ObjectKey) error {
	if len(objs) == 0 {
		return nil
	}
	args := redis.Args{}.Add(k.toRedis())
	for _, o := range objs {
		args = args.Add(string(o))
	}
	_, err := redis.DoContext(conn, ctx, "HDEL", args...)
	return errors.Wrap(err, "delete positions")
}

// ListPositionKeys returns the position hashes of every cluster and graph.
func ListPositionKeys(ctx context.Context, conn redis.Conn) ([]PositionsKey, error) {
	var (
		ret    []PositionsKey
		cursor int64
	)
	for {
		keys, next, err := scanSomeKeys(ctx, conn, cursor, positionsPrefix+positionsSeparator+"*")
		if err != nil {
			return nil, err
		}
		for _, s := range keys {
			k, err := positionsKeyFromRedis(s)
			if err != nil {
				log.Error(ctx, errors.Wrap(err, "unknown key"))
				continue
			}
			ret = append(ret, k)
		}
		if next == 0 {
			return ret, nil
		}
		cursor = next
	}
}
