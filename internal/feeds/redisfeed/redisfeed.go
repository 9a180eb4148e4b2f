// Package redisfeed reads price feed rounds that a relayer mirrors into Redis hashes.
//
// Layout per source reference:
//
//	feed:{ref}:meta        description, decimals
//	feed:{ref}:latest      round_id, answer, started_at, updated_at, answered_in_round
//	feed:{ref}:round:{id}  same fields as latest
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/custody/pkg/oracle"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	fieldDescription     = "description"
	fieldDecimals        = "decimals"
	fieldRoundID         = "round_id"
	fieldAnswer          = "answer"
	fieldStartedAt       = "started_at"
	fieldUpdatedAt       = "updated_at"
	fieldAnsweredInRound = "answered_in_round"
)

var (
	ErrUnknownSource = errors.New("unknown feed source")
	ErrRoundNotFound = errors.New("round not found")
	ErrMalformedData = errors.New("malformed feed data")
)

// HashClient is the subset of redis.UniversalClient used by the feed.
type HashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and verifies it answers PING.
func Connect(ctx context.Context, options Options) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            options.Addr,
		Password:        options.Password,
		DB:              options.DB,
		DialTimeout:     time.Second,
		ReadTimeout:     400 * time.Millisecond,
		WriteTimeout:    400 * time.Millisecond,
		ConnMaxIdleTime: 90 * time.Second,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 200 * time.Millisecond,
		OnConnect: func(ctx context.Context, conn *redis.Conn) error {
			_ = conn.ClientSetName(ctx, "custodyd").Err()
			return nil
		},
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Resolver implements oracle.FeedResolver over Redis.
type Resolver struct {
	client HashClient
}

// NewResolver returns a Resolver reading through client.
func NewResolver(client HashClient) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the feed for sourceRef once its metadata hash exists.
func (resolver *Resolver) Resolve(ctx context.Context, sourceRef string) (oracle.Feed, error) {
	ref := strings.TrimSpace(sourceRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrUnknownSource)
	}
	feed := &Feed{client: resolver.client, ref: ref}
	if _, err := feed.Metadata(ctx); err != nil {
		return nil, err
	}
	return feed, nil
}

// Feed implements oracle.Feed for one source reference.
type Feed struct {
	client HashClient
	ref    string
}

func (feed *Feed) Metadata(ctx context.Context) (oracle.FeedMetadata, error) {
	values, err := feed.client.HGetAll(ctx, metaKey(feed.ref)).Result()
	if err != nil {
		return oracle.FeedMetadata{}, fmt.Errorf("read %s metadata: %w", feed.ref, err)
	}
	if len(values) == 0 {
		return oracle.FeedMetadata{}, fmt.Errorf("%w: %s", ErrUnknownSource, feed.ref)
	}
	decimals, err := strconv.ParseInt(values[fieldDecimals], 10, 32)
	if err != nil {
		return oracle.FeedMetadata{}, fmt.Errorf("%w: %s decimals: %v", ErrMalformedData, feed.ref, err)
	}
	return oracle.FeedMetadata{Description: values[fieldDescription], Decimals: int32(decimals)}, nil
}

func (feed *Feed) LatestRound(ctx context.Context) (oracle.Round, error) {
	return feed.readRound(ctx, latestKey(feed.ref))
}

func (feed *Feed) RoundData(ctx context.Context, roundID oracle.RoundID) (oracle.Round, error) {
	return feed.readRound(ctx, roundKey(feed.ref, roundID))
}

func (feed *Feed) readRound(ctx context.Context, key string) (oracle.Round, error) {
	values, err := feed.client.HGetAll(ctx, key).Result()
	if err != nil {
		return oracle.Round{}, fmt.Errorf("read %s: %w", key, err)
	}
	if len(values) == 0 {
		return oracle.Round{}, fmt.Errorf("%w: %s", ErrRoundNotFound, key)
	}
	round, err := parseRound(values)
	if err != nil {
		return oracle.Round{}, fmt.Errorf("%w: %s: %v", ErrMalformedData, key, err)
	}
	return round, nil
}

// PublishRound writes round as the latest reading of ref and under its own round key.
func PublishRound(ctx context.Context, client HashClient, ref string, round oracle.Round) error {
	values := []interface{}{
		fieldRoundID, round.RoundID.String(),
		fieldAnswer, round.Answer.String(),
		fieldStartedAt, strconv.FormatInt(round.StartedAt, 10),
		fieldUpdatedAt, strconv.FormatInt(round.UpdatedAt, 10),
		fieldAnsweredInRound, round.AnsweredInRound.String(),
	}
	if err := client.HSet(ctx, roundKey(ref, round.RoundID), values...).Err(); err != nil {
		return fmt.Errorf("write round %s of %s: %w", round.RoundID, ref, err)
	}
	if err := client.HSet(ctx, latestKey(ref), values...).Err(); err != nil {
		return fmt.Errorf("write latest round of %s: %w", ref, err)
	}
	return nil
}

// PublishMetadata writes the metadata hash of ref.
func PublishMetadata(ctx context.Context, client HashClient, ref string, metadata oracle.FeedMetadata) error {
	err := client.HSet(ctx, metaKey(ref),
		fieldDescription, metadata.Description,
		fieldDecimals, strconv.FormatInt(int64(metadata.Decimals), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("write %s metadata: %w", ref, err)
	}
	return nil
}

func parseRound(values map[string]string) (oracle.Round, error) {
	roundID, err := oracle.ParseRoundID(values[fieldRoundID])
	if err != nil {
		return oracle.Round{}, err
	}
	answeredInRound, err := oracle.ParseRoundID(values[fieldAnsweredInRound])
	if err != nil {
		return oracle.Round{}, err
	}
	answer, err := decimal.NewFromString(values[fieldAnswer])
	if err != nil {
		return oracle.Round{}, fmt.Errorf("answer: %w", err)
	}
	startedAt, err := strconv.ParseInt(values[fieldStartedAt], 10, 64)
	if err != nil {
		return oracle.Round{}, fmt.Errorf("started_at: %w", err)
	}
	updatedAt, err := strconv.ParseInt(values[fieldUpdatedAt], 10, 64)
	if err != nil {
		return oracle.Round{}, fmt.Errorf("updated_at: %w", err)
	}
	return oracle.Round{
		RoundID:         roundID,
		Answer:          answer,
		StartedAt:       startedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: answeredInRound,
	}, nil
}

func metaKey(ref string) string {
	return fmt.Sprintf("feed:{%s}:meta", ref)
}

func latestKey(ref string) string {
	return fmt.Sprintf("feed:{%s}:latest", ref)
}

func roundKey(ref string, roundID oracle.RoundID) string {
	return fmt.Sprintf("feed:{%s}:round:%s", ref, roundID.String())
}
