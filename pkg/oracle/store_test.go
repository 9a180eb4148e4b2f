package oracle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/custody/pkg/ledger"
	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mutex       sync.Mutex
	configs     map[string]FeedConfig
	prices      map[string]CachedPrice
	updateCount int64
}

func newMemoryStore(test *testing.T) *memoryStore {
	test.Helper()
	return &memoryStore{configs: map[string]FeedConfig{}, prices: map[string]CachedPrice{}}
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *memoryStore) SaveFeedConfig(_ context.Context, config FeedConfig) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.configs[config.Symbol.String()] = config
	return nil
}

func (store *memoryStore) GetFeedConfig(_ context.Context, symbol Symbol) (FeedConfig, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	config, ok := store.configs[symbol.String()]
	if !ok {
		return FeedConfig{}, ErrFeedNotConfigured
	}
	return config, nil
}

func (store *memoryStore) ListFeedConfigs(context.Context) ([]FeedConfig, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	configs := make([]FeedConfig, 0, len(store.configs))
	for _, config := range store.configs {
		configs = append(configs, config)
	}
	sort.Slice(configs, func(left, right int) bool {
		return configs[left].Symbol.String() < configs[right].Symbol.String()
	})
	return configs, nil
}

func (store *memoryStore) SaveCachedPrice(_ context.Context, price CachedPrice) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.prices[price.Symbol.String()] = price
	return nil
}

func (store *memoryStore) GetCachedPrice(_ context.Context, symbol Symbol) (CachedPrice, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	price, ok := store.prices[symbol.String()]
	if !ok {
		return CachedPrice{}, ErrNoValidCachedData
	}
	return price, nil
}

func (store *memoryStore) IncrementUpdateCount(context.Context) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.updateCount++
	return store.updateCount, nil
}

func (store *memoryStore) UpdateCount(context.Context) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.updateCount, nil
}

type stubFeed struct {
	mutex    sync.Mutex
	metadata FeedMetadata
	latest   Round
	rounds   map[string]Round
	err      error
}

func (feed *stubFeed) LatestRound(context.Context) (Round, error) {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	if feed.err != nil {
		return Round{}, feed.err
	}
	return feed.latest, nil
}

func (feed *stubFeed) RoundData(_ context.Context, roundID RoundID) (Round, error) {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	if feed.err != nil {
		return Round{}, feed.err
	}
	round, ok := feed.rounds[roundID.String()]
	if !ok {
		return Round{}, errors.New("round not found")
	}
	return round, nil
}

func (feed *stubFeed) Metadata(context.Context) (FeedMetadata, error) {
	return feed.metadata, nil
}

func (feed *stubFeed) setLatest(round Round) {
	feed.mutex.Lock()
	defer feed.mutex.Unlock()
	feed.latest = round
}

type stubResolver struct {
	feeds map[string]Feed
}

func (resolver stubResolver) Resolve(_ context.Context, sourceRef string) (Feed, error) {
	feed, ok := resolver.feeds[sourceRef]
	if !ok {
		return nil, errors.New("unknown source")
	}
	return feed, nil
}

const (
	fixtureUpdater   = "oracle-bot"
	fixtureSource    = "feed:eth-usd"
	fixtureNowUnix   = int64(1_700_000_000)
	fixtureFeedScale = int32(8)
)

type oracleFixture struct {
	store     *memoryStore
	feed      *stubFeed
	clock     *int64
	updater   ledger.Identity
	service   *Service
	converter *Converter
}

func newOracleFixture(test *testing.T) *oracleFixture {
	test.Helper()
	updater, err := ledger.NewIdentity(fixtureUpdater)
	if err != nil {
		test.Fatalf("identity: %v", err)
	}
	gate, err := ledger.NewGate(ledger.NewCapabilitySet(map[ledger.Capability][]ledger.Identity{
		ledger.CapabilityOracleUpdater: {updater},
	}))
	if err != nil {
		test.Fatalf("gate: %v", err)
	}
	feed := &stubFeed{
		metadata: FeedMetadata{Description: "ETH / USD", Decimals: fixtureFeedScale},
		latest:   mustRound(test, "10", "2000", fixtureNowUnix-60, "10"),
		rounds:   map[string]Round{},
	}
	store := newMemoryStore(test)
	clock := fixtureNowUnix
	service, err := NewService(store, stubResolver{feeds: map[string]Feed{fixtureSource: feed}}, gate, func() int64 { return clock })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	converter, err := NewConverter(service)
	if err != nil {
		test.Fatalf("converter: %v", err)
	}
	return &oracleFixture{store: store, feed: feed, clock: &clock, updater: updater, service: service, converter: converter}
}

func (fixture *oracleFixture) configureDefault(test *testing.T) FeedConfig {
	test.Helper()
	config, err := fixture.service.ConfigureFeed(context.Background(), fixture.updater, FeedConfigInput{
		Symbol:    "eth/usd",
		SourceRef: fixtureSource,
	})
	if err != nil {
		test.Fatalf("configure feed: %v", err)
	}
	return config
}

// mustRound builds a round whose answer is given in whole units and scaled to the feed precision.
func mustRound(test *testing.T, roundID string, wholeAnswer string, updatedAt int64, answeredIn string) Round {
	test.Helper()
	answer, err := decimal.NewFromString(wholeAnswer)
	if err != nil {
		test.Fatalf("answer %q: %v", wholeAnswer, err)
	}
	return Round{
		RoundID:         mustRoundID(test, roundID),
		Answer:          answer.Shift(fixtureFeedScale),
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: mustRoundID(test, answeredIn),
	}
}

func mustRoundID(test *testing.T, raw string) RoundID {
	test.Helper()
	roundID, err := ParseRoundID(raw)
	if err != nil {
		test.Fatalf("round id %q: %v", raw, err)
	}
	return roundID
}
