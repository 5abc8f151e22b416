package data

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"shortly/internal/biz"
	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// IntegrationTestSuite exercises the postgres and redis backed stores
// against real containers.
type IntegrationTestSuite struct {
	suite.Suite
	ctx            context.Context
	pgContainer    *postgres.PostgresContainer
	redisContainer *tcredis.RedisContainer
	db             *sql.DB
	rdb            *redis.Client
	data           *Data
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	pgContainer, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(s.T(), err)
	s.pgContainer = pgContainer

	redisContainer, err := tcredis.Run(s.ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(s.T(), err)
	s.redisContainer = redisContainer

	pgConnStr, err := pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	redisEndpoint, err := redisContainer.Endpoint(s.ctx, "")
	require.NoError(s.T(), err)

	s.db, err = sql.Open("postgres", pgConnStr)
	require.NoError(s.T(), err)

	_, err = s.db.ExecContext(s.ctx, schema)
	require.NoError(s.T(), err)

	s.rdb = redis.NewClient(&redis.Options{
		Addr: redisEndpoint,
	})

	s.data = &Data{db: s.db, rdb: s.rdb}
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(s.ctx)
	}
	if s.redisContainer != nil {
		s.redisContainer.Terminate(s.ctx)
	}
}

func (s *IntegrationTestSuite) TearDownTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE short_links, click_counts; DELETE FROM id_counters`)
	require.NoError(s.T(), err)
	s.rdb.FlushAll(s.ctx)
}

func TestIntegrationTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) shortenerConf() *conf.Shortener {
	return &conf.Shortener{
		CounterKey:  "test_ids",
		IDBatchSize: 10,
		CacheTTL:    conf.Duration("1m"),
		ClickTopic:  "clicks-test",
	}
}

func (s *IntegrationTestSuite) consumerConf() *conf.Consumer {
	return &conf.Consumer{
		Topic:      "clicks-test",
		Group:      "click-analytics-test",
		BatchCount: 100,
		Block:      conf.Duration("100ms"),
		IdleSleep:  conf.Duration("50ms"),
		RetrySleep: conf.Duration("50ms"),
	}
}

func (s *IntegrationTestSuite) TestCounterStore_AddAndReturn() {
	store := NewCounterStore(s.data, log.DefaultLogger)

	// First use self-seeds the row.
	v, err := store.AddAndReturn(s.ctx, "counter_a", 10)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(10), v)

	v, err = store.AddAndReturn(s.ctx, "counter_a", 10)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(20), v)

	// Counters are independent per key.
	v, err = store.AddAndReturn(s.ctx, "counter_b", 5)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(5), v)
}

func (s *IntegrationTestSuite) TestCounterStore_ConcurrentRangesDisjoint() {
	store := NewCounterStore(s.data, log.DefaultLogger)

	const (
		workers = 8
		rounds  = 20
		delta   = 100
	)

	results := make(chan int64, workers*rounds)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				v, err := store.AddAndReturn(s.ctx, "concurrent", delta)
				assert.NoError(s.T(), err)
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	// Every add-and-return must observe a distinct new value; duplicates
	// would mean two callers were handed the same range.
	seen := make(map[int64]struct{}, workers*rounds)
	for v := range results {
		_, dup := seen[v]
		require.False(s.T(), dup, "value %d returned twice", v)
		seen[v] = struct{}{}
	}
	assert.Len(s.T(), seen, workers*rounds)
}

func (s *IntegrationTestSuite) TestAllocator_EndToEndAgainstPostgres() {
	store := NewCounterStore(s.data, log.DefaultLogger)
	alloc := biz.NewIDAllocator(store, s.shortenerConf(), log.DefaultLogger)

	for want := int64(0); want < 25; want++ {
		got, err := alloc.NextID(s.ctx)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), want, got)
	}

	var next int64
	err := s.db.QueryRowContext(s.ctx, `SELECT next_id FROM id_counters WHERE key = $1`, "test_ids").Scan(&next)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(30), next)
}

func (s *IntegrationTestSuite) TestShortLinkRepo_SaveAndFind() {
	repo := NewShortLinkRepo(s.data, log.DefaultLogger)

	link := &biz.ShortLink{
		ID:          uuid.New(),
		OriginalURL: "https://example.com",
		ShortCode:   "abc123",
		OwnerID:     uuid.New(),
		IsActive:    true,
	}
	require.NoError(s.T(), repo.Save(s.ctx, link))
	assert.False(s.T(), link.CreatedAt.IsZero())

	found, err := repo.FindByShortCode(s.ctx, "abc123")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), link.ID, found.ID)
	assert.Equal(s.T(), "https://example.com", found.OriginalURL)
	assert.True(s.T(), found.IsActive)
	assert.Nil(s.T(), found.ExpiresAt)

	_, err = repo.FindByShortCode(s.ctx, "missing")
	assert.ErrorIs(s.T(), err, biz.ErrLinkNotFound)
}

func (s *IntegrationTestSuite) TestShortLinkRepo_DuplicateCode() {
	repo := NewShortLinkRepo(s.data, log.DefaultLogger)
	owner := uuid.New()

	first := &biz.ShortLink{ID: uuid.New(), OriginalURL: "https://a.example", ShortCode: "promo", OwnerID: owner, IsActive: true}
	require.NoError(s.T(), repo.Save(s.ctx, first))

	second := &biz.ShortLink{ID: uuid.New(), OriginalURL: "https://b.example", ShortCode: "promo", OwnerID: owner, IsActive: true}
	err := repo.Save(s.ctx, second)
	assert.ErrorIs(s.T(), err, biz.ErrShortCodeExists)
}

func (s *IntegrationTestSuite) TestShortLinkRepo_AliasRace() {
	repo := NewShortLinkRepo(s.data, log.DefaultLogger)

	// Two concurrent creators racing on the same alias: the uniqueness
	// constraint must let exactly one through.
	const racers = 2
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Save(s.ctx, &biz.ShortLink{
				ID:          uuid.New(),
				OriginalURL: "https://example.com",
				ShortCode:   "raced",
				OwnerID:     uuid.New(),
				IsActive:    true,
			})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflict int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case err == biz.ErrShortCodeExists:
			conflict++
		default:
			s.T().Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(s.T(), 1, ok)
	assert.Equal(s.T(), 1, conflict)
}

func (s *IntegrationTestSuite) TestShortLinkRepo_ListAndDeactivate() {
	repo := NewShortLinkRepo(s.data, log.DefaultLogger)
	owner := uuid.New()

	for _, code := range []string{"one", "two"} {
		require.NoError(s.T(), repo.Save(s.ctx, &biz.ShortLink{
			ID: uuid.New(), OriginalURL: "https://example.com/" + code, ShortCode: code, OwnerID: owner, IsActive: true,
		}))
	}
	require.NoError(s.T(), repo.Save(s.ctx, &biz.ShortLink{
		ID: uuid.New(), OriginalURL: "https://example.com/x", ShortCode: "foreign", OwnerID: uuid.New(), IsActive: true,
	}))

	links, err := repo.ListByOwner(s.ctx, owner)
	require.NoError(s.T(), err)
	assert.Len(s.T(), links, 2)

	require.NoError(s.T(), repo.Deactivate(s.ctx, "one", owner))
	found, err := repo.FindByShortCode(s.ctx, "one")
	require.NoError(s.T(), err)
	assert.False(s.T(), found.IsActive)

	// Wrong owner must not deactivate.
	err = repo.Deactivate(s.ctx, "two", uuid.New())
	assert.ErrorIs(s.T(), err, biz.ErrLinkNotFound)
}

func (s *IntegrationTestSuite) TestRedirectCache_RoundTrip() {
	cache := NewRedirectCache(s.data, s.shortenerConf(), log.DefaultLogger)

	_, ok := cache.Get(s.ctx, "nothing")
	assert.False(s.T(), ok)

	cache.Set(s.ctx, "abc123", "https://example.com")
	target, ok := cache.Get(s.ctx, "abc123")
	require.True(s.T(), ok)
	assert.Equal(s.T(), "https://example.com", target)

	ttl := s.rdb.TTL(s.ctx, "redirect:abc123").Val()
	assert.Greater(s.T(), ttl, time.Duration(0))
}

func (s *IntegrationTestSuite) TestClickStream_GroupSetupIsIdempotent() {
	source := NewClickEventSource(s.data, s.consumerConf(), log.DefaultLogger)

	require.NoError(s.T(), source.EnsureGroup(s.ctx))
	// Second creation hits BUSYGROUP and must still succeed.
	require.NoError(s.T(), source.EnsureGroup(s.ctx))
}

func (s *IntegrationTestSuite) TestClickStream_ProduceReadAck() {
	producer := NewClickProducer(s.data, s.shortenerConf(), log.DefaultLogger)
	source := NewClickEventSource(s.data, s.consumerConf(), log.DefaultLogger)
	require.NoError(s.T(), source.EnsureGroup(s.ctx))

	require.NoError(s.T(), producer.Produce(s.ctx, "abc123", "203.0.113.9"))
	require.NoError(s.T(), producer.Produce(s.ctx, "abc123", "203.0.113.10"))

	batch, err := source.ReadBatch(s.ctx, "it-consumer")
	require.NoError(s.T(), err)
	require.Len(s.T(), batch, 2)
	assert.Equal(s.T(), "abc123", batch[0].ShortCode)
	assert.Equal(s.T(), "203.0.113.9", batch[0].ClientIP)
	assert.NotEmpty(s.T(), batch[0].ID)

	ids := []string{batch[0].ID, batch[1].ID}
	require.NoError(s.T(), source.Ack(s.ctx, ids...))

	pending, err := s.rdb.XPending(s.ctx, "clicks-test", "click-analytics-test").Result()
	require.NoError(s.T(), err)
	assert.Zero(s.T(), pending.Count)
}

func (s *IntegrationTestSuite) TestClickAggregateRepo_UpsertAndTotal() {
	repo := NewClickAggregateRepo(s.data, log.DefaultLogger)

	deltas := []*biz.ClickAggregate{
		{ShortCode: "abc", CountryCode: "XX", Count: 3},
		{ShortCode: "abc", CountryCode: "DE", Count: 1},
	}
	require.NoError(s.T(), repo.AddCounts(s.ctx, deltas))
	require.NoError(s.T(), repo.AddCounts(s.ctx, []*biz.ClickAggregate{
		{ShortCode: "abc", CountryCode: "XX", Count: 2},
	}))

	total, err := repo.TotalClicks(s.ctx, "abc")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(6), total)

	total, err = repo.TotalClicks(s.ctx, "unknown")
	require.NoError(s.T(), err)
	assert.Zero(s.T(), total)
}

func (s *IntegrationTestSuite) TestClickPipeline_EndToEnd() {
	producer := NewClickProducer(s.data, s.shortenerConf(), log.DefaultLogger)
	source := NewClickEventSource(s.data, s.consumerConf(), log.DefaultLogger)
	repo := NewClickAggregateRepo(s.data, log.DefaultLogger)

	agg := biz.NewClickAggregator(source, repo, biz.NewCountryResolver(), s.consumerConf(), log.DefaultLogger)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = agg.Run(ctx)
	}()

	// Give the aggregator time to create the group: entries produced before
	// group creation at "$" would not be delivered.
	require.Eventually(s.T(), func() bool {
		groups, err := s.rdb.XInfoGroups(s.ctx, "clicks-test").Result()
		return err == nil && len(groups) > 0
	}, 5*time.Second, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(s.T(), producer.Produce(s.ctx, "e2e", "203.0.113.9"))
	}

	require.Eventually(s.T(), func() bool {
		total, err := repo.TotalClicks(s.ctx, "e2e")
		return err == nil && total == 5
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.T().Fatal("aggregator did not stop")
	}
}
