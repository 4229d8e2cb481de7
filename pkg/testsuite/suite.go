package testsuite

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcredis.RedisContainer
	DbPool         *pgxpool.Pool
	Redis          *goredis.Client
	KafkaBrokers   []string
	Ctx            context.Context
	Tracer         trace.Tracer
	Propagator     propagation.TextMapPropagator
}

// SetupInfrastructure starts Postgres with the migrations found at
// migrationsRelPath applied. Kafka and Redis start only when requested.
func (s *BaseSuite) SetupInfrastructure(migrationsRelPath string, withKafka, withRedis bool) {
	s.Ctx = context.Background()
	s.Tracer = noop.NewTracerProvider().Tracer("testsuite")
	s.Propagator = propagation.TraceContext{}

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	connStr, err := s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	if withKafka {
		s.KafkaContainer, err = kafka.Run(
			s.Ctx,
			"confluentinc/cp-kafka:7.5.0",
			kafka.WithClusterID("test-cluster"),
		)
		s.Require().NoError(err)

		s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
		s.Require().NoError(err)
	}

	if withRedis {
		s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
		s.Require().NoError(err)

		redisURL, err := s.RedisContainer.ConnectionString(s.Ctx)
		s.Require().NoError(err)

		opts, err := goredis.ParseURL(redisURL)
		s.Require().NoError(err)

		s.Redis = goredis.NewClient(opts)
	}

	absPath, err := filepath.Abs(migrationsRelPath)
	s.Require().NoError(err)

	sourceURL := "file://" + absPath
	log.Printf("Running migrations from: %s", sourceURL)

	m, err := migrate.New(sourceURL, connStr)
	s.Require().NoError(err)
	s.Require().NoError(m.Up())

	s.DbPool, err = pgxpool.New(s.Ctx, connStr)
	s.Require().NoError(err)
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}

	terminate := func(name string, c testcontainers.Container) {
		if err := c.Terminate(s.Ctx); err != nil {
			log.Printf("Failed to terminate %s container: %v", name, err)
		}
	}

	if s.PgContainer != nil {
		terminate("postgres", s.PgContainer)
	}
	if s.KafkaContainer != nil {
		terminate("kafka", s.KafkaContainer)
	}
	if s.RedisContainer != nil {
		terminate("redis", s.RedisContainer)
	}
}

func (s *BaseSuite) TruncateTables(tableNames ...string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tableNames, ", ")))
	s.Require().NoError(err)

	if s.Redis != nil {
		s.Require().NoError(s.Redis.FlushAll(s.Ctx).Err())
	}
}

func (s *BaseSuite) CountRows(tableName string) int {
	var count int
	err := s.DbPool.QueryRow(s.Ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)).Scan(&count)
	s.Require().NoError(err)

	return count
}
