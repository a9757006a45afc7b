package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acme/callcenter-router/internal/conference"
	"github.com/acme/callcenter-router/internal/config"
	"github.com/acme/callcenter-router/internal/infra/db"
	"github.com/acme/callcenter-router/internal/infra/redis"
	"github.com/acme/callcenter-router/internal/lifecycle"
	"github.com/acme/callcenter-router/internal/notify"
	"github.com/acme/callcenter-router/internal/queuestore"
	"github.com/acme/callcenter-router/internal/registry"
	"github.com/acme/callcenter-router/internal/repository"
	pgrepo "github.com/acme/callcenter-router/internal/repository/postgres"
	scyllarepo "github.com/acme/callcenter-router/internal/repository/scylla"
	"github.com/acme/callcenter-router/internal/routing"
	"github.com/acme/callcenter-router/internal/selector"
	telephonySvc "github.com/acme/callcenter-router/internal/telephony"
	telephonyMock "github.com/acme/callcenter-router/internal/telephony/mock"
	"github.com/acme/callcenter-router/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *notify.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		coordination *coordination
		providers    *providers
	}
}

type repositories struct {
	Agents       repository.AgentRepository
	Calls        repository.CallRepository
	Legs         repository.CallLegRepository
	Conferences  repository.ConferenceRepository
	Participants repository.ParticipantRepository
	Events       repository.EventStore
}

type services struct {
	Lifecycle   *lifecycle.Service
	Conferences *conference.Manager
	Coordinator *routing.Coordinator
}

type publishers struct {
	AgentNotifier *notify.AgentNotifier
	CallEvents    *notify.CallEventPublisher
	QueueStats    *notify.QueueStatsPublisher
}

type coordination struct {
	Registry registry.Registry
	Queues   queuestore.Store
	Selector *selector.Selector
}

type providers struct {
	Telephony telephonySvc.Provider
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := notify.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Agents:       pgrepo.NewAgentRepository(c.Postgres.DB()),
			Calls:        pgrepo.NewCallRepository(c.Postgres.DB()),
			Legs:         pgrepo.NewCallLegRepository(c.Postgres.DB()),
			Conferences:  pgrepo.NewConferenceRepository(c.Postgres.DB()),
			Participants: pgrepo.NewParticipantRepository(c.Postgres.DB()),
			Events:       scyllarepo.NewEventStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			AgentNotifier: notify.NewAgentNotifier(c.Kafka, c.Config.Kafka.AgentTopicPrefix),
			CallEvents:    notify.NewCallEventPublisher(c.Kafka, c.Config.Kafka.CallEventTopic),
			QueueStats:    notify.NewQueueStatsPublisher(c.Kafka, c.Config.Kafka.QueueStatsTopic),
		}

		avgHandle := time.Duration(c.Config.Routing.AvgHandleSeconds) * time.Second
		coord := &coordination{
			Registry: registry.NewRedisRegistry(c.Redis.Inner(), c.Config.Agents.StatusTTL),
			Queues:   queuestore.NewRedisStore(c.Redis.Inner(), avgHandle),
		}
		coord.Selector = selector.New(
			coord.Registry,
			repos.Agents,
			selector.NewRedisCursor(c.Redis.Inner()),
			c.Logger.Logger,
		)

		svcs := &services{
			Lifecycle: lifecycle.NewService(repos.Calls, repos.Legs, c.Logger.Logger),
		}

		svcs.Conferences = conference.NewManager(
			repos.Conferences,
			repos.Participants,
			conference.NewRedisHints(c.Redis.Inner(), 0),
			svcs.Lifecycle,
			c.Logger.Logger,
		)

		svcs.Coordinator = routing.NewCoordinator(
			coord.Queues,
			coord.Selector,
			coord.Registry,
			svcs.Lifecycle,
			svcs.Conferences,
			pubs.AgentNotifier,
			pubs.CallEvents,
			repos.Events,
			c.Config.Routing,
			c.Logger.Logger,
		)

		prov := &providers{}
		if c.Config.Platform.Space != "" {
			prov.Telephony = telephonySvc.NewHTTPProvider(c.Config.Platform)
		} else {
			prov.Telephony = telephonyMock.NewProvider()
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.coordination = coord
		c.components.services = svcs
		c.components.providers = prov
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Coordination exposes the Redis-backed routing state.
func (c *Container) Coordination() *coordination {
	c.initComponents()
	return c.components.coordination
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.AgentNotifier != nil {
			if err := p.AgentNotifier.Close(); err != nil {
				errs = append(errs, fmt.Errorf("agent notifier close: %w", err))
			}
		}
		if p.CallEvents != nil {
			if err := p.CallEvents.Close(); err != nil {
				errs = append(errs, fmt.Errorf("call event publisher close: %w", err))
			}
		}
		if p.QueueStats != nil {
			if err := p.QueueStats.Close(); err != nil {
				errs = append(errs, fmt.Errorf("queue stats publisher close: %w", err))
			}
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist. Per-agent
// notification topics are created on first write and are not listed
// here.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := make([]string, 0, 2)
	if c.Config.Kafka.CallEventTopic != "" {
		topics = append(topics, c.Config.Kafka.CallEventTopic)
	}
	if c.Config.Kafka.QueueStatsTopic != "" {
		topics = append(topics, c.Config.Kafka.QueueStatsTopic)
	}
	if len(topics) == 0 {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}
