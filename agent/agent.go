package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/converso/flowengine/analytics"
	"github.com/converso/flowengine/channel"
	"github.com/converso/flowengine/config"
	"github.com/converso/flowengine/dispatcher"
	"github.com/converso/flowengine/flow"
	"github.com/converso/flowengine/logger"
	"github.com/converso/flowengine/persistence"
	"github.com/converso/flowengine/persistence/memory"
	"github.com/converso/flowengine/persistence/redis"
	"github.com/converso/flowengine/rest"
)

// Agent assembles the engine: storage, graph loader, channel adapters,
// dispatcher and the http surface, in dependency order.
type Agent struct {
	Config config.Config

	definitions persistence.MetadataStorage
	executions  persistence.ExecutionStorage
	logs        persistence.LogSink
	contacts    persistence.ContactStorage
	timers      persistence.DelayQueue

	loader     *flow.Loader
	dispatcher *dispatcher.Dispatcher
	httpServer *rest.Server

	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupLogSink,
		a.setupDispatcher,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		rdConf := redis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		a.definitions = redis.NewRedisMetadataStorage(rdConf)
		a.executions = redis.NewRedisExecutionDao(rdConf)
		a.logs = redis.NewRedisLogSink(rdConf)
		a.contacts = redis.NewRedisContactDao(rdConf)
		a.timers = redis.NewRedisDelayQueue(rdConf)
	case config.STORAGE_TYPE_INMEM:
		store := memory.NewStorage()
		a.definitions = store
		a.executions = store
		a.logs = store
		a.contacts = store
		a.timers = store
	default:
		return fmt.Errorf("storage %s not supported", a.Config.StorageType)
	}
	a.loader = flow.NewLoader(a.definitions)
	return nil
}

func (a *Agent) setupLogSink() error {
	var collector analytics.ExecutionDataCollector = analytics.NoopDataCollector{}
	if a.Config.AuditLogFile != "" {
		c, err := analytics.NewLogFileDataCollector(a.Config.AuditLogFile)
		if err != nil {
			return err
		}
		collector = c
	}
	a.logs = analytics.NewAuditingSink(a.logs, collector)
	return nil
}

func (a *Agent) setupDispatcher() error {
	deps := flow.Dependencies{
		Definitions: a.definitions,
		Executions:  a.executions,
		Logs:        a.logs,
		Contacts:    a.contacts,
		Timers:      a.timers,
		Channel:     channel.NewHttpGateway(a.Config.GatewayUrl, a.Config.GatewayToken),
		Webhooks:    channel.NewHttpWebhookCaller(),
		Now:         time.Now,
	}
	a.dispatcher = dispatcher.NewDispatcher(a.loader, deps, a.Config.PartitionCount, a.Config.ExecutorCapacity, a.Config.DelayPollSeconds, &a.wg)
	a.dispatcher.Start()
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.definitions, a.executions, a.logs, a.dispatcher)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.dispatcher.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
