// Package app wires every collaborator together: logger, config, postgres,
// scheduler store, event bus (+ optional Redis relay), secrets store,
// artefact client, executor loop, and the HTTP router — mirroring the
// teacher's internal/app/app.go lifecycle (New/Start/Run/Close) with a
// flowmium-shaped dependency graph in place of the course-generation one.
package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/flowmium/flowmium/internal/artefacts"
	"github.com/flowmium/flowmium/internal/db"
	flowhttp "github.com/flowmium/flowmium/internal/http"
	httpH "github.com/flowmium/flowmium/internal/http/handlers"
	"github.com/flowmium/flowmium/internal/http/ws"
	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/realtime/bus"
	"github.com/flowmium/flowmium/internal/realtime/events"
	"github.com/flowmium/flowmium/internal/secrets"
	"github.com/flowmium/flowmium/internal/server/executor"
	"github.com/flowmium/flowmium/internal/server/scheduler"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *flowhttp.Server
	Cfg      Config
	Store    scheduler.Store
	Executor *executor.Executor
	Bus      bus.Bus
	Relay    bus.Relay
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(cfg.PostgresURL, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	eventBus := bus.NewBroadcastBus()

	var relay bus.Relay
	if os.Getenv("REDIS_ADDR") != "" {
		relay, err = bus.NewRedisRelay(log)
		if err != nil {
			log.Warn("redis relay unavailable, continuing with in-process bus only", "error", err)
			relay = nil
		}
	}

	// Scheduler-originated events fan out through the relay (if any) so
	// other replicas watching Redis observe them too; events arriving FROM
	// the relay are republished only to the local bus in Start(), below,
	// to avoid an outward/inward echo loop.
	store := scheduler.NewStore(theDB, bus.WithRelay(eventBus, relay))
	secretStore := secrets.NewStore(theDB)

	k8sClient, err := newKubernetesClient(cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init kubernetes client: %w", err)
	}
	runtime := executor.NewK8sRuntime(k8sClient)

	jobCfg := executor.JobConfig{
		Namespace:        cfg.Namespace,
		InitContainerImg: cfg.InitContainerImg,
		FlowIDLabel:      cfg.FlowIDLabel,
		TaskIDLabel:      cfg.TaskIDLabel,
		BucketName:       cfg.BucketName,
		AccessKey:        cfg.AccessKey,
		SecretKey:        cfg.SecretKey,
		TaskStoreURL:     cfg.TaskStoreURL,
	}
	ex := executor.New(store, runtime, secretStore, jobCfg, log)

	artefactClient := artefacts.NewClient(cfg.StoreURL, cfg.BucketName, cfg.AccessKey, cfg.SecretKey)

	server := flowhttp.NewServer(flowhttp.RouterConfig{
		JobHandler:      httpH.NewJobHandler(ex, store),
		ArtefactHandler: httpH.NewArtefactHandler(artefactClient),
		SecretHandler:   httpH.NewSecretHandler(secretStore),
		SchedulerWS:     ws.NewSchedulerHandler(eventBus, log),
		Log:             log,
	})

	return &App{
		Log:      log,
		DB:       theDB,
		Server:   server,
		Cfg:      cfg,
		Store:    store,
		Executor: ex,
		Bus:      eventBus,
		Relay:    relay,
	}, nil
}

func newKubernetesClient(cfg Config) (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = os.Getenv("HOME") + "/.kube/config"
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig: %w", err)
		}
	}
	return kubernetes.NewForConfig(restCfg)
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Executor.Start(ctx)

	if a.Relay != nil {
		forward := func(evt events.Event) {
			_ = a.Bus.Publish(ctx, evt)
		}
		if err := a.Relay.StartForwarder(ctx, forward); err != nil {
			a.Log.Warn("redis relay forwarder failed to start", "error", err)
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Relay != nil {
		_ = a.Relay.Close()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
