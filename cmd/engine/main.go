package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"mosque/internal/automation"
	"mosque/internal/config"
	"mosque/internal/db"
	"mosque/internal/events"
	"mosque/internal/mqtt"
	"mosque/internal/prayertimes"
	"mosque/internal/registry"
	"mosque/internal/scheduler"
	"mosque/internal/store"
	"mosque/internal/taskqueue"
	"mosque/internal/telemetry"
	"mosque/internal/utils"
	"mosque/internal/web"
	"mosque/internal/web/api"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	utils.InitLogging(cfg.App.LogLevel)
	if !utils.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to load time zone: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	var backing store.Store
	if cfg.Redis.Addr != "" {
		redisClient, err := store.NewRedisClient(cfg.Redis.Addr)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		backing = store.NewRedisStore(redisClient, cfg.Redis.Channel)
	} else {
		log.Println("REDIS_ADDR not set, using in-memory store")
		backing = store.NewMemoryStore()
	}
	defer backing.Close()

	repo := store.NewRepository(backing, bus)
	if err := repo.Watch(ctx); err != nil {
		log.Printf("Failed to watch shared store, external changes will be missed: %v", err)
	}

	var dbConn *db.DB
	var history *db.History
	if cfg.DBURL != "" {
		dbConn, err = db.NewDB(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer dbConn.Close()
		if err := dbConn.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare DB: %v", err)
		}
		history = db.NewHistory(dbConn)
	} else {
		log.Println("DB_URL not set, execution history disabled")
	}

	router := mqtt.NewRouter(bus, mqtt.DefaultQueueSize)
	commands := automation.NewCommands(router)

	reg := registry.New(repo, bus, router)
	commands.SetTracker(reg)
	if history != nil {
		reg.SetRecorder(history)
	}
	reg.Load(ctx)
	reg.Watch(ctx)

	tracker := telemetry.NewTracker(bus)
	client := prayertimes.NewClient(cfg.Prayer.APIURL, 10*time.Second)
	prayers := prayertimes.NewStore(repo, client, cfg.Prayer.DefaultCity, loc)
	rules := automation.NewRuleSet(repo)

	router.Subscribe(mqtt.TopicDeviceDiscovery, reg.HandleDeviceStatus)
	router.Subscribe(mqtt.TopicWaterLevel, tracker.HandleWaterLevel)
	router.Subscribe(mqtt.TopicElectricity, tracker.HandleElectricity)
	router.Subscribe(mqtt.TopicLightsStatus, tracker.HandleLightsStatus)
	router.Subscribe(mqtt.TopicPrayerAdjust, prayers.HandleAdjust)

	mqtt.Connect(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		QoS:      1,
	}, router)

	// Refreshes run on asynq when Redis is shared, in-process otherwise
	var requestRefresh func(city string)
	var tq *taskqueue.Client
	var worker *taskqueue.Worker
	if cfg.Redis.Addr != "" {
		tq = taskqueue.NewClient(cfg.Redis.Addr)
		worker = taskqueue.NewWorker(cfg.Redis.Addr, taskqueue.NewHandlers(prayers))
		if err := worker.Start(); err != nil {
			log.Fatalf("Failed to start workers: %v", err)
		}
		requestRefresh = func(city string) {
			if err := tq.EnqueueRefresh(city); err != nil {
				log.Printf("Failed to request prayer time refresh: %v", err)
			}
		}
	} else {
		requestRefresh = func(city string) {
			go func() {
				if _, err := prayers.FetchAndStore(ctx, city); err != nil {
					log.Printf("Prayer time refresh failed, keeping stored times: %v", err)
				}
			}()
		}
	}

	schedDeps := scheduler.Deps{
		Rules:    rules,
		Prayers:  prayers,
		Repo:     repo,
		Commands: commands,
		Bus:      bus,
	}
	if history != nil {
		schedDeps.History = history
	}
	sched := scheduler.NewScheduler(schedDeps, cfg.Scheduler.Tick, loc)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	if _, err := sched.AddJob("device-sweep", fmt.Sprintf("@every %s", cfg.Scheduler.DeviceSweep), func() {
		reg.SweepTimeouts(ctx, cfg.Scheduler.DeviceTimeout)
	}); err != nil {
		log.Fatalf("Failed to add device sweep: %v", err)
	}
	checkRefresh := func() {
		if prayers.NeedsRefresh(ctx, time.Now()) {
			requestRefresh("")
		}
	}
	if _, err := sched.AddJob("prayer-refresh-check", fmt.Sprintf("@every %s", cfg.Scheduler.RefreshCheck), checkRefresh); err != nil {
		log.Fatalf("Failed to add prayer refresh check: %v", err)
	}
	checkRefresh()

	webDeps := api.Dependencies{
		Registry:       reg,
		Rules:          rules,
		Scheduler:      sched,
		Commands:       commands,
		Prayers:        prayers,
		Locations:      client,
		Telemetry:      tracker,
		Broker:         router,
		Bus:            bus,
		RequestRefresh: requestRefresh,
	}
	if dbConn != nil {
		webDeps.History = dbConn
	}
	webServer := web.NewWebServer(webDeps)
	go func() {
		if err := webServer.Start(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			log.Fatalf("Web server failed: %v", err)
		}
	}()

	var mdnsConn *mdns.Conn
	if cfg.MDNSName != "" {
		mdnsConn = startMDNSServer(cfg.MDNSName)
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Web server shutdown: %v", err)
	}
	sched.Stop()
	if worker != nil {
		worker.Stop()
		tq.Close()
	}
	router.Close()
	if history != nil {
		history.Wait()
	}
	if mdnsConn != nil {
		mdnsConn.Close()
	}
	cancel()
	log.Println("Shutdown complete")
}

func startMDNSServer(localName string) *mdns.Conn {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Println("Failed to resolve UDP4 address for mDNS:", err)
		return nil
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Println("Failed to resolve UDP6 address for mDNS:", err)
		return nil
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Println("Failed to listen on UDP4 for mDNS:", err)
		return nil
	}

	// IPv6 is optional on small gateways
	var pc6 *ipv6.PacketConn
	if l6, err := net.ListenUDP("udp6", addr6); err != nil {
		log.Println("mDNS on UDP6 unavailable:", err)
	} else {
		pc6 = ipv6.NewPacketConn(l6)
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), pc6, &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.Println("Failed to start mDNS server:", err)
		return nil
	}
	log.Printf("mDNS: Advertising %s", localName)
	return conn
}
