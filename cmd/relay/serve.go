package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"

	"github.com/kaloslazo/NubuStream/internal/audit"
	"github.com/kaloslazo/NubuStream/internal/config"
	"github.com/kaloslazo/NubuStream/internal/durability"
	"github.com/kaloslazo/NubuStream/internal/messaging"
	"github.com/kaloslazo/NubuStream/internal/metrics"
	"github.com/kaloslazo/NubuStream/internal/moderation"
	"github.com/kaloslazo/NubuStream/internal/relay"
	"github.com/kaloslazo/NubuStream/internal/session"
	"github.com/kaloslazo/NubuStream/internal/ws"
)

// serveCmd starts the relay.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if limit, err := ws.RaiseFileLimit(); err != nil {
		log.Printf("could not raise file limit: %v", err)
	} else if limit > 0 {
		log.Printf("file descriptor limit: %d", limit)
	}

	backend, err := cfg.Backend()
	if err != nil {
		return err
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.ServerName

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sink := durability.Open(startCtx, durability.Config{
		Backend:   backend,
		RedisAddr: cfg.RedisAddr,
		NATS:      natsConfig,
	})
	startCancel()

	var policy moderation.Policy = moderation.NewKeywordPolicy(cfg.BlockedWords)
	if cfg.ModerationSpamPatterns {
		policy = moderation.Chain(policy, moderation.SpamPolicy{})
	}

	registry := session.NewRegistry(session.Options{ReclaimEmptyRooms: cfg.ReclaimEmptyRooms})
	svc := relay.New(registry, policy, metrics.NewCollector(), sink, relay.Options{
		NotifyRejections:     cfg.NotifyRejections,
		DurabilityTimeout:    cfg.DurabilityTimeout,
		BroadcastConcurrency: cfg.BroadcastConcurrency,
	})

	var auditStore *audit.Store
	if cfg.AuditDatabaseURL != "" {
		auditStore = openAudit(cfg.AuditDatabaseURL)
		if auditStore != nil {
			svc.SetAuditor(auditStore)
		}
	}

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		AuthTimeout:    cfg.AuthTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
	}
	server := ws.NewServer(serverConfig, svc.WSHandlers(ws.NewMessageDispatcher()))

	log.Printf("NubuStream relay starting")
	log.Printf("  listen_addr:      %s", cfg.ListenAddr)
	log.Printf("  server_name:      %s", cfg.ServerName)
	log.Printf("  max_connections:  %d", cfg.MaxConnections)
	log.Printf("  auth_timeout:     %s", cfg.AuthTimeout)
	log.Printf("  heartbeat:        %s (+%s)", cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	log.Printf("  durability:       %s (available=%v)", backend, sink.Available())
	log.Printf("  audit:            %v", auditStore != nil)
	log.Printf("  reclaim_rooms:    %v", cfg.ReclaimEmptyRooms)
	log.Printf("  notify_rejection: %v", cfg.NotifyRejections)

	statusCtx, stopStatus := context.WithCancel(context.Background())
	go svc.RunStatusLog(statusCtx, cfg.StatusLogInterval)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("relay server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				stopStatus()
				err := server.Shutdown(ctx)
				if cerr := sink.Close(); cerr != nil {
					log.Printf("durability close: %v", cerr)
				}
				if auditStore != nil {
					if cerr := auditStore.Close(); cerr != nil {
						log.Printf("audit close: %v", cerr)
					}
				}
				return err
			},
		},
	)

	exitCode := <-wait
	log.Printf("relay exited with code: %d", exitCode)
	os.Exit(exitCode)
	return nil
}

// openAudit connects to the audit database and applies migrations. Failures
// are logged and disable auditing.
func openAudit(dsn string) *audit.Store {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := audit.Open(ctx, dsn)
	if err != nil {
		log.Printf("[audit] %v; rejections will not be recorded", err)
		return nil
	}
	if err := audit.Migrate(db, audit.Up); err != nil {
		log.Printf("[audit] %v; rejections will not be recorded", err)
		db.Close()
		return nil
	}
	return audit.NewStore(db)
}
