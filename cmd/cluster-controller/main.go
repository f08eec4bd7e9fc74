// Command cluster-controller wires the message router and the local
// capabilities directory together and runs them until a shutdown signal
// arrives. Flag/config parsing and component wiring only: the CLI itself
// is intentionally thin.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshbus/clustercontroller/internal/adminserver"
	"github.com/meshbus/clustercontroller/internal/config"
	"github.com/meshbus/clustercontroller/internal/logging"
	"github.com/meshbus/clustercontroller/pkg/gdclient"
	"github.com/meshbus/clustercontroller/pkg/lcd"
	"github.com/meshbus/clustercontroller/pkg/lcdstore"
	"github.com/meshbus/clustercontroller/pkg/multicast"
	"github.com/meshbus/clustercontroller/pkg/router"
	"github.com/meshbus/clustercontroller/pkg/routingtable"
	"github.com/meshbus/clustercontroller/pkg/transport"
)

// payloadEncoder hands a message's already-opaque Payload straight to the
// websocket connection: the wire encoding of the payload itself is out of
// scope, so there is nothing to transform here.
type payloadEncoder struct{}

func (payloadEncoder) Encode(msg transport.Message) ([]byte, error) {
	if m, ok := msg.(*router.Message); ok {
		return m.Payload, nil
	}
	return nil, nil
}

func main() {
	var configPath, logLevel string

	cmd := &cobra.Command{
		Use:   "cluster-controller",
		Short: "Runs the cluster-controller message router and local capabilities directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML settings document")
	cmd.Flags().StringVar(&logLevel, "log-level", log.InfoLevel.String(), "log level, must be one of: panic, fatal, error, warn, info, debug")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	if err := logging.Configure(logLevel); err != nil {
		return err
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	table := routingtable.New()
	multicastDir := multicast.New()
	lcdStore := lcdstore.New()

	if settings.PersistRoutingTable {
		if data, err := os.ReadFile(settings.RoutingTableFile); err == nil {
			if err := table.Load(data); err != nil {
				log.Warnf("routing table: discarding unreadable persisted state: %v", err)
			}
		}
		if data, err := os.ReadFile(settings.MulticastDirectoryFile); err == nil {
			if err := multicastDir.Load(data); err != nil {
				log.Warnf("multicast directory: discarding unreadable persisted state: %v", err)
			}
		}
	}
	if settings.IsLocalCapabilitiesDirectoryPersistencyEnabled {
		if data, err := os.ReadFile(settings.LocalCapabilitiesDirectoryFile); err == nil {
			if err := lcdStore.Load(data); err != nil {
				log.Warnf("local capabilities directory: discarding unreadable persisted state: %v", err)
			}
		}
	}

	wsFactory := transport.NewWebSocketStubFactory(payloadEncoder{})
	fakeFactory := transport.NewFakeStubFactory()
	stubFactory := transport.NewCompositeStubFactory(wsFactory, fakeFactory)

	r := router.New(router.Config{
		SendMsgRetryIntervalMs:      settings.SendMsgRetryIntervalMs,
		MaxAclRetryIntervalMs:       settings.MaxAclRetryIntervalMs,
		MessageQueueCleanerPeriod:   time.Duration(settings.MessageQueueCleanerPeriodMs) * time.Millisecond,
		RoutingTableCleanupInterval: time.Duration(settings.RoutingTableCleanupIntervalMs) * time.Millisecond,
		Workers:                     settings.RouterWorkers,
	}, table, multicastDir, stubFactory, nil, nil, nil)
	r.StartMaintenance()
	defer r.Shutdown(context.Background())

	registry := prometheus.NewRegistry()
	for _, c := range r.Metrics() {
		registry.MustRegister(c)
	}
	registry.MustRegister(grpc_prometheus.DefaultClientMetrics)

	var global lcd.GlobalDirectory
	if settings.GlobalDirectoryAddr != "" {
		client, err := gdclient.New(settings.GlobalDirectoryAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		global = client
	}

	directory := lcd.New(lcd.Config{
		ClusterControllerID:                   settings.ClusterControllerID,
		KnownGbids:                             settings.KnownGbids,
		DefaultGbid:                            settings.DefaultGbid,
		DefaultExpiryIntervalMs:                settings.DefaultExpiryIntervalMs,
		CapabilitiesFreshnessUpdateIntervalMs:  time.Duration(settings.CapabilitiesFreshnessUpdateIntervalMs) * time.Millisecond,
		ReAddAllGlobalsInterval:                time.Duration(settings.ReAddAllGlobalsIntervalMs) * time.Millisecond,
		PurgeExpiredDiscoveryEntriesInterval:   time.Duration(settings.PurgeExpiredDiscoveryEntriesIntervalMs) * time.Millisecond,
		DiscoveryTimeoutMs:                     settings.DiscoveryTimeoutMs,
	}, lcdStore, global, r, nil)
	directory.RemoveStaleOnStartup(context.Background(), time.Now().UnixMilli())
	directory.StartMaintenance()
	defer directory.Shutdown(context.Background())

	ready := func() bool { return true }
	admin := adminserver.New(settings.AdminAddr, registry, ready, settings.EnablePprof)
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server exited: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin.Shutdown(shutdownCtx)

	persistOnShutdown(settings, table, multicastDir, lcdStore)

	return nil
}

func persistOnShutdown(settings config.Settings, table *routingtable.Table, multicastDir *multicast.Directory, lcdStore *lcdstore.Store) {
	if settings.PersistRoutingTable {
		if data, err := table.Save(); err != nil {
			log.Errorf("routing table: save failed: %v", err)
		} else if err := os.WriteFile(settings.RoutingTableFile, data, 0o600); err != nil {
			log.Errorf("routing table: write failed: %v", err)
		}
		if data, err := multicastDir.Save(); err != nil {
			log.Errorf("multicast directory: save failed: %v", err)
		} else if err := os.WriteFile(settings.MulticastDirectoryFile, data, 0o600); err != nil {
			log.Errorf("multicast directory: write failed: %v", err)
		}
	}
	if settings.IsLocalCapabilitiesDirectoryPersistencyEnabled {
		if data, err := lcdStore.Save(); err != nil {
			log.Errorf("local capabilities directory: save failed: %v", err)
		} else if err := os.WriteFile(settings.LocalCapabilitiesDirectoryFile, data, 0o600); err != nil {
			log.Errorf("local capabilities directory: write failed: %v", err)
		}
	}
}
