package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"memoshare/config"
	"memoshare/discovery"
	"memoshare/models"
	"memoshare/share"
	"memoshare/storage"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logrus.WithError(err).Fatal("startup failed while loading config")
	}

	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Auth Required:   %t\n", cfg.RequireAuth)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed while opening database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("database close error")
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	attachments, err := storage.NewFileStore(cfg.AttachmentsDir)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed while preparing attachment storage")
	}

	receiver, err := share.NewReceiver(share.ReceiverOptions{
		DeviceName:      cfg.DeviceName,
		PairingCode:     cfg.PairingCode,
		RequireAuth:     cfg.RequireAuth,
		Attachments:     attachments,
		Notes:           store,
		OnApproval:      promptApproval,
		OnIncomingState: logIncomingState,
	})
	if err != nil {
		logrus.WithError(err).Fatal("startup failed while building share receiver")
	}

	server, err := share.Listen(listenAddress(cfg), receiver)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed while binding share server")
	}
	defer func() {
		if err := server.Close(); err != nil {
			logrus.WithError(err).Warn("share server close error")
		}
	}()
	fmt.Printf("Share Port:      %d\n", server.Port())

	discoveryService, err := discovery.Start(discovery.Config{
		SelfDeviceID: cfg.DeviceID,
		DeviceName:   cfg.DeviceName,
		SharePort:    server.Port(),
		AuthRequired: cfg.RequireAuth,
	})
	if err != nil {
		logrus.WithError(err).Warn("discovery startup failed")
	} else {
		defer discoveryService.Stop()
		fmt.Println("Discovery:       running")
		go logDiscoveryEvents(discoveryService.Scanner.Events())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

func listenAddress(cfg *config.DeviceConfig) string {
	if cfg.PortMode == config.PortModeFixed && cfg.SharePort > 0 {
		return fmt.Sprintf(":%d", cfg.SharePort)
	}
	return ":0"
}

// promptApproval asks on the terminal. The receiver enforces the decision
// deadline; an unanswered prompt counts as a rejection.
func promptApproval(payload models.SharePayload) bool {
	fmt.Printf("\nIncoming share from %q (%d attachment(s)):\n", payload.SenderName, len(payload.Attachments))
	for _, attachment := range payload.Attachments {
		fmt.Printf("  - %s (%s, %d bytes)\n", attachment.Name, attachment.Type, attachment.Size)
	}
	fmt.Printf("%s\n", payload.Content)
	fmt.Print("Accept? [y/N]: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func logIncomingState(pending bool, payload models.SharePayload) {
	if pending {
		logrus.WithField("sender", payload.SenderName).Info("incoming share awaiting decision")
		return
	}
	logrus.WithField("sender", payload.SenderName).Info("incoming share resolved")
}

func logDiscoveryEvents(events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventPeerUpserted:
			logrus.WithFields(logrus.Fields{
				"id":   event.Peer.DeviceID,
				"name": event.Peer.DeviceName,
				"addr": event.Peer.Addresses,
				"port": event.Peer.Port,
				"auth": event.Peer.AuthRequired,
			}).Info("discovery: peer available")
		case discovery.EventPeerRemoved:
			logrus.WithField("id", event.Peer.DeviceID).Info("discovery: peer removed")
		default:
			logrus.WithFields(logrus.Fields{
				"event": string(event.Type),
				"id":    event.Peer.DeviceID,
			}).Info("discovery event")
		}
	}
}
