package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kindlyrobotics/iplchat/internal/broker"
	"github.com/kindlyrobotics/iplchat/internal/config"
	"github.com/kindlyrobotics/iplchat/internal/console"
	"github.com/kindlyrobotics/iplchat/internal/logging"
	"github.com/kindlyrobotics/iplchat/internal/session"
	"github.com/kindlyrobotics/iplchat/internal/store"
)

var log = logging.New("Server")

func main() {
	var startupPath string

	root := &cobra.Command{
		Use:   "iplchat-server",
		Short: "runs the chat broker and its admin console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(startupPath)
		},
	}
	root.Flags().StringVar(&startupPath, "startup", "./startup.env", "path to the startup file naming the active config file")

	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(startupPath string) error {
	startup, err := config.LoadStartup(startupPath)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	cfg, err := config.Load(startup.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := logging.SetLogFile(cfg.LogfilePath); err != nil {
		return fmt.Errorf("log file: %w", err)
	}
	log.Infof("starting on %s, database %s/%s", cfg.ListenAddress, cfg.DatabasePath, cfg.DatabaseName)

	engine, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer engine.Close()

	registry := session.New()
	b := broker.New(cfg, registry, engine)

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	go acceptLoop(ln, b)

	admin := console.New(b, engine, cfg, startup.ConfigPath)
	go admin.Run(bufio.NewReader(os.Stdin), os.Stdout)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Infof("received shutdown signal")
	case <-admin.StopSignal():
		log.Infof("stop command issued from console")
	}

	ln.Close()
	if cfg.Autosave {
		if name, err := engine.SaveSnapshot(); err != nil {
			log.Warnf("autosave snapshot failed: %v", err)
		} else {
			log.Infof("autosave snapshot %s", name)
		}
	}
	if err := engine.Flush(); err != nil {
		log.Warnf("final flush failed: %v", err)
	}
	log.Infof("shut down cleanly")
	return nil
}

func acceptLoop(ln net.Listener, b *broker.Broker) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		go b.HandleConn(nc)
	}
}
