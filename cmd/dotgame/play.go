package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/dotgame/client"
	"github.com/cyberinferno/dotgame/config"
	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/logger"
)

type playOptions struct {
	addr     string
	name     string
	color    string
	points   int
	span     int
	interval time.Duration
	linger   time.Duration
	logLevel string
}

func playCmd() *cobra.Command {
	opts := playOptions{
		addr:     config.DefaultListenAddr,
		span:     500,
		interval: 100 * time.Millisecond,
		logLevel: "info",
	}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a server, optionally place random points, and log what happens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlay(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.addr, "addr", "a", opts.addr, "Game server address")
	fs.StringVarP(&opts.name, "name", "n", "", "Username to join as")
	fs.StringVar(&opts.color, "color", "", "Requested #RRGGBB color (empty lets the server pick)")
	fs.IntVarP(&opts.points, "points", "p", 0, "Number of random points to place")
	fs.IntVar(&opts.span, "span", opts.span, "Points fall in [0, span) on both axes")
	fs.DurationVar(&opts.interval, "interval", opts.interval, "Delay between placed points")
	fs.DurationVar(&opts.linger, "linger", 0, "Stay connected this long after placing (0 waits for interrupt)")
	fs.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runPlay(ctx context.Context, opts playOptions) error {
	if opts.span <= 0 {
		return fmt.Errorf("span must be positive, got %d", opts.span)
	}

	log, err := logger.New(logger.Options{Service: "dotgame-play", Level: opts.logLevel, Pretty: true})
	if err != nil {
		return err
	}
	defer log.Close()

	c := client.New(client.DefaultConfig(opts.addr))
	defer c.Close()

	c.OnEvent(func(ev event.Event) { logEvent(log, ev) })
	c.OnConnectionState(func(ev client.ConnectionStateEvent) {
		log.Debug("connection state", logger.Field{Key: "state", Value: ev.State.String()})
	})
	c.OnError(func(ev client.ErrorEvent) {
		log.Warn("client error", logger.Err(ev.Error))
	})

	if err := c.Connect(); err != nil {
		return fmt.Errorf("connect to %s: %w", opts.addr, err)
	}
	if err := c.Join(opts.name, opts.color); err != nil {
		return err
	}

	for i := 0; i < opts.points; i++ {
		select {
		case <-ctx.Done():
			return c.Leave()
		case <-time.After(opts.interval):
		}
		if err := c.Place(rand.Intn(opts.span), rand.Intn(opts.span)); err != nil {
			return err
		}
	}

	if opts.linger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(opts.linger):
		}
	} else {
		<-ctx.Done()
	}

	return c.Leave()
}

func logEvent(log logger.Logger, ev event.Event) {
	fields := []logger.Field{
		{Key: "kind", Value: ev.Kind.String()},
		{Key: "username", Value: ev.Username},
	}
	switch ev.Kind {
	case event.KindPlayerConnected:
		fields = append(fields,
			logger.Field{Key: "color", Value: ev.Color},
			logger.Field{Key: "players", Value: ev.Players},
			logger.Field{Key: "points", Value: len(ev.Points)})
	case event.KindPointPlaced:
		fields = append(fields,
			logger.Field{Key: "x", Value: ev.X},
			logger.Field{Key: "y", Value: ev.Y},
			logger.Field{Key: "color", Value: ev.Color})
	}
	log.Info("event", fields...)
}
