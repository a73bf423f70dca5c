package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/mcwire/internal/client"
	"github.com/danmuck/mcwire/internal/logging"
	"github.com/danmuck/mcwire/internal/protocol/packets"
	"github.com/danmuck/mcwire/internal/protocol/session"
	"github.com/danmuck/mcwire/internal/signature"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:25565", "server address")
	mode := flag.String("mode", "status", "status|chat")
	name := flag.String("name", "wireping", "player name for chat mode")
	message := flag.String("message", "", "chat message to send; empty listens only")
	signed := flag.Bool("signed", true, "sign chat with a fresh ed25519 key")
	listen := flag.Duration("listen", 5*time.Second, "how long to print incoming chat")
	attempts := flag.Int("attempts", 3, "dial attempts")
	flag.Parse()

	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *addr, session.DefaultConfig(), client.WithMaxAttempts(*attempts))
	if err != nil {
		fail(err)
	}
	defer c.Close()

	switch strings.ToLower(*mode) {
	case "status":
		err = status(ctx, c)
	case "chat":
		err = chat(ctx, c, *name, *message, *signed, *listen)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		fail(err)
	}
}

func status(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	doc, latency, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (protocol %d)\n", doc.Description, doc.Version.Protocol)
	fmt.Printf("players %d/%d  secure chat %v  latency %s\n",
		doc.Players.Online, doc.Players.Max, doc.SecureChat, latency.Round(time.Microsecond))
	return nil
}

func chat(ctx context.Context, c *client.Client, name, message string, signed bool, listen time.Duration) error {
	if err := c.Login(ctx, name, uuid.New()); err != nil {
		return err
	}
	profile, confirmed := c.Profile()
	log.Info().Str("player", confirmed).Str("profile", profile.String()).Msg("joined")

	if signed {
		signer, err := signature.GenerateSigner()
		if err != nil {
			return err
		}
		if err := c.StartChatSession(signer, time.Now().Add(time.Hour)); err != nil {
			return err
		}
	}
	if message != "" {
		if err := c.Chat(message); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, listen)
	defer cancel()
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch m := msg.(type) {
		case *packets.PlayerChat:
			fmt.Printf("<%s> %s [%s]\n", m.SenderName, m.Message, m.Trust)
		case *packets.SystemChat:
			fmt.Printf("* %s\n", m.Content)
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "wireping: %v\n", err)
	os.Exit(1)
}
