package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jobport-labs/chatsync/config"
	"github.com/jobport-labs/chatsync/internal/conn"
	"github.com/jobport-labs/chatsync/internal/dispatcher"
	"github.com/jobport-labs/chatsync/internal/entity"
	"github.com/jobport-labs/chatsync/internal/restapi"
	"github.com/jobport-labs/chatsync/internal/session"
	"github.com/jobport-labs/chatsync/internal/timeline"
	"github.com/jobport-labs/chatsync/pkg/api"
	"github.com/jobport-labs/chatsync/pkg/logger"
	"github.com/jobport-labs/chatsync/pkg/xcontext"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

type srv struct {
	app *cli.App

	configs config.Configs
	logger  logger.Logger
	selfID  string

	manager *conn.Manager
	disp    *dispatcher.Dispatcher
	history *restapi.MessageHistory
}

func (s *srv) loadConfig(cliCtx *cli.Context) error {
	godotenv.Load()

	s.configs = config.Default()

	if path := cliCtx.String("config"); path != "" {
		if _, err := toml.DecodeFile(path, &s.configs); err != nil {
			return fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("CHATSYNC_ENV"); v != "" {
		s.configs.Env = v
	}
	if v := os.Getenv("CHATSYNC_API_ENDPOINT"); v != "" {
		s.configs.API.Endpoint = v
	}
	if v := os.Getenv("CHATSYNC_API_TOKEN"); v != "" {
		s.configs.API.Token = v
	}
	if v := os.Getenv("CHATSYNC_WS_ENDPOINT"); v != "" {
		s.configs.Socket.Endpoint = v
	}
	if v := os.Getenv("CHATSYNC_WS_TOKEN"); v != "" {
		s.configs.Socket.Token = v
	}
	if v := os.Getenv("CHATSYNC_TYPING_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CHATSYNC_TYPING_TTL: %w", err)
		}
		s.configs.Typing.TTL = ttl
	}
	if v := os.Getenv("CHATSYNC_SCROLL_THRESHOLD"); v != "" {
		px, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid CHATSYNC_SCROLL_THRESHOLD: %w", err)
		}
		s.configs.Scroll.BottomThresholdPx = px
	}

	if s.configs.Socket.Token == "" {
		s.configs.Socket.Token = s.configs.API.Token
	}

	s.selfID = os.Getenv("CHATSYNC_SELF_ID")
	if s.selfID == "" {
		return fmt.Errorf("CHATSYNC_SELF_ID is required")
	}

	return nil
}

func (s *srv) loadLogger() {
	level := logger.INFO
	if s.configs.Env == "dev" {
		level = logger.DEBUG
	}

	s.logger = logger.NewLogger(level)
}

func (s *srv) newContext(cliCtx *cli.Context) context.Context {
	ctx := xcontext.WithLogger(cliCtx.Context, s.logger)
	return xcontext.WithConfigs(ctx, s.configs)
}

func (s *srv) loadClients(ctx context.Context) error {
	s.disp = dispatcher.New()
	s.history = restapi.NewMessageHistory(api.NewGenerator(s.configs.API.Endpoint, s.configs.API.Token))

	manager, err := conn.NewManager(ctx, s.configs.Socket, s.disp.Dispatch, nil)
	if err != nil {
		return err
	}

	s.manager = manager
	return nil
}

func (s *srv) conversationKey(cliCtx *cli.Context) (entity.ConversationKey, error) {
	room := cliCtx.String("room")
	peer := cliCtx.String("peer")

	switch {
	case room != "" && peer != "":
		return entity.ConversationKey{}, fmt.Errorf("--room and --peer are mutually exclusive")
	case room != "":
		return entity.RoomKey(room), nil
	case peer != "":
		return entity.DirectKey(s.selfID, peer), nil
	}

	return entity.ConversationKey{}, fmt.Errorf("one of --room or --peer is required")
}

func (s *srv) setup(cliCtx *cli.Context, withSocket bool) (context.Context, error) {
	if err := s.loadConfig(cliCtx); err != nil {
		return nil, err
	}

	s.loadLogger()
	ctx := s.newContext(cliCtx)

	if !withSocket {
		s.history = restapi.NewMessageHistory(api.NewGenerator(s.configs.API.Endpoint, s.configs.API.Token))
		return ctx, nil
	}

	if err := s.loadClients(ctx); err != nil {
		return nil, err
	}

	if err := s.manager.Connect(ctx); err != nil {
		return nil, err
	}

	return ctx, nil
}

func (s *srv) openSession(ctx context.Context, cliCtx *cli.Context) (*session.Session, error) {
	key, err := s.conversationKey(cliCtx)
	if err != nil {
		return nil, err
	}

	return session.Open(ctx, s.selfID, key, session.Dependencies{
		Manager:    s.manager,
		Dispatcher: s.disp,
		History:    s.history,
	})
}

func (s *srv) runHistory(cliCtx *cli.Context) error {
	ctx, err := s.setup(cliCtx, false)
	if err != nil {
		return err
	}

	key, err := s.conversationKey(cliCtx)
	if err != nil {
		return err
	}

	page, err := s.history.List(ctx, key, cliCtx.Int("limit"))
	if err != nil {
		return err
	}

	for _, msg := range page {
		printMessage(msg)
	}

	return nil
}

func (s *srv) runTail(cliCtx *cli.Context) error {
	ctx, err := s.setup(cliCtx, true)
	if err != nil {
		return err
	}
	defer s.manager.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := s.openSession(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	sess.Timeline().OnChange(func(c timeline.Change) {
		switch c.Kind {
		case timeline.ChangeSnapshot:
			for _, msg := range sess.Timeline().Messages() {
				printMessage(msg)
			}
		case timeline.ChangeInsert:
			printMessage(c.Message)
		case timeline.ChangeReaction:
			fmt.Printf("        %s reacted on %s\n", reactionSummary(c.Message), c.Message.ID)
		}
	})

	sess.Tracker().OnChange(func() {
		if who := sess.Tracker().TypingParticipants(); len(who) > 0 {
			fmt.Printf("        %v typing...\n", who)
		}
	})

	dropped := make(chan struct{}, 1)
	s.manager.OnDisconnect(func(error) {
		select {
		case dropped <- struct{}{}:
		default:
		}
	})

	if err := sess.LoadHistory(ctx, cliCtx.Int("limit")); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dropped:
			if err := s.resume(ctx, sess); err != nil {
				return err
			}
		}
	}
}

// resume retries per the configured reconnect policy. Re-joining is this
// caller's job; the connection manager never does it on its own.
func (s *srv) resume(ctx context.Context, sess *session.Session) error {
	policy := s.configs.Reconnect

	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(policy.Backoff):
		}

		if err = sess.Resume(ctx); err == nil {
			s.logger.Infof("Reconnected")
			return nil
		}

		s.logger.Warnf("Reconnect attempt %d failed: %v", attempt+1, err)
	}

	return fmt.Errorf("gave up after %d reconnect attempts: %w", policy.MaxAttempts, err)
}

func (s *srv) runSend(cliCtx *cli.Context) error {
	ctx, err := s.setup(cliCtx, true)
	if err != nil {
		return err
	}
	defer s.manager.Close()

	sess, err := s.openSession(ctx, cliCtx)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	if err := sess.LoadHistory(ctx, 1); err != nil {
		return err
	}

	sent, err := sess.Send(ctx, cliCtx.String("body"))
	if err != nil {
		return err
	}

	wait := cliCtx.Duration("wait")
	if wait <= 0 {
		fmt.Printf("sent %s (unconfirmed)\n", sent.ID)
		return nil
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if len(sess.Timeline().Unconfirmed()) == 0 {
			fmt.Printf("sent %s (confirmed)\n", sent.ID)
			return nil
		}

		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("message %s was not confirmed within %s", sent.ID, wait)
}

func printMessage(msg entity.Message) {
	marker := ""
	if msg.DeliveryState == entity.DeliveryPending {
		marker = " (unconfirmed)"
	}

	fmt.Printf("[%s] %s: %s%s\n", msg.CreatedAt.Local().Format("15:04:05"), msg.SenderID, msg.Body, marker)
}

func reactionSummary(msg entity.Message) string {
	out := ""
	for emoji := range msg.Reactions {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s×%d", emoji, msg.Reactions.Count(emoji))
	}

	return out
}
