package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/onnwee/streambot/alerts"
	"github.com/onnwee/streambot/chat"
	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/crypto"
	"github.com/onnwee/streambot/db"
	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/oauth"
	"github.com/onnwee/streambot/obs"
	"github.com/onnwee/streambot/overlay"
	"github.com/onnwee/streambot/router"
	"github.com/onnwee/streambot/server"
	"github.com/onnwee/streambot/sheets"
	"github.com/onnwee/streambot/telemetry"
	"github.com/onnwee/streambot/twitchapi"
)

const version = "1.0.0"

func newServeCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg())
		},
	}
}

// openStore connects, migrates and wraps the database.
func openStore(cfg *config.Config) (*sql.DB, *db.Store, error) {
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(database); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	sealer, err := crypto.FromEnv()
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	if sealer == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens are stored in plaintext")
	}
	return database, db.NewStore(database, sealer), nil
}

func newHelix(cfg *config.Config, user oauth2.TokenSource) *twitchapi.HelixClient {
	return &twitchapi.HelixClient{
		AppTokenSource:  &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		UserTokenSource: user,
		ClientID:        cfg.TwitchClientID,
	}
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	return twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, twitchapi.ParseScopes(cfg.TwitchScopes))
}

func serve(ctx context.Context, cfg *config.Config) error {
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streambot", version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}

	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	oauthCfg := oauthConfig(cfg)
	refresher := oauth.NewRefresher(store, db.ProviderTwitch, func(rctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return twitchapi.RefreshUserToken(rctx, oauthCfg, refreshToken)
	})
	refresher.Fallback = cfg.TwitchOAuthToken
	helix := newHelix(cfg, refresher.TokenSource(ctx))

	bus := eventsub.NewBus(256)
	hub := overlay.NewHub("followTotal", "popUpMessage")
	hub.OnConnect = func(rctx context.Context) overlay.Message {
		n, err := helix.GetFollowerTotal(rctx, cfg.TwitchBroadcasterID)
		if err != nil {
			slog.Debug("follower total unavailable", slog.Any("err", err))
			return nil
		}
		return overlay.Message{"followTotal": n}
	}
	engine := alerts.NewEngine(hub, catalog.Alerts, nil)

	surface := obs.NewClient(cfg.OBSAddress, cfg.OBSPassword)
	seq := obs.NewSequencer(surface, cfg.OBSOverlayScene, nil)
	if err := registerTriggers(seq, catalog); err != nil {
		return err
	}
	surface.OnVisibility(seq.HandleVisibility)
	surface.OnConnect(seq.SyncFilters)

	var chatOut router.Chat
	var chatClient *chat.Client
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat disabled", slog.Any("reason", err))
	} else {
		chatClient = chat.New(cfg.TwitchChannel, cfg.TwitchBotUsername, refresher.AccessToken, bus)
		chatOut = chatClient
	}

	rules := catalog.Rules
	rules.Streamer = cfg.StreamerName
	rules.RaidPauseThreshold = cfg.RaidPauseThreshold
	rules.FollowPauseDuration = cfg.FollowPauseDuration
	rt := router.New(rules, router.Deps{
		Alerts:        engine,
		Chat:          chatOut,
		Overlay:       hub,
		Triggers:      seq,
		Scenes:        surface,
		Channel:       helix,
		Shoutouts:     store,
		BroadcasterID: cfg.TwitchBroadcasterID,
	}, nil)
	defer rt.Stop()
	if err := rt.Subscribe(bus); err != nil {
		return err
	}

	var webhook http.Handler
	var gateway *eventsub.Gateway
	if err := cfg.ValidateWebhookReady(); err != nil {
		slog.Warn("eventsub webhook disabled", slog.Any("reason", err))
	} else {
		gateway = eventsub.NewGateway(eventsub.NewVerifier(cfg.TwitchEventSubSecret), eventsub.NewReplayGuard(nil), bus)
		webhook = gateway
	}

	mux := server.NewMux(ctx, server.Deps{
		DB:       database,
		Surface:  surface,
		Webhook:  webhook,
		Overlay:  hub,
		Alerts:   engine,
		Triggers: seq,
		OAuth:    oauthCfg,
		Tokens:   refresher,
	})

	go bus.Run(ctx)
	go surface.Run(ctx)
	go refresher.Run(ctx)
	if chatClient != nil {
		go chatClient.Run(ctx)
	}
	if cfg.SheetsEnabled() {
		poller, err := newSheetPoller(ctx, cfg, rt, chatOut)
		if err != nil {
			slog.Warn("sheet commands disabled", slog.Any("err", err))
		} else {
			go poller.Run(ctx)
		}
	}
	go loadChannelInfo(ctx, helix, cfg.TwitchBroadcasterID, rt)
	if gateway != nil {
		go func() {
			// Sync after the server is listening so Twitch's verification challenge is answered.
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			syncCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := eventsub.Sync(syncCtx, helix, eventsub.DefaultTopics(cfg.TwitchBroadcasterID), eventsub.CallbackURL(cfg.PublicURL), cfg.TwitchEventSubSecret); err != nil {
				slog.Error("eventsub sync incomplete", slog.Any("err", err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx, cfg.HTTPAddr, mux) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down")
	if gateway != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gateway.Drain(drainCtx)
	}
	return nil
}

// registerTriggers installs the catalog's visibility trigger tables.
func registerTriggers(seq *obs.Sequencer, catalog *config.Catalog) error {
	var errs []error
	for _, t := range catalog.SourceTriggers {
		h, err := seq.Handler(t.Action)
		if err != nil {
			errs = append(errs, fmt.Errorf("source trigger %q: %w", t.Source, err))
			continue
		}
		seq.OnSource(t.Source, h)
	}
	for _, t := range catalog.FilterTriggers {
		h, err := seq.Handler(t.Action)
		if err != nil {
			errs = append(errs, fmt.Errorf("filter trigger %q/%q: %w", t.Source, t.Filter, err))
			continue
		}
		seq.OnFilter(t.Source, t.Filter, h)
	}
	return errors.Join(errs...)
}

func newSheetPoller(ctx context.Context, cfg *config.Config, sink sheets.Sink, out router.Chat) (*sheets.Poller, error) {
	var opts []option.ClientOption
	switch {
	case cfg.GoogleSheetsAPIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.GoogleSheetsAPIKey))
	case cfg.GoogleCredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}
	src, err := sheets.NewSheetSource(ctx, cfg.GoogleSheetID, opts...)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	var sayer sheets.Sayer
	if out != nil {
		sayer = out
	}
	return sheets.NewPoller(src, sink, sayer, cfg.SheetPollInterval, loc), nil
}

// loadChannelInfo seeds the router with the current title and category.
func loadChannelInfo(ctx context.Context, helix *twitchapi.HelixClient, broadcasterID string, rt *router.Router) {
	if broadcasterID == "" {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	info, err := helix.GetChannelInfo(rctx, broadcasterID)
	if err != nil {
		slog.Warn("channel info unavailable", slog.Any("err", err))
		return
	}
	rt.SetChannel(router.ChannelInfo{Title: info.Title, Category: info.GameName})
	slog.Info("channel info loaded", slog.String("title", info.Title), slog.String("category", info.GameName))
}
