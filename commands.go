package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onnwee/streambot/config"
	"github.com/onnwee/streambot/eventsub"
	"github.com/onnwee/streambot/twitchapi"
)

// subscriptionAPI builds an app-token Helix client for subscription management.
func subscriptionAPI(cfg *config.Config) (eventsub.SubscriptionAPI, error) {
	if cfg.TwitchClientID == "" || cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required")
	}
	return newHelix(cfg, nil), nil
}

func newEventSubCommand(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventsub",
		Short: "Manage EventSub webhook subscriptions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := subscriptionAPI(cfg())
			if err != nil {
				return err
			}
			subs, err := api.ListSubscriptions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), subscriptionTable(subs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Recreate every subscription the bot needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if err := c.ValidateWebhookReady(); err != nil {
				return err
			}
			api, err := subscriptionAPI(c)
			if err != nil {
				return err
			}
			return eventsub.Sync(cmd.Context(), api, eventsub.DefaultTopics(c.TwitchBroadcasterID), eventsub.CallbackURL(c.PublicURL), c.TwitchEventSubSecret)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := subscriptionAPI(cfg())
			if err != nil {
				return err
			}
			if err := api.DeleteSubscription(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func subscriptionTable(subs []twitchapi.Subscription) string {
	sort.Slice(subs, func(i, j int) bool { return subs[i].Type < subs[j].Type })
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, []string{s.ID, s.Type, s.Version, s.Status, s.Transport.Callback})
	}
	return renderTable([]string{"ID", "Type", "Version", "Status", "Callback"}, rows)
}

func newTokensCommand(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain stored OAuth tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seal",
		Short: "Encrypt plaintext tokens with ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, store, err := openStore(cfg())
			if err != nil {
				return err
			}
			defer database.Close()
			n, err := store.SealPlaintextTokens(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed %d token(s)\n", n)
			return nil
		},
	})
	return cmd
}

// shoutoutStore is the custom shout-out surface of db.Store.
type shoutoutStore interface {
	ListCustomShoutouts(ctx context.Context) (map[string]string, error)
	SetCustomShoutout(ctx context.Context, login, message string) error
	DeleteCustomShoutout(ctx context.Context, login string) error
}

func newShoutoutsCommand(cfg func() *config.Config) *cobra.Command {
	withStore := func(cmd *cobra.Command, f func(shoutoutStore) error) error {
		database, store, err := openStore(cfg())
		if err != nil {
			return err
		}
		defer database.Close()
		return f(store)
	}

	cmd := &cobra.Command{
		Use:   "shoutouts",
		Short: "Manage custom shout-out messages",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List custom shout-outs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s shoutoutStore) error {
				return listShoutouts(cmd, s)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <login> <message...>",
		Short: "Set the shout-out message for a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s shoutoutStore) error {
				return s.SetCustomShoutout(cmd.Context(), strings.TrimPrefix(args[0], "@"), strings.Join(args[1:], " "))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <login>",
		Short: "Remove a user's custom shout-out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s shoutoutStore) error {
				return s.DeleteCustomShoutout(cmd.Context(), strings.TrimPrefix(args[0], "@"))
			})
		},
	})
	return cmd
}

func listShoutouts(cmd *cobra.Command, s shoutoutStore) error {
	all, err := s.ListCustomShoutouts(cmd.Context())
	if err != nil {
		return err
	}
	logins := make([]string, 0, len(all))
	for l := range all {
		logins = append(logins, l)
	}
	sort.Strings(logins)
	rows := make([][]string, 0, len(logins))
	for _, l := range logins {
		rows = append(rows, []string{l, all[l]})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Login", "Message"}, rows))
	return nil
}
