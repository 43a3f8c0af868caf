package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/streambot/twitchapi"
)

// CallbackPath is where the Gateway is mounted.
const CallbackPath = "/eventSubCallback"

// SubscriptionAPI is the slice of Helix used to manage subscriptions.
type SubscriptionAPI interface {
	ListSubscriptions(ctx context.Context) ([]twitchapi.Subscription, error)
	CreateSubscription(ctx context.Context, sub twitchapi.Subscription) (twitchapi.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Topic is one subscription type with its version and condition.
type Topic struct {
	Type      string
	Version   string
	Condition map[string]string
}

// DefaultTopics returns the subscriptions the bot needs for broadcasterID.
func DefaultTopics(broadcasterID string) []Topic {
	self := map[string]string{"broadcaster_user_id": broadcasterID}
	return []Topic{
		{Type: TypeStreamOnline, Version: "1", Condition: self},
		{Type: TypeStreamOffline, Version: "1", Condition: self},
		{Type: TypeChannelUpdate, Version: "2", Condition: self},
		{Type: TypeFollow, Version: "2", Condition: map[string]string{"broadcaster_user_id": broadcasterID, "moderator_user_id": broadcasterID}},
		{Type: TypeSubscribe, Version: "1", Condition: self},
		{Type: TypeCheer, Version: "1", Condition: self},
		{Type: TypeRaid, Version: "1", Condition: map[string]string{"to_broadcaster_user_id": broadcasterID}},
		{Type: TypeRedemptionAdd, Version: "1", Condition: self},
		{Type: TypeRedemptionUpdate, Version: "1", Condition: self},
	}
}

// CallbackURL joins the public base URL and CallbackPath.
func CallbackURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + CallbackPath
}

// Sync replaces every existing subscription of each topic's type with a fresh
// webhook subscription to callback. A failing topic is logged and skipped; the
// joined errors are returned once all topics were attempted.
func Sync(ctx context.Context, api SubscriptionAPI, topics []Topic, callback, secret string) error {
	log := slog.Default().With(slog.String("component", "eventsub_sync"))
	if callback == "" || secret == "" {
		return errors.New("eventsub sync: callback url and secret are required")
	}
	existing, err := api.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	byType := make(map[string][]twitchapi.Subscription)
	for _, s := range existing {
		byType[s.Type] = append(byType[s.Type], s)
	}

	var errs []error
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, old := range byType[topic.Type] {
			if err := api.DeleteSubscription(ctx, old.ID); err != nil {
				log.Warn("delete subscription failed", slog.String("type", topic.Type), slog.String("id", old.ID), slog.Any("err", err))
			}
		}
		created, err := api.CreateSubscription(ctx, twitchapi.Subscription{
			Type:      topic.Type,
			Version:   topic.Version,
			Condition: topic.Condition,
			Transport: twitchapi.Transport{Method: "webhook", Callback: callback, Secret: secret},
		})
		if err != nil {
			log.Error("create subscription failed", slog.String("type", topic.Type), slog.Any("err", err))
			errs = append(errs, err)
			continue
		}
		log.Info("subscribed", slog.String("type", topic.Type), slog.String("id", created.ID), slog.String("status", created.Status))
	}
	return errors.Join(errs...)
}
