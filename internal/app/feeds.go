package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/latencybot/internal/config"
	"github.com/alanyoungcy/latencybot/internal/feed"
	"github.com/alanyoungcy/latencybot/internal/platform/binance"
	"github.com/alanyoungcy/latencybot/internal/platform/coinbase"
	"github.com/alanyoungcy/latencybot/internal/platform/kraken"
	"github.com/alanyoungcy/latencybot/internal/platform/polymarket"
)

// feedPair is the two subscriptions the engine consumes.
type feedPair struct {
	reference        *feed.Connection
	referenceDecoder feed.Decoder
	market           *feed.Connection
	marketDecoder    feed.Decoder
}

// referenceFeed returns the subscription and decoder for the configured
// spot venue.
func referenceFeed(cfg config.ReferenceConfig) (feed.Spec, feed.Decoder, error) {
	venue := strings.ToLower(cfg.Venue)
	name := "reference:" + venue
	switch venue {
	case "coinbase":
		return coinbase.NewSpec(name, cfg.Endpoint, cfg.Symbol), coinbase.NewDecoder(cfg.Symbol), nil
	case "kraken":
		return kraken.NewSpec(name, cfg.Endpoint, cfg.Symbol), kraken.NewDecoder(cfg.Symbol), nil
	case "binance":
		return binance.NewSpec(name, cfg.Endpoint, cfg.Symbol), binance.NewDecoder(cfg.Symbol), nil
	default:
		return feed.Spec{}, nil, fmt.Errorf("app: unsupported reference venue %q", cfg.Venue)
	}
}

func buildFeeds(cfg *config.Config, logger *slog.Logger) (*feedPair, error) {
	refSpec, refDecoder, err := referenceFeed(cfg.Reference)
	if err != nil {
		return nil, err
	}
	mktSpec := polymarket.NewSpec("market:polymarket", cfg.Market.Endpoint, cfg.Market.AssetID)

	opts := []feed.Option{
		feed.WithBackoff(feed.Backoff{
			Base:        cfg.Feed.BackoffBase.Duration,
			Max:         cfg.Feed.BackoffMax.Duration,
			MaxAttempts: cfg.Feed.MaxAttempts,
		}),
		feed.WithPingInterval(cfg.Feed.PingInterval.Duration),
	}
	return &feedPair{
		reference:        feed.New(refSpec, logger, opts...),
		referenceDecoder: refDecoder,
		market:           feed.New(mktSpec, logger, opts...),
		marketDecoder:    polymarket.NewDecoder(cfg.Market.AssetID),
	}, nil
}
