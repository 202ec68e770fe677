package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asmogo/nostrmux/client"
	"github.com/asmogo/nostrmux/config"
	"github.com/asmogo/nostrmux/relaypool"
	"github.com/asmogo/nostrmux/subscription"
	"github.com/asmogo/nostrmux/wire"
	"github.com/asmogo/nostrmux/wsconn"
	"github.com/spf13/cobra"
)

const (
	usageRelays   = "semicolon-separated relay URLs, overrides NOSTRMUX_RELAYS"
	usageStrategy = "subscription strategy: forward, backward or oneshot"
	usageKinds    = "comma-separated event kinds to request"
	usageContent  = "event content to publish"
	usageKey      = "hex secret key to sign with"
)

func main() {
	rootCmd := &cobra.Command{Use: "nostrmux"}

	var relaysFlag string

	subCmd := &cobra.Command{Use: "sub", Run: runSub}
	subCmd.Flags().String("relays", "", usageRelays)
	subCmd.Flags().String("strategy", "backward", usageStrategy)
	subCmd.Flags().String("kinds", "1", usageKinds)

	pubCmd := &cobra.Command{Use: "pub", Run: runPub}
	pubCmd.Flags().String("relays", "", usageRelays)
	pubCmd.Flags().String("content", "", usageContent)
	pubCmd.Flags().String("key", "", usageKey)

	rootCmd.PersistentFlags().StringVar(&relaysFlag, "relays", "", usageRelays)
	rootCmd.AddCommand(subCmd)
	rootCmd.AddCommand(pubCmd)

	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func loadRelays(cmd *cobra.Command) []string {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("nostrmux: could not load config, using flags only", slog.Any("error", err))
		cfg = &config.Config{}
	}
	relaysFlag, _ := cmd.Flags().GetString("relays")
	if relaysFlag != "" {
		return strings.Split(relaysFlag, ";")
	}
	if len(cfg.Relays) > 0 {
		return cfg.Relays
	}
	slog.Info("nostrmux: no relays configured")
	return nil
}

func runSub(cmd *cobra.Command, _ []string) {
	ctx := cmd.Context()
	relays := loadRelays(cmd)
	c := client.New(ctx, wsconn.Dialer{}, client.DefaultConfig())
	c.Switch(relayConfigs(relays, true, false))

	strategyFlag, _ := cmd.Flags().GetString("strategy")
	kindsFlag, _ := cmd.Flags().GetString("kinds")
	strategy := parseStrategy(strategyFlag)
	filters := wire.Filters{{Kinds: parseKinds(kindsFlag)}}

	req := subscription.NewSubject(client.NewRxReqID(), strategy)
	events := c.Subscribe(ctx, req)
	req.Emit(filters)

	for pkt := range events {
		b, _ := json.Marshal(pkt.Event)
		fmt.Printf("%s %s\n", pkt.From, string(b))
	}
}

func runPub(cmd *cobra.Command, _ []string) {
	ctx := cmd.Context()
	relays := loadRelays(cmd)
	c := client.New(ctx, wsconn.Dialer{}, client.DefaultConfig())
	c.Switch(relayConfigs(relays, false, true))

	content, _ := cmd.Flags().GetString("content")
	key, _ := cmd.Flags().GetString("key")

	acks := c.Send(ctx, wire.Event{Kind: 1, Content: content}, key)
	for ack := range acks {
		fmt.Printf("OK from %s (id=%s)\n", ack.From, ack.ID)
	}
}

func relayConfigs(urls []string, read, write bool) []relaypool.RelayConfig {
	out := make([]relaypool.RelayConfig, 0, len(urls))
	for _, u := range urls {
		out = append(out, relaypool.RelayConfig{URL: u, Read: read, Write: write})
	}
	return out
}

func parseStrategy(s string) subscription.Strategy {
	switch s {
	case "forward":
		return subscription.Forward
	case "oneshot":
		return subscription.Oneshot
	default:
		return subscription.Backward
	}
}

func parseKinds(s string) []int {
	var kinds []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var k int
		if _, err := fmt.Sscanf(part, "%d", &k); err == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
