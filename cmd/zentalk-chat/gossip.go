package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-chat/pkg/chat"
	"github.com/ZentaChain/zentalk-chat/pkg/network"
)

func gossipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gossip",
		Short:   "Join a broadcast room (gossip mode)",
		Example: "  zentalk-chat gossip --room lobby --name alice",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGossip()
		},
	}

	cmd.Flags().StringVar(&flagRoom, "room", "", "room to join (default: a new random room)")
	return cmd
}

func runGossip() error {
	ctx, cancel := signalContext()
	defer cancel()

	room := cfg.Room
	if room == "" {
		room = uuid.NewString()
	}

	node, err := network.NewNode(ctx, cfg.NodeConfig())
	if err != nil {
		return err
	}
	defer node.Close()

	r, err := node.JoinRoom(room)
	if err != nil {
		return err
	}

	if cfg.EnableMDNS || cfg.EnableDHT {
		if err := node.StartDiscovery(r.Topic()); err != nil {
			log.Warnw("discovery unavailable", "error", err)
		}
	}

	fmt.Printf("Room: %s\n", room)
	fmt.Printf("Others can join with: zentalk-chat gossip --room %s\n", room)
	for _, addr := range node.Addrs() {
		fmt.Printf("  %s\n", addr)
	}
	fmt.Println()

	reg, runner, err := startRuntime(ctx, node.Self())
	if err != nil {
		r.Close()
		return err
	}

	printChatBanner()

	transport := chat.NewGossipTransport(r, node.Self(), reg, cfg.AnnounceInterval)
	if err := runner.Serve(ctx, transport); err != nil && !errors.Is(err, network.ErrRoomClosed) {
		return err
	}
	return nil
}
