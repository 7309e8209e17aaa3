package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-chat/pkg/chat"
	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/network"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

const (
	defaultPort = 8080

	// remoteLabel names the other side of a direct session until it is
	// known otherwise
	remoteLabel = "Them"
)

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "listen [port]",
		Short:   "Wait for one peer to connect (direct mode)",
		Example: "  zentalk-chat listen 8080",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port := defaultPort
			if len(args) == 1 {
				p, err := strconv.Atoi(args[0])
				if err != nil || p < 0 || p > 65535 {
					return fmt.Errorf("invalid port %q", args[0])
				}
				port = p
			}
			return runListen(port)
		},
	}
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "connect <host:port>",
		Short:   "Connect to a listening peer (direct mode)",
		Example: "  zentalk-chat connect 127.0.0.1:8080",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := net.SplitHostPort(args[0]); err != nil {
				return fmt.Errorf("invalid address %q: %w", args[0], err)
			}
			return runConnect(args[0])
		},
	}
}

func directSetup() (*crypto.KeyPair, *network.DirectConfig, error) {
	identity, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	dc, err := cfg.DirectConfig(identity)
	if err != nil {
		return nil, nil, err
	}
	return identity, dc, nil
}

func runListen(port int) error {
	ctx, cancel := signalContext()
	defer cancel()

	identity, dc, err := directSetup()
	if err != nil {
		return err
	}

	ln, err := network.ListenDirect(fmt.Sprintf("0.0.0.0:%d", port), dc)
	if err != nil {
		return err
	}
	defer ln.Close()

	fmt.Printf("Listening on port %d...\n", ln.Addr().(*net.TCPAddr).Port)
	fmt.Println("Waiting for connection...")
	fmt.Println()

	var session *network.DirectSession
	for session == nil {
		session, err = ln.Accept(ctx)
		switch {
		case errors.Is(err, network.ErrListenerClosed):
			return nil
		case errors.Is(err, crypto.ErrHandshakeFailed):
			// A failed handshake is not a session; keep waiting
			log.Errorw("rejected connection", "error", err)
			fmt.Println("Handshake failed, waiting for another connection...")
		case err != nil:
			return err
		}
	}

	fmt.Printf("Connected to: %s\n\n", session.RemoteAddr())
	return serveDirect(ctx, identity, session)
}

func runConnect(address string) error {
	ctx, cancel := signalContext()
	defer cancel()

	identity, dc, err := directSetup()
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to %s...\n", address)

	dialCtx, dialCancel := context.WithTimeout(ctx, dc.HandshakeTimeout)
	session, err := network.Dial(dialCtx, address, dc)
	dialCancel()
	if err != nil {
		return err
	}

	fmt.Println("Connected!")
	fmt.Println()
	return serveDirect(ctx, identity, session)
}

func serveDirect(ctx context.Context, identity *crypto.KeyPair, session *network.DirectSession) error {
	self := protocol.PeerIDFromPublicKey(identity.Public[:])

	reg, runner, err := startRuntime(ctx, self)
	if err != nil {
		session.Close()
		return err
	}
	reg.Upsert(session.Remote(), remoteLabel)

	printChatBanner()

	err = runner.Serve(ctx, chat.NewDirectTransport(session))
	fmt.Println("Connection closed")

	if err != nil && !errors.Is(err, protocol.ErrConnectionClosed) {
		// Authentication failures and send errors end the session abnormally
		return err
	}
	return nil
}
