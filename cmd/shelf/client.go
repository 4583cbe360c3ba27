package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/game-shelf/internal/adapter/handler"
)

const defaultDaemonAddr = "localhost:50051"

func dial(addr string) (*handler.ShelfClient, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return handler.NewShelfClient(conn), conn.Close, nil
}

func refreshCmd() *cobra.Command {
	var (
		addr      string
		immediate bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "refresh [key...]",
		Short: "Ask a running daemon to reconcile games with the server",
		Long:  `Refresh the given games, or every game the daemon knows when no key is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dial(addr)
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := withSignals(cmd.Context())
			defer cancel()
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			resp, err := client.Refresh(ctx, &handler.RefreshRequest{Keys: args, Immediate: immediate})
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			fmt.Printf("scheduled %d game(s)\n", resp.Scheduled)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultDaemonAddr, "Daemon gRPC address")
	cmd.Flags().BoolVar(&immediate, "now", false, "Skip the debounce window")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		addr string
		list string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the games a running daemon holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeConn, err := dial(addr)
			if err != nil {
				return err
			}
			defer closeConn()

			resp, err := client.ListGames(cmd.Context(), &handler.ListGamesRequest{List: list})
			if err != nil {
				return fmt.Errorf("list games: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Games)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultDaemonAddr, "Daemon gRPC address")
	cmd.Flags().StringVar(&list, "list", "", "Only wishlist or collection")
	return cmd
}
