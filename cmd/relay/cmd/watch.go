package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pinshare/relay/internal/hub"
	"github.com/pinshare/relay/internal/reconws"
)

// watchCmd subscribes to a share token and prints events
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "watch a share token and print its events",
	Long: `Watch subscribes to a share token and prints each event received
from the relay as a JSON line. For example:

export PINSHARE_CLIENT_URL=ws://localhost:8080/ws
export PINSHARE_CLIENT_TOKEN=2b0b4d9c-...
relay watch
`,

	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("PINSHARE_CLIENT")
		viper.AutomaticEnv()

		url := viper.GetString("url")
		shareToken := viper.GetString("token")

		if url == "" {
			fmt.Println("PINSHARE_CLIENT_URL not set")
			os.Exit(1)
		}
		if shareToken == "" {
			fmt.Println("PINSHARE_CLIENT_TOKEN not set")
			os.Exit(1)
		}

		sub, err := hub.NewSubscribe(shareToken)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		r := reconws.New()
		go r.Reconnect(ctx, url)

		// Re-subscribing is idempotent at the hub, so send periodically
		// to cover reconnections.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case r.Out <- reconws.WsMessage{Data: sub, Type: websocket.TextMessage}:
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(30 * time.Second):
				}
			}
		}()

		for msg := range r.In {
			fmt.Printf("%s\n", msg.Data)
		}

		log.Trace("watch done")
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
