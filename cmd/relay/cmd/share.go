package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pinshare/relay/internal/hub"
	"github.com/pinshare/relay/internal/reconws"
)

// shareCmd pushes position fixes from stdin to the relay
var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "push position fixes from stdin to the relay",
	Long: `Share reads "lat lng" pairs from stdin, one per line, and sends them
to the relay as location updates for your share token. Viewer counts
pushed by the relay are printed to stderr. For example:

export PINSHARE_CLIENT_URL=ws://localhost:8080/ws
export PINSHARE_CLIENT_TOKEN=2b0b4d9c-...
echo "55.95 -3.19" | relay share
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

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		r := reconws.New()
		go r.Reconnect(ctx, url)

		// print viewer counts as they arrive
		go func() {
			for msg := range r.In {
				fmt.Fprintf(os.Stderr, "%s\n", msg.Data)
			}
		}()

		scanner := bufio.NewScanner(os.Stdin)

		for scanner.Scan() {
			var lat, lng float64

			if _, err := fmt.Sscanf(scanner.Text(), "%f %f", &lat, &lng); err != nil {
				log.WithField("line", scanner.Text()).Warn("skipping unparseable fix")
				continue
			}

			data, err := hub.NewLocationUpdateRequest(shareToken, lat, lng)
			if err != nil {
				log.WithField("error", err.Error()).Error("marshalling fix")
				continue
			}

			r.Out <- reconws.WsMessage{Data: data, Type: websocket.TextMessage}
		}

		if err := scanner.Err(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(shareCmd)
}
