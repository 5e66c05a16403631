package cmd

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" //ok in production https://medium.com/google-cloud/continuous-profiling-of-go-programs-96d4416af77b
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/client9/reopen"
	log "github.com/sirupsen/logrus"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pinshare/relay/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the live location share relay",
	Long: `Serve runs the relay: the share API, the websocket endpoint and the
metrics endpoint on a single port. Set parameters with environment
variables, for example:

export PINSHARE_AUDIENCE=https://share.example.org
export PINSHARE_DB_URL=postgres://relay@localhost/pinshare
export PINSHARE_LOG_FILE=/var/log/pinshare/relay.log
export PINSHARE_LOG_FORMAT=json
export PINSHARE_LOG_LEVEL=warn
export PINSHARE_PORT=8080
export PINSHARE_PORT_PROFILE=6061
export PINSHARE_PROFILE=true
export PINSHARE_PUBLIC_BASE=https://share.example.org
export PINSHARE_SECRET=somesecret
export PINSHARE_SESSION_TTL=24h
relay serve

Notes:
PINSHARE_DB_URL is optional; without it, share records are held in memory
and do not survive a restart.
Send SIGHUP to reopen the log file after rotation.
`,
	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("PINSHARE")
		viper.AutomaticEnv()

		viper.SetDefault("audience", "") //so we can check it's been provided
		viper.SetDefault("db_url", "")
		viper.SetDefault("log_file", "stdout")
		viper.SetDefault("log_format", "json")
		viper.SetDefault("log_level", "warn")
		viper.SetDefault("port", 8080)
		viper.SetDefault("port_profile", 6061)
		viper.SetDefault("profile", false)
		viper.SetDefault("public_base", "")
		viper.SetDefault("secret", "") //so we can check it's been provided
		viper.SetDefault("session_ttl", "24h")

		audience := viper.GetString("audience")
		dbURL := viper.GetString("db_url")
		logFile := viper.GetString("log_file")
		logFormat := viper.GetString("log_format")
		logLevel := viper.GetString("log_level")
		port := viper.GetInt("port")
		portProfile := viper.GetInt("port_profile")
		profile := viper.GetBool("profile")
		publicBase := viper.GetString("public_base")
		secret := viper.GetString("secret")
		sessionTTLStr := viper.GetString("session_ttl")

		// Sanity checks
		ok := true

		if audience == "" {
			fmt.Println("You must set PINSHARE_AUDIENCE")
			ok = false
		}

		if secret == "" {
			fmt.Println("You must set PINSHARE_SECRET")
			ok = false
		}

		if !ok {
			os.Exit(1)
		}

		sessionTTL, err := time.ParseDuration(sessionTTLStr)
		if err != nil {
			fmt.Print("cannot parse duration in PINSHARE_SESSION_TTL=" + sessionTTLStr)
			os.Exit(1)
		}

		// set up logging
		switch strings.ToLower(logLevel) {
		case "trace":
			log.SetLevel(log.TraceLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "fatal":
			log.SetLevel(log.FatalLevel)
		case "panic":
			log.SetLevel(log.PanicLevel)
		default:
			fmt.Println("PINSHARE_LOG_LEVEL can be trace, debug, info, warn, error, fatal or panic but not " + logLevel)
			os.Exit(1)
		}

		switch strings.ToLower(logFormat) {
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		case "text":
			log.SetFormatter(&log.TextFormatter{})
		default:
			fmt.Println("PINSHARE_LOG_FORMAT can be json or text but not " + logFormat)
			os.Exit(1)
		}

		if strings.ToLower(logFile) == "stdout" {

			log.SetOutput(os.Stdout)

		} else {

			f, err := reopen.NewFileWriter(logFile)
			if err != nil {
				log.Infof("Failed to log to %s, logging to default stderr", logFile)
			} else {
				log.SetOutput(f)

				// reopen the log file on SIGHUP so logrotate works
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				go func() {
					for range hup {
						if err := f.Reopen(); err != nil {
							log.Errorf("log reopen error: %s", err.Error())
						}
					}
				}()
			}
		}

		// Report useful info
		log.Infof("relay version: %s", versionString())
		log.Infof("Audience: [%s]", audience)
		log.Infof("Database configured: [%t]", dbURL != "")
		log.Infof("Log file: [%s]", logFile)
		log.Infof("Log format: [%s]", logFormat)
		log.Infof("Log level: [%s]", logLevel)
		log.Infof("Port: [%d]", port)
		log.Infof("Public base: [%s]", publicBase)
		log.Infof("Session TTL: [%s]", sessionTTL)
		if len(secret) >= 8 {
			log.Debugf("Secret: [%s...%s]", secret[:4], secret[len(secret)-4:])
		}

		// Optionally start the profiling server
		if profile {
			go func() {
				url := "localhost:" + strconv.Itoa(portProfile)
				err := http.ListenAndServe(url, nil)
				if err != nil {
					log.Error(err.Error())
				}
			}()
		}

		var wg sync.WaitGroup

		closed := make(chan struct{})

		c := make(chan os.Signal, 1)

		signal.Notify(c, os.Interrupt)

		go func() {
			for range c {
				close(closed)
				wg.Wait()
				os.Exit(0)
			}
		}()

		wg.Add(1)

		config := relay.Config{
			Port:        port,
			Audience:    audience,
			Secret:      secret,
			DatabaseURL: dbURL,
			SessionTTL:  sessionTTL,
			PublicBase:  publicBase,
		}

		go relay.Relay(closed, &wg, config)

		wg.Wait()

	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
