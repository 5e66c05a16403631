package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pinshare/relay/internal/token"
)

// tokenCmd mints a bearer token for the share API
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "relay token generates a new bearer token for the share API",
	Long: `Set the operating parameters with environment variables, for example

export PINSHARE_TOKEN_LIFETIME=3600
export PINSHARE_TOKEN_SECRET=somesecret
export PINSHARE_TOKEN_USER=alice
export PINSHARE_TOKEN_AUDIENCE=https://share.example.org
export PINSHARE_TOKEN_ADMIN=false
bearer=$(relay token)
`,

	Run: func(cmd *cobra.Command, args []string) {

		viper.SetEnvPrefix("PINSHARE_TOKEN")
		viper.AutomaticEnv()

		viper.SetDefault("lifetime", 3600)
		viper.SetDefault("admin", false)

		lifetime := viper.GetInt64("lifetime")
		audience := viper.GetString("audience")
		secret := viper.GetString("secret")
		user := viper.GetString("user")
		admin := viper.GetBool("admin")

		// check inputs

		if secret == "" {
			fmt.Println("PINSHARE_TOKEN_SECRET not set")
			os.Exit(1)
		}
		if user == "" {
			fmt.Println("PINSHARE_TOKEN_USER not set")
			os.Exit(1)
		}
		if audience == "" {
			fmt.Println("PINSHARE_TOKEN_AUDIENCE not set")
			os.Exit(1)
		}

		scopes := []string{token.ScopeShare}
		if admin {
			scopes = append(scopes, token.ScopeAdmin)
		}

		iat := time.Now().Unix() - 1 //ensure immediately usable
		nbf := iat
		exp := iat + lifetime

		claims := token.New(audience, user, scopes, iat, nbf, exp)

		bearer, err := token.Sign(claims, secret)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		fmt.Println(bearer)
		os.Exit(0)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
