package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/parbench/pkg/client"
	"github.com/psantana5/parbench/pkg/config"
	tlsutil "github.com/psantana5/parbench/pkg/tls"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
	caFile       string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parbench",
	Short: "Parallel video processing benchmark service",
	Long: `parbench runs a video feature through sequential, pthread and OpenMP
builds of the same program and compares their performance.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.parbench/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL for client commands (default http://localhost:5000)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca-file", "", "CA certificate for https servers with a private certificate")

	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded

	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if serverURL == "" {
		addr := cfg.Server.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		scheme := "http://"
		if cfg.Server.TLS.Enabled {
			scheme = "https://"
		}
		serverURL = scheme + addr
	}
}

func newClient() *client.Client {
	tlsCfg, err := tlsutil.ClientConfig(caFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading CA file: %v\n", err)
		os.Exit(1)
	}
	if tlsCfg == nil {
		return client.New(serverURL)
	}
	return client.New(serverURL, client.WithTLSConfig(tlsCfg))
}
