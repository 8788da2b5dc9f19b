// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile        string
	endpoint       string
	timeout        int
	verbose        bool
	output         string
	securityPolicy string
	securityMode   string
	certFile       string
	keyFile        string
	username       string
	password       string
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-opcua",
	Short: "OPC UA managed subscription client",
	Long: `A command line interface for OPC UA subscriptions and index ranges.

Examples:
  edgeo-opcua subscribe -e opc.tcp://localhost:4840 "ns=2;s=Temperature"
  edgeo-opcua subscribe -e opc.tcp://localhost:4840 "ns=2;i=1" --index-range 0:3
  edgeo-opcua range -e opc.tcp://localhost:4840 "ns=2;i=7" "1:2,0"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch viper.GetString("output") {
		case "table", "json":
			return nil
		default:
			return fmt.Errorf("unknown output format: %s", viper.GetString("output"))
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $HOME/.edgeo-opcua.yaml)")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "opc.tcp://localhost:4840", "OPC UA server endpoint URL")
	rootCmd.PersistentFlags().IntVarP(&timeout, "timeout", "t", 5000, "Operation timeout in milliseconds")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&securityPolicy, "security-policy", "s", "None", "Security policy (None, Basic128Rsa15, Basic256, Basic256Sha256, Aes128Sha256RsaOaep, Aes256Sha256RsaPss)")
	rootCmd.PersistentFlags().StringVarP(&securityMode, "security-mode", "m", "None", "Security mode (None, Sign, SignAndEncrypt)")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert", "", "Path to client certificate file (PEM format)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "Path to client private key file (PEM format)")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "User name for authentication")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Password for authentication")

	for _, name := range []string{
		"endpoint", "timeout", "verbose", "output",
		"security-policy", "security-mode", "cert", "key", "username", "password",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(rangeCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-opcua")
	}

	viper.SetEnvPrefix("OPCUA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		newLogger().Debug("using config file", slog.String("file", viper.ConfigFileUsed()))
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
