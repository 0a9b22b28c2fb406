/***************************************************************
 *
 * Copyright (C) 2026, Inkhorn Project
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inkhorn/inkhorn/config"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "inkhorn",
		Short: "Third-party authentication service",
		Long: `Inkhorn lets web applications delegate sign-in to external
OAuth2 providers, linking provider identities to local accounts and
managing the resulting credentials.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig(cfgFile)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.inkhorn/inkhorn.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		log.Errorln(err)
	}
	return err
}
