/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command confplaned runs the configuration control plane daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane"
	"github.com/gravitational/confplane/lib/config"
	"github.com/gravitational/confplane/lib/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("confplaned", "ConfPlane configuration control plane daemon.")
	app.HelpFlag.Short('h')

	var clf config.CommandLineFlags
	start := app.Command("start", "Start the control plane.")
	start.Flag("config", "Path to the configuration file.").
		Short('c').StringVar(&clf.ConfigFile)
	start.Flag("listen-addr", "Operational API listen address.").
		StringVar(&clf.ListenAddr)
	start.Flag("log-level", "Minimum log level: debug, info, warn or error.").
		StringVar(&clf.LogLevel)
	start.Flag("log-format", "Log output format: text or json.").
		StringVar(&clf.LogFormat)
	start.Flag("config-source-addr", "Configuration source of truth base URL.").
		StringVar(&clf.ConfigSourceAddr)
	start.Flag("identity-provider-addr", "Identity provider base URL.").
		StringVar(&clf.IdentityProviderAddr)

	ver := app.Command("version", "Print the version and exit.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	switch command {
	case start.FullCommand():
		return trace.Wrap(onStart(&clf))
	case ver.FullCommand():
		fmt.Printf("ConfPlane v%v\n", confplane.Version)
		return nil
	}
	return nil
}

func onStart(clf *config.CommandLineFlags) error {
	var cfg service.Config
	if err := config.Configure(clf, &cfg); err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	process, err := service.NewProcess(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	defer process.Close()

	return trace.Wrap(process.Run(ctx))
}
