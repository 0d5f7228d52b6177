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

// Command cpctl is the ConfPlane operator CLI. It talks to the
// operational API of a running confplaned and, for configuration
// verification, directly to the configuration source of truth.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("cpctl", "ConfPlane operator CLI.")
	app.HelpFlag.Short('h')

	var ccf cliFlags
	app.Flag("addr", "Operational API base URL.").
		Default("http://127.0.0.1:3580").
		Envar("CONFPLANE_ADDR").StringVar(&ccf.addr)
	app.Flag("auth-token", "Bearer token identifying the caller.").
		Envar("CONFPLANE_AUTH_TOKEN").StringVar(&ccf.authToken)

	ver := app.Command("version", "Print the version and exit.")

	cmdStatus := statusCommand{}
	cmdStatus.initialize(app)

	cmdServices := servicesCommand{}
	cmdServices.initialize(app)

	cmdDrift := driftCommand{}
	cmdDrift.initialize(app)

	cmdApprovals := approvalsCommand{}
	cmdApprovals.initialize(app)

	cmdRefresh := refreshCommand{}
	cmdRefresh.initialize(app)

	cmdCache := cacheCommand{}
	cmdCache.initialize(app)

	cmdConfig := configCommand{}
	cmdConfig.initialize(app)

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}
	if command == ver.FullCommand() {
		fmt.Printf("ConfPlane v%v\n", confplane.Version)
		return nil
	}

	ctx := context.Background()
	for _, cmd := range []cliCommand{
		&cmdStatus, &cmdServices, &cmdDrift, &cmdApprovals,
		&cmdRefresh, &cmdCache, &cmdConfig,
	} {
		match, err := cmd.tryRun(ctx, command, &ccf)
		if err != nil {
			return trace.Wrap(err)
		}
		if match {
			return nil
		}
	}
	return nil
}

// cliFlags are the global cpctl flags.
type cliFlags struct {
	addr      string
	authToken string
}

// cliCommand is a command group that claims and runs matching
// subcommands.
type cliCommand interface {
	initialize(app *kingpin.Application)
	tryRun(ctx context.Context, command string, ccf *cliFlags) (match bool, err error)
}
