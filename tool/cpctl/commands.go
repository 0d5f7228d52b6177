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

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/asciitable"
	"github.com/gravitational/confplane/lib/cache"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/utils"
)

// statusCommand prints control plane health: per-cache statistics plus
// dependency reachability.
type statusCommand struct {
	status *kingpin.CmdClause
}

func (c *statusCommand) initialize(app *kingpin.Application) {
	c.status = app.Command("status", "Show control plane health.")
}

func (c *statusCommand) tryRun(ctx context.Context, command string, ccf *cliFlags) (bool, error) {
	if command != c.status.FullCommand() {
		return false, nil
	}

	// The health endpoint lives outside the versioned API prefix.
	clt := &http.Client{Timeout: defaults.DefaultRequestTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(ccf.addr, "/")+"/healthz", nil)
	if err != nil {
		return true, trace.Wrap(err)
	}
	resp, err := clt.Do(req)
	if err != nil {
		return true, trace.ConnectionProblem(err, "control plane is unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, trace.Wrap(err)
	}
	var health struct {
		Status       string                 `json:"status"`
		Caches       map[string]cache.Stats `json:"caches"`
		Dependencies map[string]string      `json:"dependencies"`
	}
	if err := utils.FastUnmarshal(body, &health); err != nil {
		return true, trace.Wrap(err)
	}

	fmt.Printf("Status: %v\n\n", health.Status)
	if len(health.Dependencies) > 0 {
		table := asciitable.MakeTable([]string{"Dependency", "State"})
		for name, state := range health.Dependencies {
			table.AddRow([]string{name, state})
		}
		table.SortRowsBy(0)
		fmt.Print(table.String())
		fmt.Println()
	}
	table := asciitable.MakeTable([]string{"Cache", "Entries", "L1 Hit", "L2 Hit", "Overall", "Errors"})
	for name, stats := range health.Caches {
		table.AddRow([]string{
			name,
			fmt.Sprintf("%v", stats.Entries),
			percent(stats.L1HitRatio),
			percent(stats.L2HitRatio),
			percent(stats.OverallHitRatio),
			fmt.Sprintf("%v", stats.Errors),
		})
	}
	table.SortRowsBy(0)
	fmt.Print(table.String())
	return true, nil
}

// servicesCommand lists the application services visible to the caller.
type servicesCommand struct {
	ls *kingpin.CmdClause

	ownerTeam string
	tag       string
	lifecycle string
}

func (c *servicesCommand) initialize(app *kingpin.Application) {
	services := app.Command("services", "Operate on application services.")
	c.ls = services.Command("ls", "List application services.")
	c.ls.Flag("owner-team", "Only services owned by this team.").StringVar(&c.ownerTeam)
	c.ls.Flag("tag", "Only services carrying this tag.").StringVar(&c.tag)
	c.ls.Flag("lifecycle", "Only services in this lifecycle stage.").StringVar(&c.lifecycle)
}

func (c *servicesCommand) tryRun(ctx context.Context, command string, ccf *cliFlags) (bool, error) {
	if command != c.ls.FullCommand() {
		return false, nil
	}
	clt, err := newAPIClient(ccf)
	if err != nil {
		return true, trace.Wrap(err)
	}

	params := url.Values{}
	if c.ownerTeam != "" {
		params.Set("ownerTeamId", c.ownerTeam)
	}
	if c.tag != "" {
		params.Set("tag", c.tag)
	}
	if c.lifecycle != "" {
		params.Set("lifecycle", c.lifecycle)
	}

	var services []types.ApplicationService
	if err := clt.get(ctx, clt.endpoint("services"), params, &services); err != nil {
		return true, trace.Wrap(err)
	}

	table := asciitable.MakeTable([]string{"ID", "Display Name", "Owner Team", "Lifecycle", "Environments"})
	for _, svc := range services {
		owner := svc.OwnerTeamID
		if owner == "" {
			owner = "(orphan)"
		}
		table.AddRow([]string{
			svc.ID, svc.DisplayName, owner,
			string(svc.Lifecycle), strings.Join(svc.Environments, ","),
		})
	}
	table.SortRowsBy(0)
	fmt.Print(table.String())
	return true, nil
}

// driftCommand lists drift events, prints aggregate statistics and
// drives the drift lifecycle.
type driftCommand struct {
	ls      *kingpin.CmdClause
	stats   *kingpin.CmdClause
	ack     *kingpin.CmdClause
	resolve *kingpin.CmdClause

	serviceID string
	open      bool
	status    string
	severity  string
	eventID   string
	notes     string
}

func (c *driftCommand) initialize(app *kingpin.Application) {
	drift := app.Command("drift", "Operate on configuration drift events.")

	c.ls = drift.Command("ls", "List drift events.")
	c.ls.Flag("service", "Only events of this service.").StringVar(&c.serviceID)
	c.ls.Flag("open", "Only non-terminal events.").BoolVar(&c.open)
	c.ls.Flag("status", "Only events in this lifecycle state.").StringVar(&c.status)
	c.ls.Flag("severity", "Only events of this severity.").StringVar(&c.severity)

	c.stats = drift.Command("stats", "Show aggregate drift statistics.")

	c.ack = drift.Command("ack", "Acknowledge a drift event.")
	c.ack.Arg("id", "Drift event ID.").Required().StringVar(&c.eventID)
	c.ack.Flag("notes", "Operator annotation.").StringVar(&c.notes)

	c.resolve = drift.Command("resolve", "Manually resolve a drift event.")
	c.resolve.Arg("id", "Drift event ID.").Required().StringVar(&c.eventID)
	c.resolve.Flag("notes", "Operator annotation.").StringVar(&c.notes)
}

func (c *driftCommand) tryRun(ctx context.Context, command string, ccf *cliFlags) (bool, error) {
	var action func(ctx context.Context, clt *apiClient) error
	switch command {
	case c.ls.FullCommand():
		action = c.list
	case c.stats.FullCommand():
		action = c.statistics
	case c.ack.FullCommand():
		action = func(ctx context.Context, clt *apiClient) error {
			return c.transition(ctx, clt, "ack")
		}
	case c.resolve.FullCommand():
		action = func(ctx context.Context, clt *apiClient) error {
			return c.transition(ctx, clt, "resolve")
		}
	default:
		return false, nil
	}
	clt, err := newAPIClient(ccf)
	if err != nil {
		return true, trace.Wrap(err)
	}
	return true, trace.Wrap(action(ctx, clt))
}

func (c *driftCommand) list(ctx context.Context, clt *apiClient) error {
	params := url.Values{}
	if c.serviceID != "" {
		params.Set("serviceId", c.serviceID)
	}
	if c.open {
		params.Set("open", "true")
	}
	if c.status != "" {
		params.Set("status", c.status)
	}
	if c.severity != "" {
		params.Set("severity", c.severity)
	}

	var events []types.DriftEvent
	if err := clt.get(ctx, clt.endpoint("drift", "events"), params, &events); err != nil {
		return trace.Wrap(err)
	}

	table := asciitable.MakeTable([]string{"ID", "Service", "Instance", "Environment", "Severity", "Status", "Detected"})
	for _, event := range events {
		table.AddRow([]string{
			event.ID, event.ServiceID, event.InstanceID, event.Environment,
			string(event.Severity), string(event.Status),
			event.DetectedAt.Format(time.RFC3339),
		})
	}
	fmt.Print(table.String())
	return nil
}

func (c *driftCommand) statistics(ctx context.Context, clt *apiClient) error {
	var stats types.DriftStatistics
	if err := clt.get(ctx, clt.endpoint("drift", "statistics"), url.Values{}, &stats); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Total:              %v\n", stats.Total)
	fmt.Printf("Unresolved:         %v\n", stats.Unresolved)
	fmt.Printf("Affected instances: %v\n", stats.AffectedInstances)
	if len(stats.ByStatus) > 0 {
		table := asciitable.MakeTable([]string{"Status", "Count"})
		for status, count := range stats.ByStatus {
			table.AddRow([]string{string(status), fmt.Sprintf("%v", count)})
		}
		table.SortRowsBy(0)
		fmt.Println()
		fmt.Print(table.String())
	}
	if len(stats.BySeverity) > 0 {
		table := asciitable.MakeTable([]string{"Severity", "Count"})
		for severity, count := range stats.BySeverity {
			table.AddRow([]string{string(severity), fmt.Sprintf("%v", count)})
		}
		table.SortRowsBy(0)
		fmt.Println()
		fmt.Print(table.String())
	}
	return nil
}

func (c *driftCommand) transition(ctx context.Context, clt *apiClient, verb string) error {
	payload := struct {
		Notes string `json:"notes,omitempty"`
	}{Notes: c.notes}
	var event types.DriftEvent
	if err := clt.post(ctx, clt.endpoint("drift", "events", c.eventID, verb), payload, &event); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Drift event %v is now %v\n", event.ID, event.Status)
	return nil
}

// approvalsCommand drives the ownership transfer workflow.
type approvalsCommand struct {
	ls     *kingpin.CmdClause
	create *kingpin.CmdClause
	decide *kingpin.CmdClause
	cancel *kingpin.CmdClause

	serviceID  string
	state      string
	targetTeam string
	requestID  string
	gate       string
	decision   string
	comment    string
}

func (c *approvalsCommand) initialize(app *kingpin.Application) {
	approvals := app.Command("approvals", "Operate on ownership transfer requests.")

	c.ls = approvals.Command("ls", "List transfer requests.")
	c.ls.Flag("service", "Only requests for this service.").StringVar(&c.serviceID)
	c.ls.Flag("state", "Only requests in this state.").StringVar(&c.state)

	c.create = approvals.Command("create", "Request an ownership transfer.")
	c.create.Arg("service", "Service to transfer.").Required().StringVar(&c.serviceID)
	c.create.Arg("target-team", "Team receiving ownership.").Required().StringVar(&c.targetTeam)

	c.decide = approvals.Command("decide", "Record a gate decision.")
	c.decide.Arg("id", "Transfer request ID.").Required().StringVar(&c.requestID)
	c.decide.Flag("gate", "Gate to decide for: sys_admin or line_manager.").
		Required().StringVar(&c.gate)
	c.decide.Flag("decision", "approve or reject.").Required().StringVar(&c.decision)
	c.decide.Flag("comment", "Decision comment.").StringVar(&c.comment)

	c.cancel = approvals.Command("cancel", "Cancel a pending transfer request.")
	c.cancel.Arg("id", "Transfer request ID.").Required().StringVar(&c.requestID)
}

func (c *approvalsCommand) tryRun(ctx context.Context, command string, ccf *cliFlags) (bool, error) {
	var action func(ctx context.Context, clt *apiClient) error
	switch command {
	case c.ls.FullCommand():
		action = c.list
	case c.create.FullCommand():
		action = c.createRequest
	case c.decide.FullCommand():
		action = c.decideRequest
	case c.cancel.FullCommand():
		action = c.cancelRequest
	default:
		return false, nil
	}
	clt, err := newAPIClient(ccf)
	if err != nil {
		return true, trace.Wrap(err)
	}
	return true, trace.Wrap(action(ctx, clt))
}

func (c *approvalsCommand) list(ctx context.Context, clt *apiClient) error {
	params := url.Values{}
	if c.serviceID != "" {
		params.Set("serviceId", c.serviceID)
	}
	if c.state != "" {
		params.Set("state", c.state)
	}

	var requests []types.ApprovalRequest
	if err := clt.get(ctx, clt.endpoint("approvals"), params, &requests); err != nil {
		return trace.Wrap(err)
	}

	table := asciitable.MakeTable([]string{"ID", "Service", "Target Team", "Requester", "State", "Created"})
	for _, request := range requests {
		table.AddRow([]string{
			request.ID, request.ServiceID, request.TargetTeamID,
			request.RequesterUserID, string(request.State),
			request.CreatedAt.Format(time.RFC3339),
		})
	}
	fmt.Print(table.String())
	return nil
}

func (c *approvalsCommand) createRequest(ctx context.Context, clt *apiClient) error {
	payload := struct {
		ServiceID    string `json:"service_id"`
		TargetTeamID string `json:"target_team_id"`
	}{ServiceID: c.serviceID, TargetTeamID: c.targetTeam}

	var request types.ApprovalRequest
	if err := clt.post(ctx, clt.endpoint("approvals"), payload, &request); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Created transfer request %v for %v -> %v\n", request.ID, request.ServiceID, request.TargetTeamID)
	return nil
}

func (c *approvalsCommand) decideRequest(ctx context.Context, clt *apiClient) error {
	payload := struct {
		Gate     string `json:"gate"`
		Decision string `json:"decision"`
		Comment  string `json:"comment,omitempty"`
	}{Gate: c.gate, Decision: c.decision, Comment: c.comment}

	var request types.ApprovalRequest
	if err := clt.post(ctx, clt.endpoint("approvals", c.requestID, "decision"), payload, &request); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Request %v is now %v\n", request.ID, request.State)
	return nil
}

func (c *approvalsCommand) cancelRequest(ctx context.Context, clt *apiClient) error {
	var request types.ApprovalRequest
	if err := clt.post(ctx, clt.endpoint("approvals", c.requestID, "cancel"), nil, &request); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Request %v is now %v\n", request.ID, request.State)
	return nil
}

// refreshCommand triggers a targeted configuration refresh.
type refreshCommand struct {
	refresh *kingpin.CmdClause

	destination string
}

func (c *refreshCommand) initialize(app *kingpin.Application) {
	c.refresh = app.Command("refresh", "Ask instances to re-pull their configuration.")
	c.refresh.Arg("destination", "Target as <serviceID>[:<instanceID>], * for wildcard.").
		Required().StringVar(&c.destination)
}

func (c *refreshCommand) tryRun(ctx context.Context, command string, ccf *cliFlags) (bool, error) {
	if command != c.refresh.FullCommand() {
		return false, nil
	}
	clt, err := newAPIClient(ccf)
	if err != nil {
		return true, trace.Wrap(err)
	}
	params := url.Values{"destination": []string{c.destination}}
	if err := clt.post(ctx, clt.endpoint("refresh")+"?"+params.Encode(), nil, nil); err != nil {
		return true, trace.Wrap(err)
	}
	fmt.Printf("Refresh published to %v\n", c.destination)
	return true, nil
}

// cacheCommand invalidates one or all named caches.
type cacheCommand struct {
	clear *kingpin.CmdClause

	name string
}

func (c *cacheCommand) initialize(app *kingpin.Application) {
	cacheCmd := app.Command("cache", "Operate on the cache fabric.")
	c.clear = cacheCmd.Command("clear", "Invalidate cache entries.")
	c.clear.Flag("name", "Cache to clear. Clears every cache when omitted.").StringVar(&c.name)
}

func (c *cacheCommand) tryRun(ctx context.Context, command string, ccf *cliFlags) (bool, error) {
	if command != c.clear.FullCommand() {
		return false, nil
	}
	clt, err := newAPIClient(ccf)
	if err != nil {
		return true, trace.Wrap(err)
	}
	endpoint := clt.endpoint("cache", "clear")
	if c.name != "" {
		params := url.Values{"cacheName": []string{c.name}}
		endpoint += "?" + params.Encode()
	}
	if err := clt.post(ctx, endpoint, nil, nil); err != nil {
		return true, trace.Wrap(err)
	}
	if c.name != "" {
		fmt.Printf("Cache %v cleared\n", c.name)
	} else {
		fmt.Println("All caches cleared")
	}
	return true, nil
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
