package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/jwt"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/syncagent"
)

var (
	watchChecks   []string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the token user's permission changes in real time",
	Long: `Subscribe to the change feed as the token's user and print every
connection state change and every permission set replacement. With --check,
each listed permission is re-evaluated locally after every refresh.`,
	Example: `  authz-admin watch --check patients:view --check billing:edit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagToken == "" {
			return fmt.Errorf("token not configured. Use --token or AUTHZ_TOKEN")
		}
		claims, err := jwt.ParseUnverified(flagToken)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		userID, err := shared.IDFromString(claims.UserID)
		if err != nil {
			return fmt.Errorf("token user: %w", err)
		}
		orgID, err := shared.IDFromString(claims.OrgID)
		if err != nil {
			return fmt.Errorf("token org: %w", err)
		}
		wsURL, err := websocketURL(flagAPIURL)
		if err != nil {
			return err
		}

		level := "warn"
		if flagVerbose {
			level = "debug"
		}
		log := logger.New(logger.Config{Level: level, Format: "text"})

		agent := syncagent.New(
			syncagent.NewHTTPFetcher(flagAPIURL, flagToken),
			syncagent.NewWebSocketDialer(wsURL, flagToken, userID, orgID),
			syncagent.WithLogger(log),
			syncagent.WithSubscriberOptions(
				syncagent.WithSubscriberLogger(log),
				syncagent.OnStateChange(func(s syncagent.State) {
					fmt.Printf("%s  state  %s\n", stamp(), s)
				}),
			),
		)

		ctx := cmd.Context()
		if err := agent.Start(ctx); err != nil {
			return fmt.Errorf("initial fetch: %w", err)
		}
		defer agent.Close()

		var held []permission.Permission
		var seen uint64
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			if gen := agent.Generation(); gen != seen {
				seen = gen
				snap := agent.Snapshot()
				added, removed := diffPermissions(held, snap.Set.Permissions)
				held = snap.Set.Permissions
				fmt.Printf("%s  set    generation=%d permissions=%d assignments=%d\n",
					stamp(), gen, len(held), len(snap.Set.Assignments))
				if len(added) > 0 {
					fmt.Printf("%s  +      %s\n", stamp(), strings.Join(added, ", "))
				}
				if len(removed) > 0 {
					fmt.Printf("%s  -      %s\n", stamp(), strings.Join(removed, ", "))
				}
				printChecks(agent)
			}
			if st := agent.Status(); st.Degraded {
				fmt.Printf("%s  state  degraded, reconnecting\n", stamp())
				agent.Reconnect()
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringArrayVar(&watchChecks, "check", nil, "Permission to evaluate after each refresh (repeatable)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 250*time.Millisecond, "How often to poll the local cache")
}

func printChecks(agent *syncagent.Agent) {
	for _, p := range watchChecks {
		sctx := scope.OrgContext(agent.Snapshot().OrgID)
		if flagLocation != "" {
			if id, err := shared.IDFromString(flagLocation); err == nil {
				sctx.LocationID = &id
			}
		}
		d := agent.Authorize(p, sctx, accesscontrol.CheckOptions{SkipLocationGate: sctx.LocationID == nil})
		verdict := "allow"
		if !d.Allowed {
			verdict = "deny (" + string(d.Reason) + ")"
		}
		fmt.Printf("%s  check  %s %s\n", stamp(), p, verdict)
	}
}

// websocketURL maps the API base URL to the change feed endpoint.
func websocketURL(apiURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/ws"
	return u.String(), nil
}

func diffPermissions(before, after []permission.Permission) (added, removed []string) {
	prev := make(map[permission.Permission]bool, len(before))
	for _, p := range before {
		prev[p] = true
	}
	next := make(map[permission.Permission]bool, len(after))
	for _, p := range after {
		next[p] = true
		if !prev[p] {
			added = append(added, p.String())
		}
	}
	for _, p := range before {
		if !next[p] {
			removed = append(removed, p.String())
		}
	}
	return added, removed
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}
