package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// errDenied makes "check" exit non-zero on a denial.
var errDenied = errors.New("permission denied")

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the token user's effective permissions and assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp PermissionsResponse
		if err := client.Get(cmd.Context(), "/api/v1/me/permissions", &resp); err != nil {
			return err
		}
		if printStructured(resp) {
			return nil
		}

		fmt.Printf("User:        %s\n", resp.UserID)
		fmt.Printf("Org:         %s\n", resp.OrgID)
		fmt.Printf("Computed:    %s (generation %d)\n", shortTime(resp.ComputedAt), resp.Generation)
		fmt.Printf("Permissions: %s\n\n", strings.Join(resp.Permissions, ", "))

		t := newTable("ASSIGNMENT", "ROLE", "SCOPE", "LOCATION", "DEPARTMENT", "EXPIRES")
		for _, a := range resp.Assignments {
			t.AddRow(a.AssignmentID, a.RoleKey, a.Scope,
				labelOr(a.LocationLabel, a.LocationID), labelOr(a.DepartmentLabel, a.DepartmentID),
				shortTime(ptrStr(a.ExpiresAt)))
		}
		t.Flush()
		printCount(len(resp.Assignments))
		return nil
	},
}

var meLocationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List the locations the token user can act at",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp struct {
			OrgID     string `json:"org_id" yaml:"org_id"`
			Locations struct {
				All       bool     `json:"all" yaml:"all"`
				Locations []string `json:"locations" yaml:"locations"`
			} `json:"locations" yaml:"locations"`
		}
		if err := client.Get(cmd.Context(), "/api/v1/me/locations", &resp); err != nil {
			return err
		}
		if printStructured(resp) {
			return nil
		}

		if resp.Locations.All {
			fmt.Println("All locations")
			return nil
		}
		for _, id := range resp.Locations.Locations {
			fmt.Println(id)
		}
		printCount(len(resp.Locations.Locations))
		return nil
	},
}

var (
	checkLocationID   string
	checkDepartmentID string
	checkSkipGate     bool
)

var checkCmd = &cobra.Command{
	Use:   "check <permission>",
	Short: "Ask whether the token user may perform a permission",
	Example: `  authz-admin check patients:view --location-id 6f1c...
  authz-admin check settings:edit --skip-location-gate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		req := AuthorizeRequest{Permission: args[0], SkipLocationGate: checkSkipGate}
		if checkLocationID != "" {
			req.LocationID = &checkLocationID
		}
		if checkDepartmentID != "" {
			req.DepartmentID = &checkDepartmentID
		}

		var resp AuthorizeResponse
		if err := client.Post(cmd.Context(), "/api/v1/authorize", req, &resp); err != nil {
			return err
		}
		if !printStructured(resp) {
			if resp.Allowed {
				fmt.Printf("ALLOWED  %s\n", args[0])
			} else {
				fmt.Printf("DENIED   %s (%s): %s\n", args[0], resp.Reason, resp.Message)
			}
		}
		if !resp.Allowed {
			return errDenied
		}
		return nil
	},
}

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Show the resource by action permission grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp MatrixResponse
		if err := client.Get(cmd.Context(), "/api/v1/permissions/matrix", &resp); err != nil {
			return err
		}
		if printStructured(resp) {
			return nil
		}

		resources := sortedKeys(resp.Matrix)
		actionSet := make(map[string]bool)
		for _, row := range resp.Matrix {
			for act := range row {
				actionSet[act] = true
			}
		}
		actions := sortedKeys(actionSet)

		t := newTable(append([]string{"RESOURCE"}, upper(actions)...)...)
		for _, res := range resources {
			row := []string{res}
			for _, act := range actions {
				mark := "."
				if resp.Matrix[res][act] {
					mark = "x"
				}
				row = append(row, mark)
			}
			t.AddRow(row...)
		}
		t.Flush()
		return nil
	},
}

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List feature keys and the permissions that unlock them",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp FeaturesResponse
		if err := client.Get(cmd.Context(), "/api/v1/features", &resp); err != nil {
			return err
		}
		if printStructured(resp) {
			return nil
		}

		fmt.Printf("Version: %s\n\n", truncate(resp.Version, 16))
		t := newTable("FEATURE", "PERMISSIONS")
		for _, key := range sortedKeys(resp.Features) {
			t.AddRow(key, strings.Join(resp.Features[key], ", "))
		}
		t.Flush()
		printCount(len(resp.Features))
		return nil
	},
}

func init() {
	meCmd.AddCommand(meLocationsCmd)

	checkCmd.Flags().StringVar(&checkLocationID, "location-id", "", "Location the action targets")
	checkCmd.Flags().StringVar(&checkDepartmentID, "department-id", "", "Department the action targets")
	checkCmd.Flags().BoolVar(&checkSkipGate, "skip-location-gate", false, "Check an org-wide action")
}

func labelOr(label string, id *string) string {
	if label != "" {
		return label
	}
	return ptrStr(id)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
