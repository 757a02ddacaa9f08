package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rolesCmd = &cobra.Command{
	Use:     "roles",
	Aliases: []string{"role"},
	Short:   "Manage roles of the token's organization",
}

var rolesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List system and custom roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var resp listResponse[RoleResponse]
		if err := client.Get(cmd.Context(), "/api/v1/roles", &resp); err != nil {
			return err
		}
		if printStructured(resp) {
			return nil
		}

		t := newTable("ID", "KEY", "NAME", "SCOPE", "SYSTEM", "MODIFIED", "PERMISSIONS")
		for _, r := range resp.Data {
			t.AddRow(r.ID, r.Key, truncate(r.Name, 30), r.ScopeLevel,
				boolToStr(r.IsSystem), boolToStr(r.IsModified), fmt.Sprint(len(r.Permissions)))
		}
		t.Flush()
		printCount(resp.Total)
		return nil
	},
}

var rolesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a role with its resolved permissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		var r RoleResponse
		if err := client.Get(cmd.Context(), "/api/v1/roles/"+args[0], &r); err != nil {
			return err
		}
		if printStructured(r) {
			return nil
		}
		printRole(r)
		return nil
	},
}

var (
	roleKey         string
	roleName        string
	roleDescription string
	roleScope       string
	rolePermissions []string
)

var rolesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a custom role",
	Example: `  authz-admin roles create --key triage_nurse --name "Triage Nurse" \
    --scope LOCATION --permission patients:view --permission appointments:view`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"key":         roleKey,
			"name":        roleName,
			"description": roleDescription,
			"scope_level": strings.ToUpper(roleScope),
			"permissions": rolePermissions,
		}
		var r RoleResponse
		if err := client.Post(cmd.Context(), "/api/v1/roles", body, &r); err != nil {
			return err
		}
		if printStructured(r) {
			return nil
		}
		fmt.Printf("role/%s created (%s)\n", r.Key, r.ID)
		return nil
	},
}

var rolesSetPermissionsCmd = &cobra.Command{
	Use:   "set-permissions <id> [permission...]",
	Short: "Replace a role's permissions",
	Long: `Replace a role's permissions. Editing a system role writes an organization
override; no arguments after the id clears the set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		perms := args[1:]
		if perms == nil {
			perms = []string{}
		}
		var r RoleResponse
		body := map[string]any{"permissions": perms}
		if err := client.Put(cmd.Context(), "/api/v1/roles/"+args[0]+"/permissions", body, &r); err != nil {
			return err
		}
		if printStructured(r) {
			return nil
		}
		fmt.Printf("role/%s updated (%d permissions)\n", r.Key, len(r.Permissions))
		return nil
	},
}

var rolesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a custom role or reset a system role override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Delete(cmd.Context(), "/api/v1/roles/"+args[0]); err != nil {
			return err
		}
		fmt.Printf("role/%s deleted\n", args[0])
		return nil
	},
}

func init() {
	rolesCreateCmd.Flags().StringVar(&roleKey, "key", "", "Role key (lowercase, underscores)")
	rolesCreateCmd.Flags().StringVar(&roleName, "name", "", "Display name")
	rolesCreateCmd.Flags().StringVar(&roleDescription, "description", "", "Description")
	rolesCreateCmd.Flags().StringVar(&roleScope, "scope", "LOCATION", "Scope level: ORG, LOCATION, DEPARTMENT")
	rolesCreateCmd.Flags().StringArrayVarP(&rolePermissions, "permission", "p", nil, "Permission to grant (repeatable)")
	_ = rolesCreateCmd.MarkFlagRequired("key")
	_ = rolesCreateCmd.MarkFlagRequired("name")

	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesGetCmd)
	rolesCmd.AddCommand(rolesCreateCmd)
	rolesCmd.AddCommand(rolesSetPermissionsCmd)
	rolesCmd.AddCommand(rolesDeleteCmd)
}

func printRole(r RoleResponse) {
	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Key:         %s\n", r.Key)
	fmt.Printf("Name:        %s\n", r.Name)
	if r.Description != "" {
		fmt.Printf("Description: %s\n", r.Description)
	}
	fmt.Printf("Scope:       %s\n", r.ScopeLevel)
	fmt.Printf("System:      %s\n", boolToStr(r.IsSystem))
	fmt.Printf("Modified:    %s\n", boolToStr(r.IsModified))
	fmt.Printf("Parent:      %s\n", ptrStr(r.ParentID))
	fmt.Printf("Updated:     %s\n", shortTime(r.UpdatedAt))
	fmt.Println("Permissions:")
	for _, p := range r.Permissions {
		fmt.Printf("  - %s\n", p)
	}
}
