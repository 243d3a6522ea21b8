package role

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/pkg/sdk"
)

// exportedRole is the file format shared by export and import.
type exportedRole struct {
	Name        string   `json:"nombre"`
	Description string   `json:"descripcion,omitempty"`
	Color       string   `json:"color,omitempty"`
	Icon        string   `json:"icono,omitempty"`
	Priority    int      `json:"prioridad,omitempty"`
	Permissions []string `json:"permisos,omitempty"`
}

func toExported(r sdk.Role) exportedRole {
	out := exportedRole{
		Name:        r.Name,
		Description: r.Description,
		Color:       r.Color,
		Icon:        r.Icon,
		Priority:    r.Priority,
	}
	for _, p := range r.Permissions {
		out.Permissions = append(out.Permissions, p.Slug)
	}
	return out
}

func (e exportedRole) input() sdk.RoleInput {
	return sdk.RoleInput{
		Name:        e.Name,
		Description: &e.Description,
		Color:       &e.Color,
		Icon:        &e.Icon,
		Priority:    &e.Priority,
		Permissions: e.Permissions,
	}
}

var exportCmd = &cobra.Command{
	Use:   "export [role_names...]",
	Short: "Export roles to a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output")

		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}

		roles, err := cache.ListRoles(cmd.Context(), sdk.ListRolesOptions{IncludePermissions: true})
		if err != nil {
			return fmt.Errorf("failed to export roles: %w", err)
		}

		exported := make([]exportedRole, 0, len(roles))
		for _, r := range roles {
			if len(args) > 0 && !matchesAny(r, args) {
				continue
			}
			exported = append(exported, toExported(r))
		}

		data, err := json.MarshalIndent(exported, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode roles: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			return fmt.Errorf("failed to write to output file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d roles to %s\n", len(exported), outputFile)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import roles from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		inputFile, _ := cmd.Flags().GetString("file")
		force, _ := cmd.Flags().GetBool("force")

		data, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		var incoming []exportedRole
		if err := json.Unmarshal(data, &incoming); err != nil {
			return fmt.Errorf("failed to decode %s: %w", inputFile, err)
		}

		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}
		existing, err := cache.ListRoles(cmd.Context(), sdk.ListRolesOptions{})
		if err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}

		var imported, skipped int
		var errs []string
		for _, e := range incoming {
			current := findRole(existing, e.Name)
			switch {
			case current == nil:
				_, err = cache.CreateRole(cmd.Context(), e.input())
			case force:
				_, err = cache.UpdateRole(cmd.Context(), current.ID, e.input())
			default:
				skipped++
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", e.Name, err))
				continue
			}
			imported++
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Role import complete:\n")
		fmt.Fprintf(out, "  Imported: %d\n", imported)
		fmt.Fprintf(out, "  Skipped:  %d\n", skipped)
		if len(errs) > 0 {
			fmt.Fprintln(out, "Errors:")
			for _, e := range errs {
				fmt.Fprintf(out, "  - %s\n", e)
			}
			return fmt.Errorf("%d role(s) failed to import", len(errs))
		}
		return nil
	},
}

func matchesAny(r sdk.Role, names []string) bool {
	for _, n := range names {
		if r.Matches(n) {
			return true
		}
	}
	return false
}

func findRole(roles []sdk.Role, name string) *sdk.Role {
	for i := range roles {
		if roles[i].Matches(name) {
			return &roles[i]
		}
	}
	return nil
}

func init() {
	exportCmd.Flags().String("output", "roles.json", "Output file for exported roles")
	importCmd.Flags().String("file", "roles.json", "Input file for imported roles")
	importCmd.Flags().Bool("force", false, "Overwrite existing roles")
}
