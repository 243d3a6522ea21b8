// Package cmdutil holds helpers shared by the panelctl command groups.
package cmdutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/internal/client"
	"github.com/terraconstructs/panel/cmd/panelctl/internal/config"
	"github.com/terraconstructs/panel/pkg/sdk"
)

// Provider returns the client provider injected by the root command.
func Provider(cmd *cobra.Command) *client.Provider {
	return config.MustFromContext(cmd.Context()).ClientProvider
}

// RequireSession is a PersistentPreRunE for command groups that need a
// logged-in principal. With adminOnly set the principal must also hold one
// of the configured admin roles.
func RequireSession(adminOnly bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		req := sdk.Requirement{RequiresAuth: true}
		if adminOnly {
			req.Roles = cfg.Settings.AdminRoles
		}

		err := cfg.ClientProvider.Guard(cmd.Context(), req)
		switch {
		case errors.Is(err, sdk.ErrNotAuthenticated):
			return errors.New("not logged in; please run `panelctl auth login`")
		case errors.Is(err, sdk.ErrForbidden):
			return fmt.Errorf("access denied: requires one of the roles %s", strings.Join(req.Roles, ", "))
		}
		return err
	}
}

// ParseID parses a positional numeric identifier.
func ParseID(what, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

// ParseIDs parses every raw value with ParseID.
func ParseIDs(what string, raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := ParseID(what, r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseAssignments turns key=value pairs into an update document. Values
// that parse as JSON literals (true, 42, null) keep that type.
func ParseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", pair)
		}
		out[key] = literal(value)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one --set key=value is required")
	}
	return out, nil
}

func literal(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}

// ParseFilters turns key=value pairs into string filters.
func ParseFilters(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

// ReadSecret reads one line from in, printing prompt to out first.
func ReadSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(out, prompt)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no value provided")
	}
	return line, nil
}

// NewTable returns the tabwriter layout used by every listing.
func NewTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// RoleNames renders role references for a table cell.
func RoleNames(refs []sdk.RoleRef) string {
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		switch {
		case r.Slug != "":
			names = append(names, r.Slug)
		case r.Name != "":
			names = append(names, r.Name)
		default:
			names = append(names, strconv.FormatInt(r.ID, 10))
		}
	}
	return orDash(strings.Join(names, ", "))
}

// PermissionNames renders permissions for a table cell.
func PermissionNames(perms []sdk.Permission) string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		if p.Slug != "" {
			names = append(names, p.Slug)
		} else {
			names = append(names, p.Name)
		}
	}
	return orDash(strings.Join(names, ", "))
}

// PrintStats writes a two-column table of a statistics document, keys sorted.
func PrintStats(w io.Writer, stats sdk.Stats) error {
	tw := NewTable(w)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	for _, k := range slices.Sorted(maps.Keys(stats)) {
		fmt.Fprintf(tw, "%s\t%v\n", k, stats[k])
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
