package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"portal-gateway/internal/auth"
	"portal-gateway/internal/config"
	"portal-gateway/internal/engine"
	"portal-gateway/internal/identity"
	"portal-gateway/internal/metadata"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Inspect and exercise the portal access registries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRoutesCmd(),
		newFlagsCmd(),
		newModulesCmd(),
		newTokenCmd(),
		newCheckCmd(),
		newHashPasswordCmd(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRoutesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route registry with its requirements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, metadata.AllRoutes())
			}
			printRoutes(out, metadata.AllRoutes(), 0)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printRoutes(w io.Writer, routes []metadata.RouteConfig, depth int) {
	for _, r := range routes {
		fmt.Fprintf(w, "%s%s  %s\n", strings.Repeat("  ", depth), r.Path, describeRequirement(r.Requirement))
		printRoutes(w, r.Children, depth+1)
	}
}

func describeRequirement(req metadata.Requirement) string {
	if req.IsOpen() {
		return "(open)"
	}
	var parts []string
	if len(req.RequiredRoles) > 0 {
		parts = append(parts, "roles="+strings.Join(req.RequiredRoles, "|"))
	}
	if len(req.RequiredModules) > 0 {
		ids := make([]string, len(req.RequiredModules))
		for i, id := range req.RequiredModules {
			ids[i] = strconv.Itoa(id)
		}
		parts = append(parts, "modules="+strings.Join(ids, "|"))
	}
	if len(req.RequiredPermissions) > 0 {
		parts = append(parts, "permissions="+strings.Join(req.RequiredPermissions, "&"))
	}
	for _, a := range req.RequiredAttributes {
		parts = append(parts, fmt.Sprintf("attr %s %s %v", a.Key, a.Operator, a.Value))
	}
	if len(req.FeatureFlags) > 0 {
		parts = append(parts, "flags="+strings.Join(req.FeatureFlags, "&"))
	}
	if req.Condition != "" {
		parts = append(parts, "if "+req.Condition)
	}
	if req.StrictMode {
		parts = append(parts, "strict")
	}
	return strings.Join(parts, "; ")
}

func newFlagsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Print the feature flag registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, metadata.FeatureFlags())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tDEFAULT\tROLES\tPERMISSIONS\tDESCRIPTION")
			for _, key := range metadata.FeatureFlagKeys() {
				f, _ := metadata.GetFeatureFlag(key)
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", f.Key, f.DefaultValue,
					strings.Join(f.RequiredRoles, ","), strings.Join(f.RequiredPermissions, ","), f.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newModulesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Print the module directory in display order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			dir := metadata.DefaultModuleDirectory()
			if asJSON {
				return writeJSON(out, dir.All())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKEY\tNAME\tPATH\tDEFAULT")
			for _, m := range dir.All() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", m.ID, m.Key, m.Name, m.Path, m.IsDefault)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// secretFrom returns the explicit secret or the one from the configuration.
func secretFrom(secret, configPath string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return "", err
	}
	return cfg.Session.JWTSecret, nil
}

func newTokenCmd() *cobra.Command {
	var (
		sub, role, secret, configPath string
		moduleID                      int
		ttl                           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secretFrom(secret, configPath)
			if err != nil {
				return err
			}
			token, err := auth.GenerateAccessToken(sub, role, moduleID, ttl, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "current role name")
	cmd.Flags().IntVar(&moduleID, "module", 0, "current module id")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to session.jwt_secret)")
	cmd.Flags().StringVar(&configPath, "config", "", "config file")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var (
		userPath, path, policy string
		overrides              map[string]string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate route access and flags for a profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := readProfile(userPath)
			if err != nil {
				return err
			}
			lenient, ok := engine.ParseLenientPolicy(policy)
			if !ok {
				return fmt.Errorf("unknown policy %q", policy)
			}
			ov, err := parseOverrides(overrides)
			if err != nil {
				return err
			}

			ev := engine.NewEvaluator(nil, lenient, ov)
			route := metadata.FindRoute(path)
			result := struct {
				Path       string          `json:"path"`
				Registered bool            `json:"registered"`
				Allowed    bool            `json:"allowed"`
				Flags      map[string]bool `json:"flags"`
			}{
				Path:       path,
				Registered: route != nil,
				Allowed:    ev.VerifyRoute(user, route),
				Flags:      ev.EvaluateFlags(user),
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&userPath, "user", "", "profile JSON file")
	cmd.Flags().StringVar(&path, "path", "", "route path")
	cmd.Flags().StringVar(&policy, "policy", string(engine.LenientLiteral), "lenient policy: literal or any")
	cmd.Flags().StringToStringVar(&overrides, "override", nil, "flag overrides, e.g. ENABLE_ANALYTICS=true")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func readProfile(path string) (*metadata.User, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var u metadata.User
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := identity.ValidateProfile(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func parseOverrides(in map[string]string) (map[string]bool, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash a password for the local identity users file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := identity.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
