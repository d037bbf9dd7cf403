package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/wpcd/internal/auth"
	"github.com/davidahmann/wpcd/internal/plugins"
	"github.com/davidahmann/wpcd/internal/settings"
	"github.com/davidahmann/wpcd/pkg/types"
)

const (
	defaultAddr      = "http://localhost:8080"
	defaultNamespace = "/wpcd/v1"
)

func main() {
	exitFn(run(os.Args[1:], os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// exitError carries a non-default exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		if ee, ok := err.(*exitError); ok {
			return ee.code
		}
		return 1
	}
	return 0
}

type remote struct {
	addr      string
	namespace string
	token     string
	client    *http.Client
}

func (r *remote) url(path string) string {
	return strings.TrimRight(r.addr, "/") + "/" + strings.Trim(r.namespace, "/") + path
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	rem := &remote{client: http.DefaultClient}

	root := &cobra.Command{
		Use:           "wpcd",
		Short:         "Operate a wpcd gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&rem.addr, "addr", envOrDefault("WPCD_ADDR", defaultAddr), "gateway address")
	root.PersistentFlags().StringVar(&rem.namespace, "namespace", envOrDefault("WPCD_NAMESPACE", defaultNamespace), "REST namespace")
	root.PersistentFlags().StringVar(&rem.token, "token", envOrDefault("WPCD_TOKEN", os.Getenv("WPCD_DEV_TOKEN")), "bearer token")

	root.AddCommand(
		newPackagesCommand(rem),
		newPackageCommand(rem),
		newDefaultsCommand(rem),
		newDownloadCommand(rem),
		newRefreshCommand(rem),
		newTokenCommand(),
		newHashPasswordCommand(),
	)
	return root
}

func newPackagesCommand(rem *remote) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List published packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := rem.get("/packages")
			if err != nil {
				return err
			}
			if jsonOut {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			var list []types.PackageSummary
			if err := json.Unmarshal(body, &list); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			for _, p := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", p.ID, p.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON response")
	return cmd
}

func newPackageCommand(rem *remote) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "package <id>",
		Short: "Fetch the bundle of one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := rem.get("/package/" + args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				return writeIndented(cmd.OutOrStdout(), body)
			}
			if err := writeFile(outPath, body); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the bundle to a file instead of stdout")
	return cmd
}

func newDefaultsCommand(rem *remote) *cobra.Command {
	var licenses bool
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Show the global defaults every deployment receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := rem.get("/defaults")
			if err != nil {
				return err
			}
			if !licenses {
				return writeIndented(cmd.OutOrStdout(), body)
			}
			var d types.Defaults
			if err := json.Unmarshal(body, &d); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			keys := settings.ParseLicenseKeys(d.LicenseKeys)
			ids := make([]string, 0, len(keys))
			for id := range keys {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, keys[id])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&licenses, "licenses", false, "print parsed license keys, one per line")
	return cmd
}

// newDownloadCommand fetches a bundle and every plugin archive it names.
// Archives that are not built yet, or whose identity could escape --dir, are
// reported and skipped.
func newDownloadCommand(rem *remote) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a bundle and its plugin archives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := rem.get("/package/" + args[0])
			if err != nil {
				return err
			}
			var b types.Bundle
			if err := json.Unmarshal(body, &b); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			if err := writeFile(filepath.Join(dir, "bundle.json"), body); err != nil {
				return fmt.Errorf("write bundle: %w", err)
			}

			missing := 0
			for _, p := range b.Plugins {
				if !plugins.ValidIdentity(p.Identity) {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %q: not a plugin directory name\n", p.Identity)
					missing++
					continue
				}
				archive, status, err := httpGet(rem.client, p.DownloadURL, "")
				if err != nil {
					return err
				}
				if status != http.StatusOK {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: HTTP %d\n", p.Identity, status)
					missing++
					continue
				}
				target := filepath.Join(dir, p.Identity+".zip")
				if err := writeFile(target, archive); err != nil {
					return fmt.Errorf("write archive: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			}
			if missing > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d of %d archives unavailable", missing, len(b.Plugins))}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	return cmd
}

func newRefreshCommand(rem *remote) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild every plugin archive on the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/refresh"
			if noWait {
				path += "?wait=false"
			}
			body, status, err := httpDo(rem.client, http.MethodPost, rem.url(path), rem.token, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return &exitError{code: 1, msg: "refresh failed: " + strings.TrimSpace(string(body))}
			}
			var report types.RefreshReport
			if err := json.Unmarshal(body, &report); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requested=%d built=%d failed=%d\n", report.Requested, len(report.Built), len(report.Failed))
			for _, f := range report.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "failed %s: %s\n", f.Identity, f.Error)
			}
			if len(report.Failed) > 0 {
				return &exitError{code: 1, msg: "some archives failed"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "fail instead of queueing behind a running refresh")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		caps    []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.IssueToken([]byte(secret), issuer, subject, caps, time.Now(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("WPCD_JWT_SECRET"), "HMAC secret shared with the gateway")
	cmd.Flags().StringVar(&issuer, "issuer", auth.DefaultIssuer, "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&caps, "caps", []string{auth.CapEditPosts}, "granted capabilities")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash an application password for the gateway config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func (r *remote) get(path string) ([]byte, error) {
	body, status, err := httpGet(r.client, r.url(path), r.token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &exitError{code: 1, msg: fmt.Sprintf("request failed (HTTP %d): %s", status, strings.TrimSpace(string(body)))}
	}
	return body, nil
}

func writeIndented(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func writeFile(path string, contents []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, contents, 0o600)
}

func httpGet(client *http.Client, url string, token string) ([]byte, int, error) {
	return httpDo(client, http.MethodGet, url, token, nil)
}

func httpDo(client *http.Client, method, url, token string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}
