package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/onexay/swiftpkgindex/internal/config"
	"github.com/onexay/swiftpkgindex/internal/service"
)

func newReconcileCommand(v *viper.Viper) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile <package-list>",
		Short: "Make the index track a package list file",
		Long: "Reads a package list (a JSON array of repository URLs or one URL per line)\n" +
			"and adds or removes packages so the index matches it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := readPackageList(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			svc, err := service.New(cmd.Context(), cfg, log.Logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.Reconcile(cmd.Context(), urls, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Diff != "" {
				fmt.Fprintln(out, result.Diff)
			}
			for _, raw := range result.Invalid {
				fmt.Fprintf(out, "invalid: %s\n", raw)
			}
			fmt.Fprintf(out, "added %d, removed %d", len(result.Added), len(result.Removed))
			if dryRun {
				fmt.Fprint(out, " (dry run)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report changes without applying them")
	return cmd
}

// readPackageList accepts a JSON array of URLs or a plain list with one URL
// per line; blank lines and lines starting with # are skipped.
func readPackageList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read package list").
			WithCause(err)
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var urls []string
		if err := json.Unmarshal(trimmed, &urls); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("package list is not a JSON array of strings").
				WithCause(err)
		}
		return urls, nil
	}

	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
