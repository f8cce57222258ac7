package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/pipeline"
)

var (
	resolveDomain   string
	resolveURL      string
	resolveHTMLFile string
	resolveSourceID string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a single domain to its legal entity",
	Long:  "Reads a website dump (file or stdin), runs the full resolution pipeline, and prints the processing result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		html, err := readHTML(resolveHTMLFile)
		if err != nil {
			return err
		}

		env, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Runner.Resolve(ctx, pipeline.Request{
			Domain:   resolveDomain,
			URL:      resolveURL,
			HTML:     html,
			SourceID: resolveSourceID,
		})
		if err != nil && !eris.Is(err, pipeline.ErrNoClaims) {
			return eris.Wrap(err, "resolve")
		}
		if eris.Is(err, pipeline.ErrNoClaims) {
			zap.L().Warn("no claims produced for domain", zap.String("domain", resolveDomain))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// readHTML loads the dump from path, or from stdin when path is "-" or empty.
func readHTML(path string) (string, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", eris.Wrap(err, "read html from stdin")
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrap(err, "read html file")
	}
	return string(raw), nil
}

func init() {
	resolveCmd.Flags().StringVar(&resolveDomain, "domain", "", "domain to resolve (required)")
	resolveCmd.Flags().StringVar(&resolveURL, "url", "", "page URL the dump was taken from")
	resolveCmd.Flags().StringVar(&resolveHTMLFile, "html", "", "path to the HTML dump ('-' or empty for stdin)")
	resolveCmd.Flags().StringVar(&resolveSourceID, "source-id", "", "external source identifier")
	_ = resolveCmd.MarkFlagRequired("domain")
	rootCmd.AddCommand(resolveCmd)
}
