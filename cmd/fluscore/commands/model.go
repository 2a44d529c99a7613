package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/fluscore/internal/contracts"
)

// modelCmd represents the model command
var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage the model registry",
}

var modelAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a model with its scoring function and terms",
	Long: `Registers a model, its scoring function and its search terms.

Terms are taken from --terms (comma separated) and/or --terms-file (one per line).

Example:
  go run ./cmd/fluscore model add --name "Google v2018.07" --function fluModel \
    --window 7 --ci --public --default --terms-file terms.txt`,
	RunE: runModelAdd,
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models",
	RunE:  runModelList,
}

var (
	modelName      string
	modelSource    string
	modelFunction  string
	modelWindow    int
	modelCI        bool
	modelPublic    bool
	modelDefault   bool
	modelRegionID  string
	modelTerms     string
	modelTermsFile string
)

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelAddCmd)
	modelCmd.AddCommand(modelListCmd)

	modelAddCmd.Flags().StringVar(&modelName, "name", "", "model name (required)")
	modelAddCmd.Flags().StringVar(&modelSource, "source", "google", "source type")
	modelAddCmd.Flags().StringVar(&modelFunction, "function", "", "scoring function name (required)")
	modelAddCmd.Flags().IntVar(&modelWindow, "window", 1, "moving average window in days, 1 for raw observations")
	modelAddCmd.Flags().BoolVar(&modelCI, "ci", false, "the function returns a confidence interval")
	modelAddCmd.Flags().BoolVar(&modelPublic, "public", false, "list the model in the public API")
	modelAddCmd.Flags().BoolVar(&modelDefault, "default", false, "make it the default model")
	modelAddCmd.Flags().StringVar(&modelRegionID, "region-id", "", "external region code")
	modelAddCmd.Flags().StringVar(&modelTerms, "terms", "", "comma separated search terms")
	modelAddCmd.Flags().StringVar(&modelTermsFile, "terms-file", "", "file with one search term per line")
	modelAddCmd.MarkFlagRequired("name")
	modelAddCmd.MarkFlagRequired("function")
}

// readTerms merges the inline and file terms, skipping blanks
func readTerms(inline, path string) ([]string, error) {
	var terms []string
	for _, t := range strings.Split(inline, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open terms file: %w", err)
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if t := strings.TrimSpace(sc.Text()); t != "" {
				terms = append(terms, t)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read terms file: %w", err)
		}
	}
	return terms, nil
}

func runModelAdd(cmd *cobra.Command, args []string) error {
	terms, err := readTerms(modelTerms, modelTermsFile)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return fmt.Errorf("a model needs at least one term")
	}
	if modelWindow < 1 {
		return fmt.Errorf("--window must be at least 1")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	id, err := a.store.CreateModel(ctx, contracts.Model{
		Name:        modelName,
		SourceType:  modelSource,
		IsPublic:    modelPublic,
		IsDisplayed: modelPublic,
		RegionID:    modelRegionID,
		Function: &contracts.ScoringFunction{
			FunctionName:          modelFunction,
			AverageWindowSize:     modelWindow,
			HasConfidenceInterval: modelCI,
		},
	}, terms)
	if err != nil {
		return err
	}

	if modelDefault {
		if err := a.store.SetDefaultModel(ctx, id); err != nil {
			return err
		}
	}

	PrintSuccess(fmt.Sprintf("Model #%d %q registered with %d terms", id, modelName, len(terms)))
	return nil
}

func runModelList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	models, err := a.store.Models(ctx, false)
	if err != nil {
		return err
	}
	def, _ := a.store.DefaultModelID(ctx)

	widths := []int{4, 28, 16, 7, 4, 7, 8}
	PrintTableHeader([]string{"ID", "NAME", "FUNCTION", "WINDOW", "CI", "PUBLIC", "DEFAULT"}, widths)
	for _, m := range models {
		fn, window, ci := "-", "-", "-"
		if m.Function != nil {
			fn = m.Function.FunctionName
			window = strconv.Itoa(m.Function.AverageWindowSize)
			ci = strconv.FormatBool(m.Function.HasConfidenceInterval)
		}
		isDefault := ""
		if m.ID == def {
			isDefault = "*"
		}
		PrintTableRow([]string{
			strconv.Itoa(m.ID), m.Name, fn, window, ci, strconv.FormatBool(m.IsPublic), isDefault,
		}, widths)
	}
	return nil
}
