package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/apriltuesday/opentargets-pharmgkb/internal/consequence"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/coordinates"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/evidence"
	"github.com/apriltuesday/opentargets-pharmgkb/internal/ontology"
)

func newGenerateCmd() *cobra.Command {
	var (
		dataDir     string
		fastaPath   string
		outputPath  string
		createdDate string
		storePath   string
		workers     int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate evidence strings from downloaded PharmGKB tables",
		Long: `Generate reads the PharmGKB TSV tables from the data directory,
resolves genotypes against the reference genome FASTA, annotates them
through the Ensembl VEP API and writes evidence strings as JSON lines.`,
		Example: `  pgkb-evidence generate --data-dir data/ --fasta GRCh38.fa -o evidence.json
  pgkb-evidence generate --data-dir data/ --fasta GRCh38.fa -o evidence.json --store run.duckdb`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if dataDir == "" {
				dataDir = viper.GetString("data_dir")
			}
			if fastaPath == "" {
				fastaPath = viper.GetString("fasta")
			}
			if !cmd.Flags().Changed("output") && viper.IsSet("output") {
				outputPath = viper.GetString("output")
			}
			if storePath == "" {
				storePath = viper.GetString("store")
			}
			if workers == 0 {
				workers = viper.GetInt("workers")
			}
			if fastaPath == "" {
				return fmt.Errorf("a reference genome FASTA is required (--fasta or config)")
			}
			if createdDate == "" {
				createdDate = time.Now().UTC().Format("2006-01-02")
			}

			fasta, err := coordinates.OpenFasta(fastaPath)
			if err != nil {
				return fmt.Errorf("open reference genome: %w", err)
			}
			defer fasta.Close()

			predictor := consequence.NewEnsemblPredictor()
			predictor.SetLogger(logger)

			ont := ontology.NewClient()
			ont.SetLogger(logger)

			pipeline := evidence.NewPipeline(fasta, predictor, ont)
			pipeline.SetLogger(logger)
			pipeline.SetWorkers(workers)

			if storePath != "" {
				store, err := evidence.OpenStore(storePath)
				if err != nil {
					return fmt.Errorf("open store: %w", err)
				}
				defer store.Close()
				pipeline.SetStore(store)
			}

			return pipeline.Run(cmd.Context(), evidence.RunConfig{
				DataDir:     dataDir,
				OutputPath:  outputPath,
				CreatedDate: createdDate,
			})
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory with the PharmGKB TSV tables")
	cmd.Flags().StringVar(&fastaPath, "fasta", "", "Reference genome FASTA (GRCh38)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "evidence.json", "Output file for evidence strings")
	cmd.Flags().StringVar(&createdDate, "created-date", "", "PharmGKB release date used as datasourceVersion (default: today)")
	cmd.Flags().StringVar(&storePath, "store", "", "Optional DuckDB file for the run's intermediate tables")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent external API calls (default: number of CPUs)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
