package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	appconfig "github.com/fpang/sceneweaver/internal/config"
	"github.com/fpang/sceneweaver/internal/generator"
	"github.com/fpang/sceneweaver/internal/logging"
	"github.com/fpang/sceneweaver/internal/media"
	"github.com/fpang/sceneweaver/internal/memory"
	"github.com/fpang/sceneweaver/internal/quality"
	"github.com/fpang/sceneweaver/internal/render"
	"github.com/fpang/sceneweaver/internal/store"
)

// CLI flags
var (
	sceneConfigFlag string
	jsonFlag        bool
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "sceneweaver",
	Short: "Memory-guided segmented video generation",
	Long: `Sceneweaver generates scene videos segment by segment through an external
render backend, chaining segments with anchor frames for continuity, scoring
each segment's quality, and feeding the scores back into future prompts.

Examples:
  sceneweaver initdb
  sceneweaver generate scene-7f3a --config scene.yaml
  sceneweaver analyze /renders/scene-7f3a_final.mp4`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Absent .env files are fine; the environment may be set
		// directly.
		_ = godotenv.Load()
		logging.Init()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <scene-id>",
	Short: "Generate a scene video from its stored state",
	Args:  cobra.ExactArgs(1),
	Run:   runGenerate,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video-path>",
	Short: "Score an existing video's frame consistency and motion smoothness",
	Args:  cobra.ExactArgs(1),
	Run:   runAnalyze,
}

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create the database schema",
	Run:   runInitDB,
}

func init() {
	generateCmd.Flags().StringVarP(&sceneConfigFlag, "config", "c", "", "Scene configuration YAML file")
	analyzeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(generateCmd, analyzeCmd, initdbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) {
	sceneID := args[0]
	ctx := context.Background()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	toolkit, err := media.NewToolkit()
	if err != nil {
		log.Fatal().Err(err).Msg("Media toolkit unavailable")
	}

	if err := cfg.ValidateRender(); err != nil {
		log.Fatal().Err(err).Msg("Invalid render configuration")
	}
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize render backend")
	}

	var genCfg generator.Config
	if sceneConfigFlag != "" {
		genCfg, err = generator.LoadConfig(sceneConfigFlag)
		if err != nil {
			log.Fatal().Err(err).Str("path", sceneConfigFlag).Msg("Failed to load scene config")
		}
	}
	if genCfg.Workdir == "" {
		genCfg.Workdir = cfg.Workdir
	}

	gen := generator.New(st, memory.New(st), backend,
		quality.NewAnalyzer(toolkit, quality.DefaultConfig()), toolkit, genCfg)

	result, err := gen.GenerateScene(ctx, sceneID)
	if err != nil {
		log.Fatal().Err(err).Str("sceneId", sceneID).Msg("Scene generation aborted")
	}
	if !result.Success {
		log.Error().Str("sceneId", sceneID).Int("segments", len(result.Segments)).Msg("Scene generation failed")
		os.Exit(1)
	}

	fmt.Printf("Scene %s complete: %s (%d segments, %.0fs, quality %.2f)\n",
		sceneID, result.FinalVideoPath, len(result.Segments),
		result.TotalDuration.Seconds(), result.AverageQuality)
}

func runAnalyze(cmd *cobra.Command, args []string) {
	videoPath := args[0]
	ctx := context.Background()

	toolkit, err := media.NewToolkit()
	if err != nil {
		log.Fatal().Err(err).Msg("Media toolkit unavailable")
	}

	analyzer := quality.NewAnalyzer(toolkit, quality.DefaultConfig())
	report, err := analyzer.AnalyzeVideo(ctx, videoPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", videoPath).Msg("Analysis failed")
	}

	if jsonFlag {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to encode report")
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Frames analyzed:    %d\n", report.FrameCount)
	fmt.Printf("Frame consistency:  %.3f\n", report.FrameConsistency)
	fmt.Printf("Motion smoothness:  %.3f\n", report.MotionSmoothness)
	fmt.Printf("Overall:            %.3f\n", report.Overall)
	if report.Degraded {
		fmt.Println("Note: analysis degraded to neutral scores")
	}
}

func runInitDB(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	if err := store.InitSchema(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("Schema initialization failed")
	}
	log.Info().Msg("Database schema ready")
}

// buildBackend creates the configured render backend.
func buildBackend(ctx context.Context, cfg *appconfig.Config) (render.Backend, error) {
	switch cfg.RenderBackend {
	case appconfig.BackendVeo:
		return render.NewVeoBackend(ctx, cfg.GeminiAPIKey, cfg.VeoModel, cfg.Workdir)
	default:
		return render.NewHTTPClient(cfg.RenderEndpoint), nil
	}
}
