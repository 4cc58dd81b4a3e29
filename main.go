package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kwv/cacaomap/plot"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile   string
	parcelFile   string
	parcelURL    string
	renderFormat string
	outputFile   string
	jitterDelta  float64
)

var rootCmd = &cobra.Command{
	Use:     "cacaomap",
	Short:   "Derive cacao crop units and plants from field telemetry",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: reading .env: %v", err)
		}
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and MQTT ingestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := openApp(ctx, configFile)
		if err != nil {
			return err
		}
		app.Start()
		app.StartMQTT()

		srv := newHTTPServer(app)
		addr := fmt.Sprintf("0.0.0.0:%d", app.Config.HTTP.Port)
		go func() {
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()

		fmt.Printf("cacaomap %s running (db %s)\n", Version, app.Config.DatabasePath)
		if app.MQTTClient != nil {
			fmt.Printf("  MQTT telemetry: %s\n", app.Config.MQTT.TelemetryTopic)
			fmt.Printf("  MQTT summaries: %s\n", app.Publisher.Topic())
		}
		fmt.Println("Press Ctrl+C to stop")

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
		return app.Close()
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <readings.json|readings.xlsx>",
	Short: "Run the pipeline once over a telemetry file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx, configFile)
		if err != nil {
			return err
		}
		app.Start()
		defer app.Close()

		result, err := app.IngestFile(ctx, args[0])
		if err != nil {
			printFailure(cmd.ErrOrStderr(), err)
			return err
		}
		printRunSummary(cmd.OutOrStdout(), result)
		return nil
	},
}

var importParcelsCmd = &cobra.Command{
	Use:   "import-parcels",
	Short: "Load parcel boundaries from a GeoJSON file or feed URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx, configFile)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.ImportParcels(ctx, parcelFile, parcelURL)
		if err != nil {
			printFailure(cmd.ErrOrStderr(), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d parcels\n", n)
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the active generation to SVG or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx, configFile)
		if err != nil {
			return err
		}
		defer app.Close()

		out := outputFile
		if out == "" {
			out = "cacaomap." + renderFormat
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		if err := app.RenderMap(ctx, f, renderFormat); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
		return nil
	},
}

var jitterCmd = &cobra.Command{
	Use:   "jitter <id>",
	Short: "Print the display offset for an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, lng := plot.Jitter(args[0], jitterDelta)
		fmt.Fprintf(cmd.OutOrStdout(), "latOffset=%g lngOffset=%g\n", lat, lng)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to configuration file")

	importParcelsCmd.Flags().StringVar(&parcelFile, "file", "", "GeoJSON FeatureCollection of parcels")
	importParcelsCmd.Flags().StringVar(&parcelURL, "url", "", "URL of a parcel GeoJSON feed")
	importParcelsCmd.MarkFlagsMutuallyExclusive("file", "url")
	importParcelsCmd.MarkFlagsOneRequired("file", "url")

	renderCmd.Flags().StringVar(&renderFormat, "format", "svg", "Output format: svg or png")
	renderCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default cacaomap.<format>)")

	jitterCmd.Flags().Float64Var(&jitterDelta, "delta", 0.0001, "Maximum offset in degrees")

	rootCmd.AddCommand(serveCmd, ingestCmd, importParcelsCmd, renderCmd, jitterCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
