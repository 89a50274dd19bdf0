package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rojolang/chesscoach-go/pkg/coach"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	apiKey     string
	endpoint   string
	jsonOutput bool
	imagePath  string
	testSecs   float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chesscoach",
		Short: "Chess screenshot coach",
		Long:  "Analyze chess board screenshots and talk the position through with a voice coach",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			coach.ConfigureGlobalLogger(loadConfig())
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the model provider")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Live websocket endpoint URL")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(coachCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(setupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the configuration from the environment, with flags taking precedence.
func loadConfig() *coach.CoachConfig {
	config := coach.NewCoachConfig()
	if apiKey != "" {
		config.APIKey = apiKey
	}
	if endpoint != "" {
		config.LiveEndpoint = endpoint
	}
	if verbose {
		config.DebugLevel = "DEBUG"
	}
	return config
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <image|->",
		Short: "Analyze a board screenshot",
		Long:  "Send a board screenshot to the model and print the suggested move. Use - to read the image, a data URL or base64 from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			analyzer := coach.NewAnalyzer(loadConfig())
			result, err := analyze(ctx, analyzer, args[0], cmd.InOrStdin())
			if err != nil {
				coach.GetGlobalLogger().WithError(err).Debugf("Analysis of %s failed", args[0])
				fmt.Fprintln(cmd.ErrOrStderr(), coach.UserMessage(err))
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return coach.RenderAnalysis(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the analysis as JSON")
	return cmd
}

func analyze(ctx context.Context, analyzer *coach.Analyzer, source string, stdin io.Reader) (*coach.AnalysisResult, error) {
	if source != "-" {
		return analyzer.AnalyzeFile(ctx, source)
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, coach.NewConfigError("cannot read stdin").AddDetail("error", err.Error())
	}
	return analyzer.Analyze(ctx, stdinImage(data))
}

// stdinImage accepts a data URL, bare base64 or raw image bytes.
func stdinImage(data []byte) string {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "data:") {
		return text
	}
	if _, err := coach.DecodeTextToBinary(text); err == nil {
		return text
	}
	return coach.EncodeDataURL(coach.DetectImageMIMEType(data), data)
}

func coachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coach",
		Short: "Talk to the voice coach",
		Long:  "Optionally analyze a screenshot, then press Enter to start or stop a voice session. Type q to quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			config := loadConfig()
			out := cmd.OutOrStdout()
			session := coach.NewRealtimeSession(config, coach.NewAudioConfig(), nil, nil)
			defer session.Stop()

			if imagePath != "" {
				fmt.Fprintln(out, "Analyzing board...")
				result, err := coach.NewAnalyzer(config).AnalyzeFile(ctx, imagePath)
				if err != nil {
					coach.GetGlobalLogger().WithError(err).Debugf("Analysis of %s failed", imagePath)
					fmt.Fprintln(cmd.ErrOrStderr(), coach.UserMessage(err))
				} else {
					_ = coach.RenderAnalysis(out, result)
					fmt.Fprintln(out)
					session.SetAnalysisContext(result)
				}
			}

			session.AddStateHandler(coach.CreateStatePrinter(out))
			session.AddTranscriptHandler(coach.CreateTranscriptPrinter(out))
			session.AddErrorHandler(coach.SequentialErrorHandlers(
				coach.CreateErrorLoggingHandler("Voice session failed"),
				coach.CreateErrorPrinter(cmd.ErrOrStderr()),
			))

			fmt.Fprintln(out, "Press Enter to talk to the coach, q to quit.")
			return runCoachLoop(ctx, session, cmd.InOrStdin(), out, config.TranscriptLines)
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Screenshot to analyze before the session")
	return cmd
}

func runCoachLoop(ctx context.Context, session *coach.RealtimeSession, in io.Reader, out io.Writer, transcriptLines int) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.ToLower(line) {
			case "q", "quit", "exit":
				return nil
			case "t", "transcript":
				fmt.Fprintf(out, "Session: %s, connection: %s\n", session.State(), session.ConnectionState())
				_ = coach.RenderTranscript(out, session.Transcript(), transcriptLines)
			default:
				// Toggle blocks while connecting; run it aside so Enter can cancel.
				go func() {
					if err := session.Toggle(ctx); err != nil {
						coach.GetGlobalLogger().WithError(err).Debugf("Toggle failed in state %s", session.State())
					}
				}()
			}
		}
	}
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
		Long:  "Commands for listing and testing audio devices",
	}

	cmd.AddCommand(devicesListCmd())
	cmd.AddCommand(devicesTestCmd())

	return cmd
}

func devicesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := coach.GetAllAudioDevices()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), coach.UserMessage(err))
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Audio Devices:")
			for _, device := range devices {
				marker := ""
				if device.IsDefaultInput {
					marker += " (Default Input)"
				}
				if device.IsDefaultOutput {
					marker += " (Default Output)"
				}
				fmt.Fprintf(out, "  %d: %s%s - %s (%.0f Hz)\n",
					device.ID, device.Name, marker, device.Capabilities(), device.DefaultSampleRate)
			}
			return nil
		},
	}

	return cmd
}

func devicesTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test [device-id]",
		Short: "Record briefly from an input device",
		Long:  "Record from an input device through the session capture path and report levels",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := coach.GetGlobalDeviceManager()
			if err := dm.Initialize(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), coach.UserMessage(err))
				return err
			}
			defer dm.Cleanup()

			deviceID, err := pickInputDevice(dm, args)
			if err != nil {
				return err
			}

			device, err := dm.GetDeviceByID(deviceID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nDevice Information:\n%s\n", device.DeviceInfo())

			duration := time.Duration(testSecs * float64(time.Second))
			fmt.Fprintf(out, "Recording for %.1f seconds, say something...\n", testSecs)
			result, err := dm.TestInputDevice(deviceID, coach.NewAudioConfig(), duration)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Device test failed: %v\n", err)
				return err
			}

			fmt.Fprintf(out, "Frames: %d\n", result.Frames)
			fmt.Fprintf(out, "Average RMS: %.4f\n", result.AvgRMS)
			fmt.Fprintf(out, "Peak RMS: %.4f\n", result.PeakRMS)
			if result.PeakRMS < 0.01 {
				fmt.Fprintln(out, "Very little signal. Check that the microphone is not muted.")
			}
			return nil
		},
	}

	cmd.Flags().Float64VarP(&testSecs, "duration", "d", 3.0, "Recording duration in seconds")
	return cmd
}

func pickInputDevice(dm *coach.AudioDeviceManager, args []string) (int, error) {
	if len(args) > 0 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid device id %q", args[0])
		}
		return id, nil
	}
	for _, device := range dm.GetInputDevices() {
		if device.IsDefaultInput {
			return device.ID, nil
		}
	}
	return 0, coach.NewMediaAcquisitionError("no default input device", nil)
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Setup and configuration commands",
	}

	cmd.AddCommand(setupConfigCmd())
	cmd.AddCommand(setupTestCmd())

	return cmd
}

func setupConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			config := loadConfig()
			config.PrintConfig(cmd.OutOrStdout())

			audioConfig := coach.NewAudioConfig()
			fmt.Fprintln(cmd.OutOrStdout(), "\nAudio:")
			fmt.Fprintf(cmd.OutOrStdout(), "  Input: %s, %d-frame blocks\n", audioConfig.InputMIMEType(), audioConfig.FrameSize)
			fmt.Fprintf(cmd.OutOrStdout(), "  Output: %s\n", coach.PCMMIMEType(audioConfig.OutputSampleRate))
		},
	}
}

func setupTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check configuration and audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			config := loadConfig()

			issues := config.Validate()
			if err := coach.ValidateAudioConfig(coach.NewAudioConfig()); err != nil {
				issues = append(issues, err.Error())
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "✗ %s\n", issue)
			}
			if len(issues) == 0 {
				fmt.Fprintln(out, "✓ Configuration looks good")
			}

			devices, err := coach.GetAllAudioDevices()
			if err != nil {
				fmt.Fprintf(out, "✗ Audio unavailable: %v\n", err)
				return nil
			}
			var inputs, outputs int
			for _, d := range devices {
				if d.IsInput() {
					inputs++
				}
				if d.IsOutput() {
					outputs++
				}
			}
			mark := func(n int) string {
				if n > 0 {
					return "✓"
				}
				return "✗"
			}
			fmt.Fprintf(out, "%s %d input device(s)\n", mark(inputs), inputs)
			fmt.Fprintf(out, "%s %d output device(s)\n", mark(outputs), outputs)
			return nil
		},
	}
}
