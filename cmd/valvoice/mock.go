package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valvoice/backend/internal/mock"
)

var (
	mockInterval  time.Duration
	mockFatalCode int
	mockLoop      bool
	mockSelfID    string
)

var mockCmd = &cobra.Command{
	Use:   "mock-interceptor",
	Short: "Emit a scripted interceptor session on stdout",
	Long: `mock-interceptor writes the JSON lines a real interceptor would print
for a short chat session. Point interceptor.executable at a wrapper that
runs it to exercise the whole pipeline without the game client.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gen := mock.NewGenerator(os.Stdout, mock.Options{
			Interval:  mockInterval,
			FatalCode: mockFatalCode,
			Loop:      mockLoop,
			SelfID:    mockSelfID,
		})
		if err := gen.Run(ctx); err != nil {
			return err
		}
		if mockFatalCode == 0 && !mockLoop {
			// Stay alive like the real interceptor until told to stop.
			<-ctx.Done()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mockCmd)
	mockCmd.Flags().DurationVar(&mockInterval, "interval", 200*time.Millisecond, "Pause between records")
	mockCmd.Flags().IntVar(&mockFatalCode, "fatal", 0, "Emit a fatal error with this code instead of a session")
	mockCmd.Flags().BoolVar(&mockLoop, "loop", false, "Keep chatting after the script ends")
	mockCmd.Flags().StringVar(&mockSelfID, "self-id", mock.DefaultSelfID, "Subject of the mock auth token")
}
