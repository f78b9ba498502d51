package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

// errAcquisitionFailed makes the process exit non-zero after the failure
// record has been printed.
var errAcquisitionFailed = errors.New("acquisition failed")

type acquireFlags struct {
	noticeID      string
	sourceURL     string
	skipDiscovery bool
	skipHeadless  bool
	out           string
}

func newAcquireCmd() *cobra.Command {
	var flags acquireFlags
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Acquires the DCE of one notice and prints the JSON record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAcquire(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.noticeID, "notice-id", "", "notice identifier (required)")
	cmd.Flags().StringVar(&flags.sourceURL, "url", "", "notice or buyer-platform URL (required)")
	cmd.Flags().BoolVar(&flags.skipDiscovery, "skip-discovery", false, "skip the third-party discovery tier")
	cmd.Flags().BoolVar(&flags.skipHeadless, "skip-headless", false, "skip the headless browser tier")
	cmd.Flags().StringVar(&flags.out, "out", "", "write the JSON record to this file instead of stdout")
	_ = cmd.MarkFlagRequired("notice-id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runAcquire(cmd *cobra.Command, flags acquireFlags) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(cmd.Context()); cerr != nil {
			appInstance.Logger().Warn("close application failed", zap.Error(cerr))
		}
	}()

	record, procErr := appInstance.Acquirer().Process(cmd.Context(), worker.Job{
		NoticeID:  flags.noticeID,
		SourceURL: flags.sourceURL,
		Options: acquisition.Options{
			SkipExpensiveDiscovery: flags.skipDiscovery,
			SkipHeadlessWorker:     flags.skipHeadless,
		},
	})
	if record.ID == "" && procErr != nil {
		return fmt.Errorf("acquire %s: %w", flags.noticeID, procErr)
	}
	if procErr != nil {
		appInstance.Logger().Warn("acquisition persisted partially", zap.Error(procErr))
	}

	var w io.Writer = cmd.OutOrStdout()
	if flags.out != "" {
		f, createErr := os.Create(flags.out)
		if createErr != nil {
			return fmt.Errorf("create %s: %w", flags.out, createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", flags.out, cerr)
			}
		}()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if record.Status != store.RecordSucceeded {
		return fmt.Errorf("%w: %s", errAcquisitionFailed, record.ErrorMessage)
	}
	return nil
}
