package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/voice-render/internal/core"
	"github.com/book-expert/voice-render/internal/worker"
	"github.com/spf13/cobra"
)

const waitPoll = 500 * time.Millisecond

// ErrServiceUnavailable indicates a health reply other than ok.
var ErrServiceUnavailable = errors.New("render service is not healthy")

func newSubmitCommand(flags *globalFlags) *cobra.Command {
	var (
		consent  bool
		tier     string
		target   string
		mimeType string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit an audio file for rendering",
		Long: `Submit an audio file for rendering.

The speaker's consent must be confirmed with --consent; without it the
service refuses the submission and no job is created.

The file is uploaded to the --audio-bucket object store and the request
names the upload, so recordings larger than a NATS message are accepted.

Example:
  render-client submit take-1.wav --consent --pitch 3 --speed 1.2 --wait`,
		Args: cobra.ExactArgs(1),
	}

	parameters := addParameterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&consent, "consent", false, "confirm the speaker consented to processing")
	cmd.Flags().StringVar(&tier, "tier", "", "account tier: free or pro")
	cmd.Flags().StringVar(&target, "target", "", "identity the render should sound like")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (guessed from the extension when empty)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job to finish")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		if mimeType == "" {
			mimeType = mimeForPath(path)
		}

		sess, err := connect(flags)
		if err != nil {
			return err
		}
		defer sess.Close()

		client, err := sess.submitClient()
		if err != nil {
			return err
		}

		ctx, cancel := sess.requestContext()
		defer cancel()

		jobID, err := client.Submit(ctx, worker.SubmitRequest{
			Audio:            data,
			MIMEType:         mimeType,
			Filename:         path,
			TargetIdentity:   target,
			Parameters:       parameters.raw(cmd.Flags()),
			ConsentConfirmed: consent,
			Tier:             tier,
		})
		if err != nil {
			sess.log.Error("Submit of %s failed: %v", path, err)

			return fmt.Errorf("submit failed: %w", err)
		}

		sess.log.Info("Submitted %s as job %s", path, jobID)
		fmt.Fprintln(cmd.OutOrStdout(), jobID)

		if !wait {
			return nil
		}

		job, err := waitForJob(cmd, sess, jobID)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))

		return nil
	}

	return cmd
}

func waitForJob(cmd *cobra.Command, sess *session, jobID string) (core.RenderJob, error) {
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		ctx, cancel := sess.requestContext()
		job, err := sess.client().Status(ctx, jobID)
		cancel()

		if err != nil {
			return core.RenderJob{}, fmt.Errorf("status of %s: %w", jobID, err)
		}

		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ticker.C:
		case <-cmd.Context().Done():
			return core.RenderJob{}, cmd.Context().Err()
		}
	}
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the state of a render job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := connect(flags)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := sess.requestContext()
			defer cancel()

			job, err := sess.client().Status(ctx, args[0])
			if err != nil {
				return fmt.Errorf("status failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))

			return nil
		},
	}
}

func newFetchCommand(flags *globalFlags) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "fetch JOB_ID",
		Short: "Download the output of a completed job",
		Long: `Download the output of a completed job from the NATS object store.

Example:
  render-client fetch 2f1c... -o converted.wav`,
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "converted.wav", "output file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		sess, err := connect(flags)
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := sess.requestContext()
		defer cancel()

		job, err := sess.client().Status(ctx, args[0])
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}

		if job.Status != core.StatusCompleted || job.OutputAsset == nil {
			return fmt.Errorf("%w: job %s is %s", core.ErrNotCompleted, job.ID, job.Status)
		}

		store, err := sess.assets()
		if err != nil {
			return err
		}

		data, err := store.Download(ctx, job.OutputAsset.Key)
		if err != nil {
			return err
		}

		err = os.WriteFile(outputPath, data, 0o600)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", outputPath, err)
		}

		sess.log.Info("Fetched job %s output to %s (%d bytes)", job.ID, outputPath, len(data))
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", outputPath, formatSize(int64(len(data))))

		return nil
	}

	return cmd
}

func newHealthCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the service can render",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := connect(flags)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := sess.requestContext()
			defer cancel()

			reply, err := sess.client().Health(ctx)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			if reply.Status != worker.HealthOK {
				return fmt.Errorf("%w: %s", ErrServiceUnavailable, reply.Detail)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Render service is healthy")

			return nil
		},
	}
}
