package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/compress"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/draft"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/engine"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/evidence"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

var (
	runTaskID   string
	runOperator string
)

var runCmd = &cobra.Command{
	Use:   "run <template.yaml>",
	Short: "Execute a template interactively in the terminal",
	Long: `run walks the template step by step, prompting for each step's evidence.

Commands at any prompt:
  :skip <reason>   skip an optional step, recording the reason
  :back            return to the previous step
  :quit            leave; progress stays in the draft cache for resume

Pass --task with a previous task id to resume an interrupted execution.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, err := sop.LoadTemplate(args[0])
		if err != nil {
			return err
		}
		store, err := draft.NewFileStore(cfg.DataDir)
		if err != nil {
			return err
		}

		task := sop.NewTask(tpl.ID, runOperator)
		if runTaskID != "" {
			task.ID = runTaskID
		}
		pipeline := compress.NewPipeline()
		if cfg.CompressionThreshold > 0 {
			pipeline.Threshold = cfg.CompressionThreshold
		}

		out := cmd.OutOrStdout()
		seq, err := engine.New(engine.Options{
			Task:        task,
			Template:    tpl,
			Drafts:      store,
			Compression: pipeline,
			Logger:      log.WithField("template_id", tpl.ID),
			OnComplete: func(_ context.Context, ev []sop.TaskEvidence) error {
				fmt.Fprintf(out, "recorded %d evidence item(s)\n", len(ev))
				return nil
			},
		})
		if err != nil {
			return err
		}
		if seq.Resumed() {
			fmt.Fprintf(out, "resumed task %s at step %d of %d\n", seq.TaskID(), seq.StepIndex()+1, seq.StepCount())
		} else {
			fmt.Fprintf(out, "started task %s\n", seq.TaskID())
		}

		return runLoop(cmd.Context(), seq, bufio.NewScanner(cmd.InOrStdin()), out)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTaskID, "task", "", "task id to resume")
	runCmd.Flags().StringVar(&runOperator, "operator", "", "operator starting the execution")
	rootCmd.AddCommand(runCmd)
}

func runLoop(ctx context.Context, seq *engine.Sequencer, in *bufio.Scanner, out io.Writer) error {
	for {
		step := seq.CurrentStep()
		fmt.Fprintf(out, "\n[%d/%d] %s\n", seq.StepIndex()+1, seq.StepCount(), step.Title)
		if step.Instructions != "" {
			fmt.Fprintln(out, step.Instructions)
		}
		if step.SafetyNotes != "" {
			fmt.Fprintln(out, "SAFETY:", step.SafetyNotes)
		}

		if step.EvidenceType == sop.EvidenceDualSignature {
			quit, err := promptSignatures(ctx, seq, in, out)
			if err != nil {
				return err
			}
			if quit {
				fmt.Fprintln(out, "progress saved; resume with --task", seq.TaskID())
				return nil
			}
			if !seq.AtFinalStep() {
				if _, err := seq.Advance(ctx); err != nil {
					return err
				}
			}
		} else {
			quit, err := promptEvidence(ctx, seq, step, in, out)
			if err != nil {
				return err
			}
			if quit {
				fmt.Fprintln(out, "progress saved; resume with --task", seq.TaskID())
				return nil
			}
		}

		if seq.AtFinalStep() {
			err := seq.Complete(ctx)
			switch {
			case err == nil:
				items, saved := seq.CompressionSavings()
				if items > 0 {
					fmt.Fprintf(out, "completed (%d item(s) compressed, %d bytes saved)\n", items, saved)
				} else {
					fmt.Fprintln(out, "completed")
				}
				return nil
			case errors.As(err, new(*engine.MissingEvidenceError)),
				errors.As(err, new(*engine.SignaturesMissingError)):
				// The operator must decide what to do next; re-entering the
				// loop without reading input would spin on an already
				// satisfied step.
				fmt.Fprintln(out, "cannot complete yet:", err)
				quit, cerr := promptCommand(ctx, seq, in, out)
				if cerr != nil {
					return cerr
				}
				if quit {
					fmt.Fprintln(out, "progress saved; resume with --task", seq.TaskID())
					return nil
				}
			default:
				return err
			}
		}
	}
}

// promptCommand reads navigation commands after a rejected completion, so the
// operator can revisit earlier steps or leave with progress saved.
func promptCommand(ctx context.Context, seq *engine.Sequencer, in *bufio.Scanner, out io.Writer) (quit bool, err error) {
	for {
		fmt.Fprint(out, "(:back to revisit, :quit to leave)> ")
		if !in.Scan() {
			return true, in.Err()
		}
		switch line := strings.TrimSpace(in.Text()); line {
		case ":quit":
			return true, nil
		case ":back":
			moved, err := seq.Retreat(ctx)
			if err != nil {
				return false, err
			}
			if moved {
				return false, nil
			}
			fmt.Fprintln(out, "already at the first step")
		default:
			fmt.Fprintf(out, "unknown command %q\n", line)
		}
	}
}

// promptEvidence reads one capture (or command) for the current step. It
// returns quit=true when the operator leaves the session.
func promptEvidence(ctx context.Context, seq *engine.Sequencer, step sop.SOPStep, in *bufio.Scanner, out io.Writer) (quit bool, err error) {
	for {
		fmt.Fprint(out, evidencePrompt(step))
		if !in.Scan() {
			return true, in.Err()
		}
		line := strings.TrimSpace(in.Text())

		switch {
		case line == ":quit":
			return true, nil
		case line == ":back":
			if moved, err := seq.Retreat(ctx); err != nil {
				return false, err
			} else if !moved {
				fmt.Fprintln(out, "already at the first step")
				continue
			}
			return false, nil
		case strings.HasPrefix(line, ":skip"):
			reason := strings.TrimSpace(strings.TrimPrefix(line, ":skip"))
			if _, err := seq.Skip(ctx, reason); err != nil {
				fmt.Fprintln(out, "cannot skip:", err)
				continue
			}
			return false, nil
		case line == "" && !step.EvidenceRequired:
			if _, err := seq.Advance(ctx); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			return false, nil
		}

		input, perr := buildInput(step, line)
		if perr != nil {
			fmt.Fprintln(out, perr)
			continue
		}
		res, serr := seq.SubmitEvidence(ctx, input)
		if serr != nil {
			fmt.Fprintln(out, "rejected:", serr)
			continue
		}
		if res.DraftError != nil {
			fmt.Fprintln(out, "warning: draft save failed:", res.DraftError)
		}
		if res.Branched {
			fmt.Fprintln(out, "-> branched to", res.BranchedTo)
		}
		return false, nil
	}
}

func evidencePrompt(step sop.SOPStep) string {
	switch step.EvidenceType {
	case sop.EvidenceNumeric:
		return "reading> "
	case sop.EvidenceCheckbox:
		return fmt.Sprintf("select (comma-separated from %s)> ", strings.Join(step.Options, ", "))
	case sop.EvidencePhoto, sop.EvidenceSignature:
		return "file path> "
	case sop.EvidenceQRScan:
		return "scan token> "
	default:
		return "note> "
	}
}

// buildInput turns one prompt line into validator input. Photo and signature
// steps take a file path and load its bytes.
func buildInput(step sop.SOPStep, line string) (evidence.Input, error) {
	switch step.EvidenceType {
	case sop.EvidenceCheckbox:
		var selections []string
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				selections = append(selections, part)
			}
		}
		return evidence.Input{Selections: selections}, nil
	case sop.EvidencePhoto, sop.EvidenceSignature:
		data, err := os.ReadFile(line)
		if err != nil {
			return evidence.Input{}, fmt.Errorf("reading %s: %w", line, err)
		}
		return evidence.Input{Payload: data}, nil
	default:
		return evidence.Input{Text: line}, nil
	}
}

// promptSignatures collects sign-off artifacts until the gate is satisfied.
// It returns quit=true when the operator leaves (:quit or exhausted input).
func promptSignatures(ctx context.Context, seq *engine.Sequencer, in *bufio.Scanner, out io.Writer) (quit bool, err error) {
	for {
		missing := seq.MissingRoles()
		if len(missing) == 0 {
			return false, nil
		}
		role := missing[0]
		fmt.Fprintf(out, "signature for role %q (signer id)> ", role)
		if !in.Scan() {
			return true, in.Err()
		}
		signer := strings.TrimSpace(in.Text())
		if signer == ":quit" {
			return true, nil
		}
		if signer == "" {
			continue
		}
		_, serr := seq.SubmitSignature(ctx, sop.SignatureArtifact{
			SignerID:   signer,
			SignerName: signer,
			Role:       role,
			Payload:    []byte(signer),
		})
		if serr != nil {
			fmt.Fprintln(out, "rejected:", serr)
		}
	}
}
