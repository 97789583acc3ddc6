package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"debate_simulator/internal/debate"
	"debate_simulator/internal/model"
)

type runOptions struct {
	topic   string
	human   bool
	resume  string
	turns   int
	noJudge bool
	noSave  bool
}

func GetRunCommand(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [topic]",
		Short: "Run a debate in the terminal",
		Long: `Runs a debate in the terminal until the turn limit is reached, then asks
the judge for a verdict. With --human you argue the PRO side yourself;
type your argument and press enter, or "quit" to stop early.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.topic = args[0]
			}
			if opts.topic == "" && opts.resume == "" {
				return errors.New("a topic or --resume <id> is required")
			}
			return runDebate(cmd.Context(), a, opts, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "Debate topic")
	cmd.Flags().BoolVar(&opts.human, "human", false, "Argue the PRO side yourself")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "Continue a debate from history")
	cmd.Flags().IntVarP(&opts.turns, "turns", "n", 0, "Override debate.max_turns")
	cmd.Flags().BoolVar(&opts.noJudge, "no-judge", false, "Skip the judge at the end")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not write the debate to history")
	return cmd
}

func runDebate(ctx context.Context, a *app, opts runOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	mopts := a.managerOptions()
	if opts.turns > 0 {
		mopts.MaxTurns = opts.turns
	}
	mopts.DisableAutosave = opts.noSave
	manager := a.newManager(st, mopts)
	defer manager.Close()

	var sess *debate.Session
	if opts.resume != "" {
		sess, err = manager.Resume(ctx, opts.resume)
	} else {
		mode := model.ModeAIvsAI
		if opts.human {
			mode = model.ModeHumanVsAI
		}
		sess, err = manager.Start(ctx, opts.topic, mode)
	}
	if err != nil {
		return err
	}

	state := sess.State()
	fmt.Fprintf(out, "Topic: %s\n", color.CyanString(state.Topic))
	fmt.Fprintf(out, "Mode: %s  ID: %s\n\n", state.GameMode(), color.HiBlackString(state.CurrentDebateID))
	for _, arg := range state.DebateLog {
		printArgument(out, arg)
	}

	if err := playTurns(ctx, sess, bufio.NewScanner(in), out); err != nil {
		return err
	}

	if !opts.noJudge {
		fmt.Fprintf(out, "%s 评委正在评判…\n\n", color.YellowString("⚡"))
		verdict, err := sess.Judge(ctx)
		if err != nil {
			fmt.Fprintf(out, "%s 评判失败: %v\n", color.RedString("✗"), err)
		} else {
			printVerdict(out, verdict)
		}
	}

	if err := sess.Stop(ctx); err != nil {
		return err
	}
	if opts.noSave {
		fmt.Fprintln(out)
	} else if _, err := sess.Save(ctx); err != nil {
		fmt.Fprintf(out, "\n%s %v\n", color.RedString("✗"), err)
	} else {
		fmt.Fprintf(out, "\n%s Saved to history as %s\n", color.GreenString("✓"), state.CurrentDebateID)
	}
	printUsage(out, sess.State())
	return nil
}

// playTurns alternates turns until the limit, the human quits, or ctx ends.
func playTurns(ctx context.Context, sess *debate.Session, scanner *bufio.Scanner, out io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if left, ok := sess.TurnsLeft(); ok && left == 0 {
			return nil
		}
		if sess.State().IsHumanTurn {
			fmt.Fprint(out, proColor.Sprint("你的发言 > "))
			if !scanner.Scan() {
				return nil
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "quit" || line == "exit" {
				return nil
			}
			arg, err := sess.SubmitHuman(ctx, line)
			switch {
			case errors.Is(err, debate.ErrContentTooShort), errors.Is(err, debate.ErrContentTooLong):
				fmt.Fprintf(out, "%s %v\n", color.YellowString("!"), err)
				continue
			case errors.Is(err, debate.ErrMaxTurns):
				return nil
			case err != nil:
				return err
			}
			printArgument(out, arg)
			continue
		}

		arg, err := sess.Advance(ctx)
		switch {
		case errors.Is(err, debate.ErrMaxTurns), errors.Is(err, debate.ErrNotActive):
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}
		printArgument(out, arg)
	}
}
