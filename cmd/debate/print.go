package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"debate_simulator/internal/model"
)

var (
	proColor    = color.New(color.FgGreen, color.Bold)
	conColor    = color.New(color.FgRed, color.Bold)
	systemColor = color.New(color.FgYellow)
)

func speakerColor(r model.SpeakerRole) *color.Color {
	switch r {
	case model.RolePro:
		return proColor
	case model.RoleCon:
		return conColor
	default:
		return systemColor
	}
}

func printArgument(w io.Writer, a model.Argument) {
	label := a.Speaker.Label()
	if a.IsUserArgument {
		label += "（你）"
	}
	fmt.Fprintf(w, "%s %s\n%s\n\n",
		speakerColor(a.Speaker).Sprintf("【%s】", label),
		color.HiBlackString(a.Timestamp.Local().Format("15:04:05")),
		strings.TrimSpace(a.Content))
}

func printVerdict(w io.Writer, out *model.JudgeOutput) {
	fmt.Fprintf(w, "%s\n", color.CyanString("== 评委裁决 =="))
	for _, r := range out.RoundSummaries {
		fmt.Fprintf(w, "第%d轮：%s\n", r.RoundNumber, r.Summary)
	}
	fmt.Fprintf(w, "\n%s\n\n", out.OverallSummary)
	printScores(w, model.RolePro, out.ProScores)
	printScores(w, model.RoleCon, out.ConScores)

	if side, ok := out.Winner(); ok {
		fmt.Fprintf(w, "\n%s %s胜出\n", color.GreenString("✓"), speakerColor(side.Role()).Sprint(side.Label()))
	} else {
		fmt.Fprintf(w, "\n%s 双方平局\n", color.YellowString("="))
	}
}

func printScores(w io.Writer, r model.SpeakerRole, s model.SpeakerScores) {
	d := s.Dimensions
	fmt.Fprintf(w, "%s 内容与论证 %.1f | 表达与技巧 %.1f | 反应与应变 %.1f | 气场 %.1f | 平均 %s\n",
		speakerColor(r).Sprint(r.Label()),
		d.ContentAndArgumentation, d.ExpressionAndTechnique, d.ReactionAndAdaptability, d.Presence,
		color.New(color.Bold).Sprintf("%.2f", s.Average))
}

func printUsage(w io.Writer, st *model.DebateState) {
	fmt.Fprintf(w, "%s prompt %d + candidates %d = %d tokens\n",
		color.HiBlackString("Σ"), st.PromptTokensUsed, st.CandidatesTokensUsed, st.TotalTokensUsed)
}

func printHistoryTable(w io.Writer, list []model.HistoricalDebateEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOPIC\tMODE\tTURNS\tTOKENS\tJUDGED\tSAVED")
	for _, e := range list {
		judged := "-"
		if e.JudgeOutputSnapshot != nil {
			judged = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.ID, e.Topic, e.GameMode, e.FinalTurnCount, e.FinalTotalTokensUsed, judged,
			e.LastSavedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}
