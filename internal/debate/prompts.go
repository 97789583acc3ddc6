package debate

import (
	"fmt"

	"debate_simulator/internal/llm"
	"debate_simulator/internal/model"
)

func speakerSystemPrompt(topic string, side model.Side) string {
	stance := "支持"
	if side == model.SideCon {
		stance = "反对"
	}
	return fmt.Sprintf(`你是本场辩论的%s辩手。

辩题：%s
你的立场：%s该辩题。

要求：
1. 始终坚持你的立场，不要倒戈或和稿。
2. 每次发言控制在 300 字以内，论点清晰，有理有据。
3. 针对对方的最新发言进行反驳，同时推进自己的论证。
4. 直接输出发言内容，不要加称呼、标题或舞台说明。`, side.Label(), topic, stance)
}

func openingPrompt(topic string) string {
	return fmt.Sprintf("辩论开始。请就辩题「%s」发表你的立论陈词。", topic)
}

func rebuttalPrompt(opponent model.Argument, firstTurn bool) string {
	if firstTurn {
		return fmt.Sprintf("对方%s刚刚发言：\n\n%s\n\n这是你的第一次发言，请先立论，再回应对方的观点。",
			opponent.Speaker.Label(), opponent.Content)
	}
	return fmt.Sprintf("对方%s刚刚发言：\n\n%s\n\n请针对以上内容进行反驳。", opponent.Speaker.Label(), opponent.Content)
}

// turnPrompt is what the side's chat is sent when it is due to speak, given
// the log so far.
func turnPrompt(topic string, side model.Side, log []model.Argument) string {
	spoken := false
	var opponent *model.Argument
	for i := range log {
		switch log[i].Speaker {
		case side.Role():
			spoken = true
		case side.Opponent().Role():
			opponent = &log[i]
		}
	}
	if opponent == nil {
		return openingPrompt(topic)
	}
	return rebuttalPrompt(*opponent, !spoken)
}

// replayHistory rebuilds the conversation a side's chat would have had, so a
// resumed session continues where it left off.
func replayHistory(topic string, side model.Side, log []model.Argument) []llm.Message {
	var history []llm.Message
	for i, a := range log {
		if a.Speaker != side.Role() {
			continue
		}
		history = append(history,
			llm.Message{Content: turnPrompt(topic, side, log[:i])},
			llm.Message{FromModel: true, Content: a.Content},
		)
	}
	return history
}
