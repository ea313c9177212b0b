// =============================================================================
// 📦 测试数据工厂 - 圆桌 Agent 与回复样例
// =============================================================================
// 提供预定义的 Agent 与带工具标签的回复，用于测试
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/agentcircle/types"
)

// =============================================================================
// 🤖 Agent 工厂
// =============================================================================

// Marco 返回一个哲学家 Agent
func Marco() types.Agent {
	return types.Agent{
		ID:      "marco",
		Name:    "Marco",
		Backend: "static:echo",
		Persona: "Filosofo paziente, ama le domande aperte.",
	}
}

// Giulia 返回一个历史学家 Agent
func Giulia() types.Agent {
	return types.Agent{
		ID:      "giulia",
		Name:    "Giulia",
		Backend: "static:echo",
		Persona: "Storica precisa, cita sempre le fonti.",
	}
}

// Sofia 返回一个只允许发消息的诗人 Agent
func Sofia() types.Agent {
	return types.Agent{
		ID:           "sofia",
		Name:         "Sofia",
		Backend:      "static:echo",
		Persona:      "Poetessa, risponde per immagini.",
		Capabilities: []types.ToolName{types.ToolSiblingMessage},
	}
}

// Roundtable 返回三个 Agent 组成的圆桌
func Roundtable() []types.Agent {
	return []types.Agent{Marco(), Giulia(), Sofia()}
}

// =============================================================================
// 💬 回复工厂
// =============================================================================

// MessageTo 返回一条给 recipient 的私信回复
func MessageTo(recipient, body string) string {
	return fmt.Sprintf("Ne parlo a parte. [MESSAGGIO A %s]%s[/MESSAGGIO]", recipient, body)
}

// CandleTest 返回一条发起蜡烛测试的回复
func CandleTest() string {
	return "Facciamo una prova. [CANDLE TEST]Accendo la candela.[/CANDLE TEST]"
}

// LibrarySave 返回一条保存到图书馆的回复
func LibrarySave(title, body string) string {
	return fmt.Sprintf("Lo conservo. [SALVA IN BIBLIOTECA: %s]%s[/SALVA]", title, body)
}

// ShareMemory 返回一条共享记忆的回复
func ShareMemory(body string) string {
	return fmt.Sprintf("Da ricordare insieme. [CONDIVIDI RICORDO]%s[/CONDIVIDI]", body)
}

// ContactOperator 返回一条联系操作员的回复
func ContactOperator(operator, body string, urgent bool) string {
	tag := "CONTATTA " + operator
	if urgent {
		tag += " URGENTE"
	}
	return fmt.Sprintf("Serve aiuto. [%s]%s[/CONTATTA]", tag, body)
}
