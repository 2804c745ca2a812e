package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sakif/mercado-insights/internal/textutil"
)

// MaxExamples is how many prior approvals are shown to the model.
const MaxExamples = 5

const (
	exampleQuestionLimit = 300
	exampleAnswerLimit   = 500
)

const draftSystemPrompt = `Você é um assistente de atendimento de um vendedor do Mercado Livre Brasil.
Responda perguntas de compradores em português, de forma cordial, objetiva e curta (no máximo 3 frases).
Não invente informações que não estejam no título do anúncio ou nos exemplos.
Não inclua links, telefones, e-mails ou convites para negociar fora do Mercado Livre.
Quando não souber a resposta, diga que vai verificar e retornar em breve.`

// Example is a question the seller already answered.
type Example struct {
	Question string
	Answer   string
}

type DraftRequest struct {
	ItemTitle string
	Question  string
	// Examples are most-recent-first; only the first MaxExamples are used.
	Examples []Example
}

// DraftAnswer asks the model for a suggested answer to a buyer question.
func (c *Client) DraftAnswer(ctx context.Context, req DraftRequest) (string, error) {
	return c.Complete(ctx, draftSystemPrompt, BuildDraftPrompt(req))
}

// BuildDraftPrompt renders the user prompt for DraftAnswer.
func BuildDraftPrompt(req DraftRequest) string {
	var b strings.Builder

	examples := req.Examples
	if len(examples) > MaxExamples {
		examples = examples[:MaxExamples]
	}
	if len(examples) > 0 {
		b.WriteString("Exemplos de respostas aprovadas pelo vendedor (siga o mesmo estilo):\n\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "Exemplo %d\nPergunta: %s\nResposta: %s\n\n",
				i+1,
				textutil.Truncate(ex.Question, exampleQuestionLimit),
				textutil.Truncate(ex.Answer, exampleAnswerLimit),
			)
		}
	}

	if title := strings.TrimSpace(req.ItemTitle); title != "" {
		fmt.Fprintf(&b, "Anúncio: %s\n", title)
	}
	fmt.Fprintf(&b, "Pergunta do comprador: %s\n\n", strings.TrimSpace(req.Question))
	b.WriteString("Escreva apenas o texto da resposta, sem saudações repetidas nem assinatura.")

	return b.String()
}
