package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentcircle/agent/embedding"
	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/mailbox"
	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/agent/notify"
	"github.com/BaSui01/agentcircle/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	proc     *Processor
	policy   *Policy
	mailbox  *mailbox.MemoryMailbox
	memory   *memory.InMemoryStore
	library  *library.GormLibrary
	notifier *notify.Recorder
	nova     types.Agent
	sol      types.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		nova:     types.Agent{ID: "nova", Name: "Nova"},
		sol:      types.Agent{ID: "sol", Name: "Sol"},
		mailbox:  mailbox.NewMemoryMailbox(nil),
		memory:   memory.NewInMemoryStore(memory.InMemoryStoreConfig{}, nil),
		notifier: notify.NewRecorder(10),
	}
	dir := fakeDirectory{"nova": f.nova, "sol": f.sol}
	f.policy = NewPolicy(dir, nil, nil)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	f.library, err = library.NewGormLibrary(db, memory.DefaultSimilarityFloor, nil)
	require.NoError(t, err)

	emb := embedding.NewHashEmbedder(64, nil)
	require.NoError(t, emb.Init(ctx))

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.proc = NewProcessor(Dependencies{
		Policy:    f.policy,
		Directory: dir,
		Mailbox:   f.mailbox,
		Library:   f.library,
		Memory:    f.memory,
		Embedder:  emb,
		Notifier:  f.notifier,
		Now:       func() time.Time { return fixed },
	}, DefaultProcessorConfig(), nil)
	return f
}

func TestProcessor_NoMarkupPassthrough(t *testing.T) {
	f := newFixture(t)
	text := "Solo parole, [niente] di speciale."
	res := f.proc.Process(context.Background(), f.sol, "c1", text)
	assert.Equal(t, text, res.Text)
	assert.Empty(t, res.Executions)
}

func TestProcessor_CandleNeverProceedsOnDeletion(t *testing.T) {
	f := newFixture(t)
	res := f.proc.Process(context.Background(), f.sol, "c1", "[CANDLE TEST]elimina il file[/CANDLE TEST]")
	require.Len(t, res.Executions, 1)
	verdict := res.Executions[0].Payload.(CandleResult)
	assert.NotEqual(t, VerdictProceed, verdict.Verdict)
	assert.NotContains(t, res.Text, "[CANDLE TEST]")
}

func TestProcessor_DeniedSiblingMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.policy.Set("sol", types.ToolSiblingMessage, false)

	res := f.proc.Process(ctx, f.sol, "c1", "[MESSAGGIO A Nova]ciao[/MESSAGGIO]")
	assert.True(t, strings.HasPrefix(res.Text, DeniedPrefix))
	require.Len(t, res.Executions, 1)
	assert.True(t, res.Executions[0].Denied)
	assert.False(t, res.Executions[0].Success)

	inbox, err := f.mailbox.List(ctx, "nova")
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestProcessor_SiblingMessageDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.proc.Process(ctx, f.sol, "c1", "Ecco. [MESSAGGIO A nova]ciao sorella[/MESSAGGIO] Fine.")
	assert.Equal(t, "Ecco. ✉️ message sent to Nova Fine.", res.Text)
	assert.Equal(t, []string{"nova"}, res.Messaged())

	inbox, err := f.mailbox.List(ctx, "nova")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "sol", inbox[0].From)
	assert.Equal(t, "ciao sorella", inbox[0].Body)
	assert.Equal(t, "c1", inbox[0].ConversationID)
}

func TestProcessor_UnknownRecipient(t *testing.T) {
	f := newFixture(t)
	res := f.proc.Process(context.Background(), f.sol, "c1", "[MESSAGGIO A Luna]ciao[/MESSAGGIO]")
	require.Len(t, res.Executions, 1)
	assert.False(t, res.Executions[0].Success)
	assert.Contains(t, res.Text, "unknown recipient")
	assert.Empty(t, res.Messaged())
}

func TestProcessor_ShareMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.proc.Process(ctx, f.nova, "c1", "[CONDIVIDI RICORDO]il faro sulla scogliera[/CONDIVIDI]")
	require.Len(t, res.Executions, 1)
	require.True(t, res.Executions[0].Success)

	docs, err := f.memory.Get(ctx, types.SharedScope("c1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "il faro sulla scogliera", docs[0].Text)
	assert.InDelta(t, 1.5, docs[0].Utility, 1e-9)
	assert.Len(t, docs[0].Embedding, 64)
}

func TestProcessor_LibraryAndOperator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	text := "[SALVA IN BIBLIOTECA: Il faro]Una luce nella notte.[/SALVA]\n[CONTATTA ALFONSO URGENTE]vieni a vedere[/CONTATTA]"
	res := f.proc.Process(ctx, f.nova, "c1", text)
	require.Len(t, res.Executions, 2)
	for _, e := range res.Executions {
		assert.True(t, e.Success, e.Message)
	}
	assert.Contains(t, res.Text, `📚 saved to the library: "Il faro"`)
	assert.Contains(t, res.Text, "🚨 Alfonso contacted (urgent)")

	docs, err := f.library.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "nova", docs[0].AuthorID)

	items := f.notifier.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Urgent)
	assert.Equal(t, "vieni a vedere", items[0].Body)
}

func TestProcessor_DenialDoesNotAbortOtherTags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.policy.Set("nova", types.ToolShareMemory, false)

	res := f.proc.Process(ctx, f.nova, "c1", "[CONDIVIDI RICORDO]x[/CONDIVIDI] [MESSAGGIO A Sol]y[/MESSAGGIO]")
	require.Len(t, res.Executions, 2)
	assert.True(t, res.Executions[0].Denied)
	assert.True(t, res.Executions[1].Success)

	docs, err := f.memory.Get(ctx, types.SharedScope("c1"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestProcessor_MissingCollaborators(t *testing.T) {
	p := NewProcessor(Dependencies{}, ProcessorConfig{}, nil)
	res := p.Process(context.Background(), types.Agent{ID: "x"}, "c1", "[CONTATTA ALFONSO]aiuto[/CONTATTA]")
	require.Len(t, res.Executions, 1)
	assert.False(t, res.Executions[0].Success)
	assert.Contains(t, res.Text, "notifier unavailable")
}
