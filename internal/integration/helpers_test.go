package integration

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/Aman-CERP/fundrag/internal/app"
	"github.com/Aman-CERP/fundrag/internal/chunk"
	"github.com/Aman-CERP/fundrag/internal/config"
	"github.com/Aman-CERP/fundrag/internal/index"
	"github.com/Aman-CERP/fundrag/internal/oracle"
	"github.com/Aman-CERP/fundrag/internal/ui"
)

const prospectusText = `# 第一节 基金费用

本基金的管理费按前一日基金资产净值的1.5%年费率计提。托管费按0.25%年费率计提。

# 第二节 基金托管人

基金托管人为中国建设银行股份有限公司，住所位于北京市西城区。
`

const noticeText = `关于基金经理变更的公告

自2024年5月1日起，张三担任本基金基金经理。
`

// scriptedModel answers each oracle from the facts found in its prompt.
type scriptedModel struct {
	mu    sync.Mutex
	calls map[string]int
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{calls: map[string]int{}}
}

func (m *scriptedModel) count(oracle string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[oracle]
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var system, user string
	for _, msg := range messages {
		text, _ := msg.Parts[0].(llms.TextContent)
		if msg.Role == llms.ChatMessageTypeSystem {
			system = text.Text
		} else {
			user = text.Text
		}
	}

	var name, reply string
	switch {
	case strings.Contains(system, "检索评估员"):
		name, reply = "relevance", "5"
	case strings.Contains(system, "章节分类器"):
		name, reply = "classifier", classify(user)
	case strings.Contains(system, "合并"):
		name, reply = "fusion", answerFrom(user)
	default:
		name, reply = "answer", answerFrom(user)
	}

	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// classify picks the sections whose title mentions fees.
func classify(prompt string) string {
	ids := []string{}
	for _, line := range strings.Split(prompt, "\n") {
		id, title, ok := strings.Cut(line, ": ")
		if ok && strings.Contains(title, "费用") {
			ids = append(ids, id)
		}
	}
	data, _ := json.Marshal(map[string][]string{"sections": ids})
	return string(data)
}

// answerFrom answers from the retrieved content in prompt, but only when it
// holds the fact the question asks for.
func answerFrom(prompt string) string {
	question, content, _ := strings.Cut(prompt, "\n")
	var answer, source string
	switch {
	case strings.Contains(question, "管理费") && strings.Contains(content, "1.5%"):
		answer, source = "本基金管理费年费率为1.5%，托管费年费率为0.25%。", "fund-a-prospectus"
	case strings.Contains(question, "基金经理") && strings.Contains(content, "张三"):
		answer, source = "自2024年5月1日起，张三担任本基金基金经理。", "fund-a-notice"
	default:
		return `{"answer": "根据检索内容无法找到相关信息", "sources": []}`
	}
	data, _ := json.Marshal(map[string]any{"answer": answer, "sources": []string{source}})
	return string(data)
}

// project is an on-disk documents directory with an opened App.
type project struct {
	cfg   *config.Config
	app   *app.App
	model *scriptedModel
}

func newProject(t *testing.T, docs map[string]string) *project {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Paths.DataDir = filepath.Join(root, ".fundrag")
	cfg.Paths.DocumentsDir = filepath.Join(root, "documents")
	cfg.Embeddings.Dimensions = 64
	require.NoError(t, os.MkdirAll(cfg.Paths.DocumentsDir, 0o755))
	for name, text := range docs {
		writeDoc(t, cfg, name, text)
	}

	model := newScriptedModel()
	a, err := app.Open(context.Background(), cfg,
		app.WithModelFactory(func(oracle.Config) (llms.Model, error) { return model, nil }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &project{cfg: cfg, app: a, model: model}
}

func writeDoc(t *testing.T, cfg *config.Config, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.DocumentsDir, name), []byte(text), 0o644))
}

// ingest runs one quiet ingest pass.
func (p *project) ingest(ctx context.Context, t *testing.T, prune bool) *index.RunnerResult {
	t.Helper()
	res, err := p.runIngest(ctx, prune)
	require.NoError(t, err)
	return res
}

func (p *project) runIngest(ctx context.Context, prune bool) (*index.RunnerResult, error) {
	renderer := ui.NewRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true), ui.WithNoColor(true)))
	if err := renderer.Start(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = renderer.Stop() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Engine:   p.app.Engine,
		Parser:   chunk.NewParser(chunk.Options{ChunkSize: p.cfg.Ingest.ChunkSize}),
	})
	if err != nil {
		return nil, err
	}
	res, err := runner.Run(ctx, index.RunnerConfig{
		DocumentsDir: p.cfg.Paths.DocumentsDir,
		DataDir:      p.cfg.Paths.DataDir,
		Prune:        prune,
	})
	if err != nil {
		return nil, err
	}
	p.app.Resolver.Invalidate()
	return res, nil
}
