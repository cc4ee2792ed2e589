package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/leadwatch/internal/cfg"
	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/llm/claude"
	"github.com/linnemanlabs/leadwatch/internal/llm/openai"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
	"github.com/linnemanlabs/leadwatch/internal/pipeline/memstore"
	"github.com/linnemanlabs/leadwatch/internal/pipeline/redisstore"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		ID:                 "01JREPORT",
		PersistenceEnabled: true,
		Persist:            pipeline.PersistStats{Inserted: 1},
		Events: []lead.Event{{
			Article: lead.RawArticle{
				Title: "Acme raised $10M in Series A",
				Link:  "https://techcrunch.com/acme",
			},
			Company:    "Acme",
			Category:   lead.CategoryFunding,
			Source:     "TechCrunch",
			Resolution: lead.ResolvedByCompletion,
		}},
	}
}

func TestPrintReport_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printReport(&buf, sampleReport(), vc.OutputText); err != nil {
		t.Fatalf("printReport: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[funding] Acme: Acme raised $10M in Series A", "https://techcrunch.com/acme", "01JREPORT"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintReport_TextEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printReport(&buf, &pipeline.Report{}, vc.OutputText); err != nil {
		t.Fatalf("printReport: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "no trigger events found" {
		t.Errorf("output = %q", got)
	}
}

func TestPrintReport_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printReport(&buf, sampleReport(), vc.OutputJSON); err != nil {
		t.Fatalf("printReport: %v", err)
	}
	var got []lead.Event
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, buf.String())
	}
	if len(got) != 1 || got[0].Company != "Acme" || got[0].Category != lead.CategoryFunding {
		t.Errorf("events = %+v", got)
	}

	buf.Reset()
	if err := printReport(&buf, &pipeline.Report{}, vc.OutputJSON); err != nil {
		t.Fatalf("printReport: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("empty output = %q, want []", got)
	}
}

func TestLoadRegistry(t *testing.T) {
	t.Parallel()

	reg, err := loadRegistry("")
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	if reg.Len() == 0 {
		t.Fatal("default registry is empty")
	}

	path := filepath.Join(t.TempDir(), "sources.yaml")
	doc := `sources:
  - name: Example
    url: https://example.com
    selectors:
      articles: article
      title: h2 a
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err = loadRegistry(path)
	if err != nil {
		t.Fatalf("file registry: %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "Example" {
		t.Errorf("names = %v", names)
	}

	if _, err := loadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestNewCompleter(t *testing.T) {
	t.Parallel()

	c := &vc.Config{CompletionProvider: vc.ProviderOpenAI, OpenAIModel: "gpt-4o-mini"}
	if got := newCompleter(c); got != nil {
		t.Errorf("no key: completer = %T, want nil", got)
	}

	c.OpenAIAPIKey = "sk-o"
	if _, ok := newCompleter(c).(*openai.Client); !ok {
		t.Errorf("openai: completer = %T", newCompleter(c))
	}

	c.CompletionProvider = vc.ProviderClaude
	if got := newCompleter(c); got != nil {
		t.Errorf("claude without key: completer = %T, want nil", got)
	}
	c.ClaudeAPIKey = "sk-c"
	c.ClaudeModel = "claude-haiku-4-5"
	if _, ok := newCompleter(c).(*claude.Client); !ok {
		t.Errorf("claude: completer = %T", newCompleter(c))
	}
}

func TestNewLimiter(t *testing.T) {
	t.Parallel()

	if newLimiter(0) != nil || newLimiter(-1) != nil {
		t.Error("non-positive rate should be unlimited")
	}
	l := newLimiter(2)
	if l == nil || l.Limit() != 2 || l.Burst() != 1 {
		t.Errorf("limiter = %+v", l)
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	st, closeFn, err := openStore(ctx, &vc.Config{Store: vc.StoreNone}, log.Nop())
	if err != nil || st != nil || closeFn == nil {
		t.Errorf("none: store=%v err=%v", st, err)
	}
	closeFn()

	st, closeFn, err = openStore(ctx, &vc.Config{Store: vc.StoreAuto}, log.Nop())
	if err != nil || st != nil {
		t.Errorf("auto without urls: store=%v err=%v", st, err)
	}
	closeFn()

	st, closeFn, err = openStore(ctx, &vc.Config{Store: vc.StoreMemory}, log.Nop())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := st.(*memstore.Store); !ok {
		t.Errorf("memory: store = %T", st)
	}
	closeFn()
}

func TestOpenStore_Redis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	c := &vc.Config{Store: vc.StoreAuto, RedisURL: "redis://" + mr.Addr() + "/0", RedisPrefix: "lw:"}

	st, closeFn, err := openStore(context.Background(), c, log.Nop())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*redisstore.Store); !ok {
		t.Fatalf("store = %T, want redis", st)
	}

	rec := &lead.Record{CompanyName: "Acme", SourceURL: "https://example.com/a", DetectedAt: time.Now()}
	if err := st.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(mr.Keys()) == 0 || !strings.HasPrefix(mr.Keys()[0], "lw:") {
		t.Errorf("keys = %v, want lw: prefix", mr.Keys())
	}
}

func TestOpenStore_Unreachable(t *testing.T) {
	t.Parallel()

	c := &vc.Config{Store: vc.StorePostgres, DatabaseURL: "not a url ::"}
	if _, closeFn, err := openStore(context.Background(), c, log.Nop()); err == nil {
		t.Error("bad postgres url: expected error")
	} else {
		closeFn()
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, *pipeline.Report) error {
	r.calls++
	return r.err
}

func TestNotifiers_FanOut(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{err: errors.New("slack down")}
	b := &recordingNotifier{}
	err := notifiers{a, b}.Notify(context.Background(), sampleReport())
	if err == nil || !strings.Contains(err.Error(), "slack down") {
		t.Errorf("err = %v, want slack error", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d/%d, want every notifier called once", a.calls, b.calls)
	}
}

func TestNewNotifier(t *testing.T) {
	t.Parallel()

	n, err := newNotifier(context.Background(), &vc.Config{}, log.Nop())
	if err != nil || n != nil {
		t.Errorf("none configured: notifier=%v err=%v", n, err)
	}

	n, err = newNotifier(context.Background(), &vc.Config{SlackWebhookURL: "https://hooks.slack.invalid/x"}, log.Nop())
	if err != nil {
		t.Fatalf("slack: %v", err)
	}
	if ns, ok := n.(notifiers); !ok || len(ns) != 1 {
		t.Errorf("slack: notifier = %#v", n)
	}
}

func TestWaitFunc(t *testing.T) {
	t.Parallel()

	if err := waitFunc(func() {})(context.Background()); err != nil {
		t.Errorf("immediate wait: %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := waitFunc(func() { <-block })(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("blocked wait: err = %v, want deadline exceeded", err)
	}
}
