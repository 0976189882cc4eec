package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/dhcgn/receipt-watcher/config"
)

const archive = "From landlord@example.com Fri Mar  1 10:00:00 2024\n" +
	"From: landlord@example.com\n" +
	"Subject: Utility Bill\n" +
	"Message-Id: <bill-1@example.com>\n" +
	"\n" +
	"Electricity $120.00 due 2024-03-01\n" +
	"\n" +
	"From agent@example.com Sat Mar  2 10:00:00 2024\n" +
	"From: agent@example.com\n" +
	"Subject: Water Bill\n" +
	"Message-Id: <bill-2@example.com>\n" +
	"\n" +
	"Water $40.00 due 2024-03-02\n"

func fakeAnthropic(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		items := `[{"date":"2024-03-01","description":"Electricity","amount":-120,"category":"Utilities","property":"Main St"}]`
		if strings.Contains(req.Messages[0].Content, "Water") {
			items = `[{"date":"2024-03-02","description":"Water","amount":-40,"category":"Utilities","property":"Main St"}]`
		}
		resp := map[string]any{
			"content":     []map[string]string{{"type": "text", "text": "Here you go:\n```json\n" + items + "\n```"}},
			"stop_reason": "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := &cobra.Command{Use: "receipt-watcher", SilenceUsage: true}
	if err := config.RegisterFlags(root); err != nil {
		t.Fatal(err)
	}
	root.AddCommand(NewReplayCommand(), NewLedgerCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestReplayThenLedger(t *testing.T) {
	srv, calls := fakeAnthropic(t)
	dir := t.TempDir()
	mboxPath := filepath.Join(dir, "inbox.mbox")
	if err := os.WriteFile(mboxPath, []byte(archive), 0o600); err != nil {
		t.Fatal(err)
	}
	storeDSN := "jsonl:" + filepath.Join(dir, "store")
	common := []string{
		"--store", storeDSN,
		"--anthropic-api-key", "sk-test",
		"--anthropic-base-url", srv.URL,
		"--log-level", "error",
	}

	out := execute(t, append([]string{"replay", mboxPath}, common...)...)
	if !strings.Contains(out, "Processed 2 of 2 messages") || !strings.Contains(out, "2 ledger rows added") {
		t.Errorf("first replay output = %q", out)
	}

	out = execute(t, append([]string{"replay", mboxPath}, common...)...)
	if !strings.Contains(out, "Processed 0 of 2 messages (2 duplicates") {
		t.Errorf("second replay output = %q", out)
	}
	if *calls != 2 {
		t.Errorf("reasoning service calls = %d, want 2", *calls)
	}

	out = execute(t, "ledger", "--store", storeDSN, "--top", "1")
	for _, want := range []string{"Electricity", "-120.00", "Water", "2 rows", "1. Utilities (2)"} {
		if !strings.Contains(out, want) {
			t.Errorf("ledger output missing %q:\n%s", want, out)
		}
	}
}
