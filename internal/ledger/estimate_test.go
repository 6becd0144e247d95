package ledger

import "testing"

func TestEstimateTokens(t *testing.T) {
	t.Run("empty string", func(t *testing.T) {
		count, err := EstimateTokens("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("count = %d, want 0", count)
		}
	})

	t.Run("non-empty text", func(t *testing.T) {
		count, err := EstimateTokens("Hello, world! This is a test sentence.")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count <= 0 {
			t.Errorf("count = %d, want > 0", count)
		}
	})

	t.Run("longer text has more tokens", func(t *testing.T) {
		short := EstimateTokensSimple("word")
		long := EstimateTokensSimple("a considerably longer sentence with many more words in it")
		if long <= short {
			t.Errorf("long = %d, short = %d, want long > short", long, short)
		}
	})
}

func TestEstimateHistory(t *testing.T) {
	l := New()
	if got := l.EstimateHistory(); got != 0 {
		t.Errorf("empty ledger estimate = %d, want 0", got)
	}

	l.AppendUser("how do I write a web server in Go")
	l.OpenAssistant()
	l.AppendDelta("Use net/http. Start with http.ListenAndServe.")
	l.CloseAssistant()

	total := l.EstimateHistory()
	if total <= 0 {
		t.Errorf("estimate = %d, want > 0", total)
	}

	sum := 0
	for _, msg := range l.Messages() {
		sum += EstimateTokensSimple(msg.Content)
	}
	if total != sum {
		t.Errorf("estimate = %d, want per-message sum %d", total, sum)
	}
}
