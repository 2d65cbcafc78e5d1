package pgxconn

import "testing"

func TestRewritePlaceholders(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"SELECT 1", "SELECT 1"},
		{"INSERT INTO t (a) VALUES ('literal with a ? inside')", "INSERT INTO t (a) VALUES ('literal with a ? inside')"},
		{"SELECT ? WHERE x = '?' AND y = ?", "SELECT $1 WHERE x = '?' AND y = $2"},
	}

	for _, c := range cases {
		got := rewritePlaceholders(c.in)
		if got != c.want {
			t.Errorf("rewritePlaceholders(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
