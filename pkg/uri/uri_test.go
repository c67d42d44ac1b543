package uri_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p-sternik/codeindex/pkg/uri"
)

func TestNewNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want uri.URI
	}{
		{"unix path unchanged", "/home/user/a.go", "/home/user/a.go"},
		{"backslashes to forward slashes", `C:\Users\dev\a.go`, "c:/Users/dev/a.go"},
		{"drive letter lowercased", `D:\x.go`, "d:/x.go"},
		{"already lowercase drive", `d:/x.go`, "d:/x.go"},
		{"no drive letter untouched", "relative/path.go", "relative/path.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, uri.New(tt.in))
		})
	}
}

func TestNewIsIdempotent(t *testing.T) {
	t.Parallel()

	raw := `C:\Users\dev\a.go`
	once := uri.New(raw)
	twice := uri.New(string(once))

	assert.Equal(t, once, twice)
}

func TestNewEquatesDistinctSpellings(t *testing.T) {
	t.Parallel()

	a := uri.New(`C:\x\y.go`)
	b := uri.New(`c:/x/y.go`)

	assert.Equal(t, a, b)
}
